package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// userColumns is the set of user columns a sync run may write. Attribute
// mapping rules name target columns directly, so everything outside this set
// is rejected before it reaches SQL.
var userColumns = map[string]bool{
	"email":        true,
	"first_name":   true,
	"last_name":    true,
	"display_name": true,
	"job_title":    true,
	"department":   true,
	"manager":      true,
	"phone":        true,
	"avatar_url":   true,
	"role":         true,
	"is_active":    true,
}

// ErrUnknownColumn is returned when an update names a column outside the
// writable set.
var ErrUnknownColumn = errors.New("unknown user column")

// IsUserColumn reports whether col is a writable user column. Attribute
// mapping rules are validated against this set when saved.
func IsUserColumn(col string) bool {
	return userColumns[col]
}

// Store persists internal users, groups and memberships.
type Store interface {
	CreateUser(ctx context.Context, orgID string, attrs map[string]interface{}) (string, error)
	UpdateUser(ctx context.Context, orgID, id string, attrs map[string]interface{}) error
	GetUser(ctx context.Context, orgID, id string) (User, error)
	GetUserByEmail(ctx context.Context, orgID, email string) (User, error)
	DeactivateUser(ctx context.Context, orgID, id string) error

	CreateGroup(ctx context.Context, orgID, name, description string) (string, error)
	UpdateGroup(ctx context.Context, orgID, id, name, description string) error
	GetGroup(ctx context.Context, orgID, id string) (Group, error)
	DeleteGroup(ctx context.Context, orgID, id string) error

	ReplaceUserGroups(ctx context.Context, userID string, groupIDs []string) error
}

type store struct {
	db *sqlx.DB
}

// NewStore creates a directory store backed by Postgres.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) CreateUser(ctx context.Context, orgID string, attrs map[string]interface{}) (string, error) {
	cols := []string{"org_id", "directory_synced"}
	args := []interface{}{orgID, true}

	for _, col := range sortedKeys(attrs) {
		if !userColumns[col] {
			return "", fmt.Errorf("%w: %s", ErrUnknownColumn, col)
		}
		cols = append(cols, col)
		args = append(args, attrs[col])
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO users (%s) VALUES (%s) RETURNING id`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var id string
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *store) UpdateUser(ctx context.Context, orgID, id string, attrs map[string]interface{}) error {
	if len(attrs) == 0 {
		return nil
	}

	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	for _, col := range sortedKeys(attrs) {
		if !userColumns[col] {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, col)
		}
		args = append(args, attrs[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, id, orgID)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d AND org_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *store) GetUser(ctx context.Context, orgID, id string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		`SELECT id, org_id, email, first_name, last_name, display_name, job_title,
		        department, manager, phone, avatar_url, role, is_active,
		        directory_synced, deactivated_at, created_at, updated_at
		 FROM users WHERE id = $1 AND org_id = $2`, id, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (s *store) GetUserByEmail(ctx context.Context, orgID, email string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		`SELECT id, org_id, email, first_name, last_name, display_name, job_title,
		        department, manager, phone, avatar_url, role, is_active,
		        directory_synced, deactivated_at, created_at, updated_at
		 FROM users WHERE email = $1 AND org_id = $2`, email, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// DeactivateUser marks the user inactive and removes all group memberships in
// one transaction. The row and its identity mappings survive so the user can
// be reactivated by a later sync.
func (s *store) DeactivateUser(ctx context.Context, orgID, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET is_active = false, deactivated_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM scim_group_members WHERE user_id = $1`, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *store) CreateGroup(ctx context.Context, orgID, name, description string) (string, error) {
	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO scim_groups (org_id, name, description) VALUES ($1, $2, $3) RETURNING id`,
		orgID, name, description).Scan(&id)
	return id, err
}

func (s *store) UpdateGroup(ctx context.Context, orgID, id, name, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scim_groups SET name = $1, description = $2, updated_at = NOW()
		 WHERE id = $3 AND org_id = $4`, name, description, id, orgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (s *store) GetGroup(ctx context.Context, orgID, id string) (Group, error) {
	var g Group
	err := s.db.GetContext(ctx, &g,
		`SELECT id, org_id, name, description, created_at, updated_at
		 FROM scim_groups WHERE id = $1 AND org_id = $2`, id, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	return g, err
}

// DeleteGroup removes the group and its memberships in one transaction.
func (s *store) DeleteGroup(ctx context.Context, orgID, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM scim_group_members WHERE group_id = $1`, id)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM scim_groups WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGroupNotFound
	}

	return tx.Commit()
}

// ReplaceUserGroups swaps the user's memberships for the given set. The
// delete and reinserts share a transaction so readers never observe a
// half-replaced membership list.
func (s *store) ReplaceUserGroups(ctx context.Context, userID string, groupIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM scim_group_members WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}

	for _, groupID := range groupIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scim_group_members (group_id, user_id) VALUES ($1, $2)`,
			groupID, userID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// sortedKeys keeps generated SQL deterministic for a given attribute set.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
