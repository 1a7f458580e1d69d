package dirsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store persists identity mappings, attribute mapping rules and sync logs.
type Store interface {
	// Identity mappings. One row per (connection, external id) linking a
	// provider record to an internal one.
	GetUserMapping(ctx context.Context, connectionID, externalID string) (string, error)
	ListUserMappings(ctx context.Context, connectionID string) (map[string]string, error)
	CreateUserMapping(ctx context.Context, connectionID, externalID, userID string) error
	DeleteUserMapping(ctx context.Context, connectionID, externalID string) error

	GetGroupMapping(ctx context.Context, connectionID, externalID string) (string, error)
	ListGroupMappings(ctx context.Context, connectionID string) (map[string]string, error)
	CreateGroupMapping(ctx context.Context, connectionID, externalID, groupID string) error
	DeleteGroupMapping(ctx context.Context, connectionID, externalID string) error

	// Attribute mapping rules.
	ListAttributeMappings(ctx context.Context, connectionID string) ([]AttributeMapping, error)
	CreateAttributeMapping(ctx context.Context, m AttributeMapping) (string, error)
	DeleteAttributeMapping(ctx context.Context, connectionID, id string) error

	// Sync logs.
	InsertSyncLog(ctx context.Context, log SyncLog) error
	ListSyncLogs(ctx context.Context, connectionID string, limit int) ([]SyncLog, error)
	LastDeltaLink(ctx context.Context, connectionID string) (string, error)
}

type store struct {
	db *sqlx.DB
}

// NewStore creates a sync store backed by Postgres.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) GetUserMapping(ctx context.Context, connectionID, externalID string) (string, error) {
	return s.getMapping(ctx, "directory_user_mappings", "user_id", connectionID, externalID)
}

func (s *store) ListUserMappings(ctx context.Context, connectionID string) (map[string]string, error) {
	return s.listMappings(ctx, "directory_user_mappings", "user_id", connectionID)
}

func (s *store) CreateUserMapping(ctx context.Context, connectionID, externalID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directory_user_mappings (connection_id, external_id, user_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (connection_id, external_id) DO UPDATE SET user_id = EXCLUDED.user_id`,
		connectionID, externalID, userID)
	return err
}

func (s *store) DeleteUserMapping(ctx context.Context, connectionID, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM directory_user_mappings WHERE connection_id = $1 AND external_id = $2`,
		connectionID, externalID)
	return err
}

func (s *store) GetGroupMapping(ctx context.Context, connectionID, externalID string) (string, error) {
	return s.getMapping(ctx, "directory_group_mappings", "group_id", connectionID, externalID)
}

func (s *store) ListGroupMappings(ctx context.Context, connectionID string) (map[string]string, error) {
	return s.listMappings(ctx, "directory_group_mappings", "group_id", connectionID)
}

func (s *store) CreateGroupMapping(ctx context.Context, connectionID, externalID, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directory_group_mappings (connection_id, external_id, group_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (connection_id, external_id) DO UPDATE SET group_id = EXCLUDED.group_id`,
		connectionID, externalID, groupID)
	return err
}

func (s *store) DeleteGroupMapping(ctx context.Context, connectionID, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM directory_group_mappings WHERE connection_id = $1 AND external_id = $2`,
		connectionID, externalID)
	return err
}

func (s *store) getMapping(ctx context.Context, table, idCol, connectionID, externalID string) (string, error) {
	var internalID string
	err := s.db.GetContext(ctx, &internalID,
		fmt.Sprintf(`SELECT %s FROM %s WHERE connection_id = $1 AND external_id = $2`, idCol, table),
		connectionID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMappingNotFound
	}
	return internalID, err
}

func (s *store) listMappings(ctx context.Context, table, idCol, connectionID string) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx,
		fmt.Sprintf(`SELECT external_id, %s FROM %s WHERE connection_id = $1`, idCol, table),
		connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := make(map[string]string)
	for rows.Next() {
		var externalID, internalID string
		if err := rows.Scan(&externalID, &internalID); err != nil {
			return nil, err
		}
		mappings[externalID] = internalID
	}
	return mappings, rows.Err()
}

func (s *store) ListAttributeMappings(ctx context.Context, connectionID string) ([]AttributeMapping, error) {
	var mappings []AttributeMapping
	err := s.db.SelectContext(ctx, &mappings,
		`SELECT id, connection_id, source_attribute, target_attribute,
		        COALESCE(transform_function, '') AS transform_function,
		        COALESCE(condition, '') AS condition,
		        is_required, created_at
		 FROM directory_attribute_mappings
		 WHERE connection_id = $1
		 ORDER BY created_at`, connectionID)
	return mappings, err
}

func (s *store) CreateAttributeMapping(ctx context.Context, m AttributeMapping) (string, error) {
	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO directory_attribute_mappings
		 (connection_id, source_attribute, target_attribute, transform_function, condition, is_required)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		 RETURNING id`,
		m.ConnectionID, m.SourceAttribute, m.TargetAttribute,
		m.TransformFunction, m.Condition, m.IsRequired).Scan(&id)
	return id, err
}

func (s *store) DeleteAttributeMapping(ctx context.Context, connectionID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM directory_attribute_mappings WHERE id = $1 AND connection_id = $2`,
		id, connectionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *store) InsertSyncLog(ctx context.Context, log SyncLog) error {
	errs, err := json.Marshal(log.Errors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO directory_sync_logs
		 (connection_id, sync_type, status, users_synced, groups_synced, errors, delta_link, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		log.ConnectionID, log.SyncType, log.Status, log.UsersSynced, log.GroupsSynced,
		errs, log.DeltaLink, log.DurationMS)
	return err
}

func (s *store) ListSyncLogs(ctx context.Context, connectionID string, limit int) ([]SyncLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, connection_id, sync_type, status, users_synced, groups_synced,
		        errors, COALESCE(delta_link, '') AS delta_link, duration_ms, created_at
		 FROM directory_sync_logs
		 WHERE connection_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []SyncLog
	for rows.Next() {
		var (
			log     SyncLog
			rawErrs []byte
		)
		if err := rows.Scan(&log.ID, &log.ConnectionID, &log.SyncType, &log.Status,
			&log.UsersSynced, &log.GroupsSynced, &rawErrs, &log.DeltaLink,
			&log.DurationMS, &log.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawErrs) > 0 {
			if err := json.Unmarshal(rawErrs, &log.Errors); err != nil {
				return nil, err
			}
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// LastDeltaLink returns the cursor from the most recent incremental run that
// produced one, or "" when no such run has been logged yet. Failed runs log a
// row without a cursor; skipping them keeps the stored cursor intact across
// transient provider errors.
func (s *store) LastDeltaLink(ctx context.Context, connectionID string) (string, error) {
	var link string
	err := s.db.GetContext(ctx, &link,
		`SELECT delta_link FROM directory_sync_logs
		 WHERE connection_id = $1 AND sync_type = 'incremental' AND delta_link IS NOT NULL
		 ORDER BY created_at DESC
		 LIMIT 1`, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return link, err
}
