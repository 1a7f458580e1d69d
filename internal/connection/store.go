package connection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dhawalhost/dirsync/internal/provider"
)

// Store defines connection storage operations.
type Store interface {
	Create(ctx context.Context, conn Connection) (string, error)
	Get(ctx context.Context, orgID, id string) (Connection, error)
	GetByID(ctx context.Context, id string) (Connection, error)
	List(ctx context.Context, orgID string) ([]Connection, error)
	ListActive(ctx context.Context) ([]Connection, error)
	Update(ctx context.Context, conn Connection) error
	Delete(ctx context.Context, orgID, id string) error

	// ClaimSyncing atomically moves the connection into the syncing state.
	// Returns ErrSyncInProgress if a run already holds it.
	ClaimSyncing(ctx context.Context, id string) error
	// FinishSync releases the syncing claim and records the run outcome.
	FinishSync(ctx context.Context, id string, outcome SyncOutcome) error
	// FailSync releases the syncing claim, marking the connection errored.
	FailSync(ctx context.Context, id, errorMessage string) error
}

type store struct {
	db *sqlx.DB
}

// NewStore creates a connection store backed by postgres.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

type connectionRow struct {
	ID             string         `db:"id"`
	OrgID          string         `db:"org_id"`
	Name           string         `db:"name"`
	Provider       string         `db:"provider"`
	Config         []byte         `db:"config"`
	Status         string         `db:"status"`
	LastSyncAt     *time.Time     `db:"last_sync_at"`
	LastSyncStatus sql.NullString `db:"last_sync_status"`
	SyncedUsers    int            `db:"synced_users"`
	SyncedGroups   int            `db:"synced_groups"`
	ErrorMessage   sql.NullString `db:"error_message"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r connectionRow) toConnection() (Connection, error) {
	var cfg Config
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &cfg); err != nil {
			return Connection{}, fmt.Errorf("decode connection config: %w", err)
		}
	}
	return Connection{
		ID:             r.ID,
		OrgID:          r.OrgID,
		Name:           r.Name,
		Provider:       provider.Kind(r.Provider),
		Config:         cfg,
		Status:         Status(r.Status),
		LastSyncAt:     r.LastSyncAt,
		LastSyncStatus: SyncStatus(r.LastSyncStatus.String),
		SyncedUsers:    r.SyncedUsers,
		SyncedGroups:   r.SyncedGroups,
		ErrorMessage:   r.ErrorMessage.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func (s *store) Create(ctx context.Context, conn Connection) (string, error) {
	cfg, err := json.Marshal(conn.Config)
	if err != nil {
		return "", fmt.Errorf("encode connection config: %w", err)
	}

	var id string
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO directory_connections (org_id, name, provider, config, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		conn.OrgID, conn.Name, string(conn.Provider), cfg, string(StatusInactive),
	).Scan(&id)
	return id, err
}

func (s *store) Get(ctx context.Context, orgID, id string) (Connection, error) {
	var r connectionRow
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM directory_connections WHERE id = $1 AND org_id = $2`, id, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, ErrNotFound
	}
	if err != nil {
		return Connection{}, err
	}
	return r.toConnection()
}

func (s *store) GetByID(ctx context.Context, id string) (Connection, error) {
	var r connectionRow
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM directory_connections WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, ErrNotFound
	}
	if err != nil {
		return Connection{}, err
	}
	return r.toConnection()
}

func (s *store) List(ctx context.Context, orgID string) ([]Connection, error) {
	var rows []connectionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM directory_connections WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	return toConnections(rows)
}

func (s *store) ListActive(ctx context.Context) ([]Connection, error) {
	var rows []connectionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM directory_connections WHERE status = $1 ORDER BY created_at`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	return toConnections(rows)
}

func (s *store) Update(ctx context.Context, conn Connection) error {
	cfg, err := json.Marshal(conn.Config)
	if err != nil {
		return fmt.Errorf("encode connection config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE directory_connections
		 SET name = $1, provider = $2, config = $3, updated_at = NOW()
		 WHERE id = $4 AND org_id = $5`,
		conn.Name, string(conn.Provider), cfg, conn.ID, conn.OrgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *store) Delete(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM directory_connections WHERE id = $1 AND org_id = $2 AND status <> $3`,
		id, orgID, string(StatusSyncing))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *store) ClaimSyncing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE directory_connections SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status <> $1`,
		string(StatusSyncing), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either absent or already syncing; disambiguate for the caller.
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM directory_connections WHERE id = $1)`, id); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrSyncInProgress
	}
	return nil
}

func (s *store) FinishSync(ctx context.Context, id string, outcome SyncOutcome) error {
	var errMsg interface{}
	if outcome.ErrorMessage != "" {
		errMsg = outcome.ErrorMessage
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE directory_connections
		 SET status = $1, last_sync_at = NOW(), last_sync_status = $2,
		     synced_users = $3, synced_groups = $4, error_message = $5, updated_at = NOW()
		 WHERE id = $6`,
		string(StatusActive), string(outcome.Status),
		outcome.SyncedUsers, outcome.SyncedGroups, errMsg, id)
	return err
}

func (s *store) FailSync(ctx context.Context, id, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE directory_connections
		 SET status = $1, last_sync_at = NOW(), last_sync_status = $2,
		     error_message = $3, updated_at = NOW()
		 WHERE id = $4`,
		string(StatusError), string(SyncFailure), errorMessage, id)
	return err
}

func toConnections(rows []connectionRow) ([]Connection, error) {
	conns := make([]Connection, 0, len(rows))
	for _, r := range rows {
		c, err := r.toConnection()
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, nil
}
