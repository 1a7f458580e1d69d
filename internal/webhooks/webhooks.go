package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Event types a webhook can subscribe to.
const (
	EventSyncCompleted     = "sync.completed"
	EventSyncFailed        = "sync.failed"
	EventConnectionCreated = "connection.created"
	EventConnectionDeleted = "connection.deleted"
)

var knownEvents = map[string]bool{
	EventSyncCompleted:     true,
	EventSyncFailed:        true,
	EventConnectionCreated: true,
	EventConnectionDeleted: true,
}

// ErrNotFound is returned when a webhook does not exist.
var ErrNotFound = errors.New("webhook not found")

// Webhook is one registered event listener.
type Webhook struct {
	ID        string         `json:"id" db:"id"`
	OrgID     string         `json:"org_id" db:"org_id"`
	URL       string         `json:"url" db:"url"`
	Secret    string         `json:"-" db:"secret"`
	Events    pq.StringArray `json:"events" db:"events"`
	Active    bool           `json:"active" db:"active"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Service manages webhook subscriptions.
type Service interface {
	Create(ctx context.Context, orgID, url, secret string, events []string) (string, error)
	Get(ctx context.Context, orgID, id string) (Webhook, error)
	List(ctx context.Context, orgID string) ([]Webhook, error)
	Delete(ctx context.Context, orgID, id string) error
	ListForEvent(ctx context.Context, orgID, event string) ([]Webhook, error)
}

type service struct {
	db *sqlx.DB
}

// NewService creates a webhooks service.
func NewService(db *sqlx.DB) Service {
	return &service{db: db}
}

func (s *service) Create(ctx context.Context, orgID, url, secret string, events []string) (string, error) {
	if url == "" {
		return "", errors.New("webhook url is required")
	}
	if len(events) == 0 {
		return "", errors.New("at least one event type is required")
	}
	for _, e := range events {
		if !knownEvents[e] {
			return "", fmt.Errorf("unknown event type %q", e)
		}
	}

	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO webhooks (org_id, url, secret, events, active)
		 VALUES ($1, $2, $3, $4, true) RETURNING id`,
		orgID, url, secret, pq.Array(events)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create webhook: %w", err)
	}
	return id, nil
}

func (s *service) Get(ctx context.Context, orgID, id string) (Webhook, error) {
	var w Webhook
	err := s.db.GetContext(ctx, &w,
		`SELECT id, org_id, url, secret, events, active, created_at, updated_at
		 FROM webhooks WHERE id = $1 AND org_id = $2`, id, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return Webhook{}, ErrNotFound
	}
	return w, err
}

func (s *service) List(ctx context.Context, orgID string) ([]Webhook, error) {
	var hooks []Webhook
	err := s.db.SelectContext(ctx, &hooks,
		`SELECT id, org_id, url, secret, events, active, created_at, updated_at
		 FROM webhooks WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	return hooks, err
}

func (s *service) Delete(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhooks WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *service) ListForEvent(ctx context.Context, orgID, event string) ([]Webhook, error) {
	var hooks []Webhook
	err := s.db.SelectContext(ctx, &hooks,
		`SELECT id, org_id, url, secret, events, active, created_at, updated_at
		 FROM webhooks WHERE org_id = $1 AND active = true AND $2 = ANY(events)`,
		orgID, event)
	return hooks, err
}
