package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event is one audit trail entry. Sync runs and connection lifecycle changes
// each leave one.
type Event struct {
	ID           string          `json:"id" db:"id"`
	OrgID        string          `json:"org_id" db:"org_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	Actor        string          `json:"actor" db:"actor"` // service principal or "system"
	Action       string          `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	Outcome      string          `json:"outcome" db:"outcome"` // success, failure
}

// Query filters an audit listing. Zero values mean no filter.
type Query struct {
	OrgID        string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// Store persists audit events.
type Store interface {
	Insert(ctx context.Context, e Event) (string, error)
	List(ctx context.Context, q Query) ([]Event, int, error)
}

type store struct {
	db *sqlx.DB
}

// NewStore creates an audit store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) Insert(ctx context.Context, e Event) (string, error) {
	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO audit_events (org_id, actor, action, resource_type, resource_id, details, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.OrgID, e.Actor, e.Action, e.ResourceType, e.ResourceID, e.Details, e.Outcome).Scan(&id)
	return id, err
}

func (s *store) List(ctx context.Context, q Query) ([]Event, int, error) {
	where := ` WHERE org_id = $1`
	args := []interface{}{q.OrgID}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		where += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}
	if q.Action != "" {
		add("action =", q.Action)
	}
	if q.ResourceType != "" {
		add("resource_type =", q.ResourceType)
	}
	if q.ResourceID != "" {
		add("resource_id =", q.ResourceID)
	}
	if q.Outcome != "" {
		add("outcome =", q.Outcome)
	}
	if q.Since != nil {
		add("timestamp >=", *q.Since)
	}
	if q.Until != nil {
		add("timestamp <=", *q.Until)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_events`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, org_id, timestamp, actor, action, resource_type, resource_id, details, outcome
	          FROM audit_events` + where + ` ORDER BY timestamp DESC`
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	args = append(args, q.Limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
