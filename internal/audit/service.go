package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Actions recorded by the sync service.
const (
	ActionConnectionCreated = "connection.created"
	ActionConnectionUpdated = "connection.updated"
	ActionConnectionDeleted = "connection.deleted"
	ActionSyncCompleted     = "sync.completed"
	ActionSyncFailed        = "sync.failed"
)

// Entry is the caller-facing input for one audit record.
type Entry struct {
	OrgID        string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Details      interface{}
	Outcome      string
}

// Service writes and reads the audit trail. Recording is best-effort: a
// failed insert is logged and swallowed so bookkeeping never fails the
// operation it describes.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates an audit service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Record writes one audit event. Safe to call on a nil receiver so callers
// can treat auditing as optional.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if s == nil {
		return
	}

	var details json.RawMessage
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			s.logger.Warn("Failed to encode audit details", zap.Error(err))
		} else {
			details = raw
		}
	}

	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.Outcome == "" {
		entry.Outcome = "success"
	}

	// Detached context: the request that triggered the event may already
	// be done.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.store.Insert(writeCtx, Event{
		OrgID:        entry.OrgID,
		Actor:        entry.Actor,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      details,
		Outcome:      entry.Outcome,
	})
	if err != nil {
		s.logger.Error("Failed to write audit event",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err))
	}
}

// List returns audit events matching the query plus the unpaged total.
func (s *Service) List(ctx context.Context, q Query) ([]Event, int, error) {
	return s.store.List(ctx, q)
}
