package dirsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dhawalhost/dirsync/internal/audit"
	"github.com/dhawalhost/dirsync/internal/connection"
	"github.com/dhawalhost/dirsync/internal/directory"
	"github.com/dhawalhost/dirsync/internal/events"
	"github.com/dhawalhost/dirsync/internal/provider"
	"github.com/dhawalhost/dirsync/internal/webhooks"
	"github.com/dhawalhost/dirsync/pkg/observability"
)

// Service runs directory sync passes and manages their bookkeeping.
type Service interface {
	RunFullSync(ctx context.Context, orgID, connectionID string) (SyncResult, error)
	RunDeltaSync(ctx context.Context, orgID, connectionID string) (SyncResult, error)

	ListSyncLogs(ctx context.Context, orgID, connectionID string, limit int) ([]SyncLog, error)

	ListAttributeMappings(ctx context.Context, orgID, connectionID string) ([]AttributeMapping, error)
	CreateAttributeMapping(ctx context.Context, orgID string, m AttributeMapping) (string, error)
	DeleteAttributeMapping(ctx context.Context, orgID, connectionID, id string) error
}

type service struct {
	connections connection.Store
	store       Store
	dir         directory.Store
	registry    *provider.Registry
	metrics     *observability.Metrics
	auditor     *audit.Service
	dispatcher  *events.Dispatcher
	logger      *zap.Logger
}

// NewService creates the sync service. auditor and dispatcher may be nil;
// runs then skip audit records and webhook events.
func NewService(connections connection.Store, store Store, dir directory.Store,
	registry *provider.Registry, metrics *observability.Metrics,
	auditor *audit.Service, dispatcher *events.Dispatcher, logger *zap.Logger) Service {
	return &service{
		connections: connections,
		store:       store,
		dir:         dir,
		registry:    registry,
		metrics:     metrics,
		auditor:     auditor,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

func (s *service) RunFullSync(ctx context.Context, orgID, connectionID string) (SyncResult, error) {
	return s.runSync(ctx, orgID, connectionID, SyncFull)
}

func (s *service) RunDeltaSync(ctx context.Context, orgID, connectionID string) (SyncResult, error) {
	return s.runSync(ctx, orgID, connectionID, SyncIncremental)
}

// runSync claims the connection, executes one pass and writes the outcome
// back onto the connection row and the sync log. The claim is the mutual
// exclusion for concurrent triggers; a held claim surfaces as
// connection.ErrSyncInProgress before any provider call.
func (s *service) runSync(ctx context.Context, orgID, connectionID string, syncType SyncType) (SyncResult, error) {
	conn, err := s.connections.Get(ctx, orgID, connectionID)
	if err != nil {
		return SyncResult{}, err
	}

	ctx, span := observability.Tracer("dirsync").Start(ctx, "dirsync.run",
		trace.WithAttributes(
			attribute.String("connection.id", conn.ID),
			attribute.String("provider", string(conn.Provider)),
			attribute.String("sync.type", string(syncType)),
		))
	defer span.End()

	if err := s.connections.ClaimSyncing(ctx, conn.ID); err != nil {
		return SyncResult{}, err
	}

	started := time.Now()
	result, runErr := s.execute(ctx, conn, syncType)
	result.Duration = time.Since(started)

	if runErr != nil {
		result.Status = connection.SyncFailure
	} else if len(result.Errors) > 0 {
		result.Status = connection.SyncPartial
	} else {
		result.Status = connection.SyncSuccess
	}

	s.finish(ctx, conn, syncType, &result, runErr)
	s.observe(conn, syncType, result)

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// execute performs the provider fetch and reconciliation for one claimed
// connection. Errors returned here are run-level; entity failures live in
// result.Errors.
func (s *service) execute(ctx context.Context, conn connection.Connection, syncType SyncType) (SyncResult, error) {
	var result SyncResult

	client, err := s.registry.New(conn.Provider, conn.Config.Config)
	if err != nil {
		return result, err
	}

	rules, err := s.store.ListAttributeMappings(ctx, conn.ID)
	if err != nil {
		return result, fmt.Errorf("list attribute mappings: %w", err)
	}

	r := &run{
		conn:   conn,
		client: client,
		mapper: newMapper(rules, s.logger),
		store:  s.store,
		dir:    s.dir,
		logger: s.logger.With(
			zap.String("connection_id", conn.ID),
			zap.String("provider", string(conn.Provider)),
			zap.String("sync_type", string(syncType)),
		),
		result: &result,
	}

	if syncType == SyncIncremental {
		return result, s.executeDelta(ctx, r)
	}
	return result, s.executeFull(ctx, r)
}

// executeFull reconciles complete snapshots, groups before users so that
// membership resolution sees every group the run created.
func (s *service) executeFull(ctx context.Context, r *run) error {
	if r.conn.Config.SyncGroups {
		groups, err := r.client.FetchGroups(ctx)
		if err != nil {
			return fmt.Errorf("fetch groups: %w", err)
		}
		if err := r.syncGroups(ctx, groups); err != nil {
			return err
		}
	}

	if r.conn.Config.SyncUsers {
		users, err := r.client.FetchUsers(ctx)
		if err != nil {
			return fmt.Errorf("fetch users: %w", err)
		}
		if err := r.syncUsers(ctx, users); err != nil {
			return err
		}
	}
	return nil
}

// executeDelta resumes from the last logged cursor and applies only the
// changes the provider reports. Providers without a change feed fail the run
// before any write happens.
func (s *service) executeDelta(ctx context.Context, r *run) error {
	cursor, err := s.store.LastDeltaLink(ctx, r.conn.ID)
	if err != nil {
		return fmt.Errorf("load delta cursor: %w", err)
	}

	delta, err := r.client.FetchDeltaChanges(ctx, cursor)
	if err != nil {
		if errors.Is(err, provider.ErrDeltaNotSupported) {
			return fmt.Errorf("%w: %s", provider.ErrDeltaNotSupported, r.conn.Provider)
		}
		return fmt.Errorf("fetch delta: %w", err)
	}

	if r.conn.Config.SyncGroups {
		for _, change := range delta.GroupChanges {
			r.applyGroupChange(ctx, change)
		}
	}
	if r.conn.Config.SyncUsers {
		for _, change := range delta.UserChanges {
			r.applyUserChange(ctx, change)
		}
	}

	r.result.DeltaLink = delta.NewDeltaLink
	return nil
}

// finish releases the syncing claim and persists the run record. Bookkeeping
// failures are logged, not returned; the sync outcome already happened.
func (s *service) finish(ctx context.Context, conn connection.Connection, syncType SyncType, result *SyncResult, runErr error) {
	if runErr != nil {
		if err := s.connections.FailSync(ctx, conn.ID, runErr.Error()); err != nil {
			s.logger.Error("Failed to record sync failure",
				zap.String("connection_id", conn.ID), zap.Error(err))
		}
	} else {
		outcome := connection.SyncOutcome{
			Status:       result.Status,
			SyncedUsers:  result.UsersSynced(),
			SyncedGroups: result.GroupsSynced(),
			ErrorMessage: summarizeErrors(result.Errors),
		}
		if err := s.connections.FinishSync(ctx, conn.ID, outcome); err != nil {
			s.logger.Error("Failed to record sync outcome",
				zap.String("connection_id", conn.ID), zap.Error(err))
		}
	}

	log := SyncLog{
		ConnectionID: conn.ID,
		SyncType:     syncType,
		Status:       result.Status,
		UsersSynced:  result.UsersSynced(),
		GroupsSynced: result.GroupsSynced(),
		Errors:       result.Errors,
		DeltaLink:    result.DeltaLink,
		DurationMS:   result.Duration.Milliseconds(),
	}
	if runErr != nil {
		log.Errors = append(log.Errors, SyncError{
			Operation: "run",
			Message:   runErr.Error(),
		})
	}
	if err := s.store.InsertSyncLog(ctx, log); err != nil {
		s.logger.Error("Failed to write sync log",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}

	action, eventType := audit.ActionSyncCompleted, webhooks.EventSyncCompleted
	if runErr != nil {
		action, eventType = audit.ActionSyncFailed, webhooks.EventSyncFailed
	}
	s.auditor.Record(ctx, audit.Entry{
		OrgID:        conn.OrgID,
		Action:       action,
		ResourceType: "connection",
		ResourceID:   conn.ID,
		Details:      result,
		Outcome:      string(result.Status),
	})
	s.dispatcher.Publish(ctx, conn.OrgID, eventType, map[string]interface{}{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
		"sync_type":     syncType,
		"result":        result,
	})
}

func (s *service) observe(conn connection.Connection, syncType SyncType, result SyncResult) {
	providerLabel := string(conn.Provider)
	typeLabel := string(syncType)

	s.metrics.SyncRunsTotal.WithLabelValues(providerLabel, typeLabel, string(result.Status)).Inc()
	s.metrics.SyncDuration.WithLabelValues(providerLabel, typeLabel).Observe(result.Duration.Seconds())

	s.metrics.SyncedEntities.WithLabelValues("user", "create").Add(float64(result.UsersCreated))
	s.metrics.SyncedEntities.WithLabelValues("user", "update").Add(float64(result.UsersUpdated))
	s.metrics.SyncedEntities.WithLabelValues("user", "deactivate").Add(float64(result.UsersDeactivated))
	s.metrics.SyncedEntities.WithLabelValues("group", "create").Add(float64(result.GroupsCreated))
	s.metrics.SyncedEntities.WithLabelValues("group", "update").Add(float64(result.GroupsUpdated))
	s.metrics.SyncedEntities.WithLabelValues("group", "delete").Add(float64(result.GroupsDeleted))

	for _, syncErr := range result.Errors {
		s.metrics.SyncErrorsTotal.WithLabelValues(string(syncErr.Type), syncErr.Operation).Inc()
	}
}

func (s *service) ListSyncLogs(ctx context.Context, orgID, connectionID string, limit int) ([]SyncLog, error) {
	if _, err := s.connections.Get(ctx, orgID, connectionID); err != nil {
		return nil, err
	}
	return s.store.ListSyncLogs(ctx, connectionID, limit)
}

func (s *service) ListAttributeMappings(ctx context.Context, orgID, connectionID string) ([]AttributeMapping, error) {
	if _, err := s.connections.Get(ctx, orgID, connectionID); err != nil {
		return nil, err
	}
	return s.store.ListAttributeMappings(ctx, connectionID)
}

func (s *service) CreateAttributeMapping(ctx context.Context, orgID string, m AttributeMapping) (string, error) {
	if _, err := s.connections.Get(ctx, orgID, m.ConnectionID); err != nil {
		return "", err
	}
	if err := validateAttributeMapping(m); err != nil {
		return "", err
	}
	return s.store.CreateAttributeMapping(ctx, m)
}

func (s *service) DeleteAttributeMapping(ctx context.Context, orgID, connectionID, id string) error {
	if _, err := s.connections.Get(ctx, orgID, connectionID); err != nil {
		return err
	}
	return s.store.DeleteAttributeMapping(ctx, connectionID, id)
}

// validateAttributeMapping enforces rule shape at save time: transforms must
// be known names and targets must be writable user columns. Runtime stays
// lenient so one stale rule cannot fail every entity.
func validateAttributeMapping(m AttributeMapping) error {
	if strings.TrimSpace(m.SourceAttribute) == "" {
		return errors.New("source attribute is required")
	}
	if !directory.IsUserColumn(m.TargetAttribute) {
		return fmt.Errorf("target attribute %q is not a writable user column", m.TargetAttribute)
	}
	if m.TransformFunction != "" && !knownTransforms[m.TransformFunction] {
		return fmt.Errorf("unknown transform function %q", m.TransformFunction)
	}
	return nil
}

// summarizeErrors compresses entity errors into the short message stored on
// the connection row. Full detail stays in the sync log.
func summarizeErrors(errs []SyncError) string {
	if len(errs) == 0 {
		return ""
	}
	return fmt.Sprintf("%d entities failed; see sync log", len(errs))
}
