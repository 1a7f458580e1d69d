package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/dirsync/internal/connection"
	"github.com/dhawalhost/dirsync/internal/dirsync"
)

// Scheduler periodically runs full syncs for active connections whose
// configured interval has elapsed. Connections with a zero interval are never
// scheduled; manual triggers remain the only way to sync them.
type Scheduler struct {
	connections connection.Store
	sync        dirsync.Service
	interval    time.Duration
	logger      *zap.Logger
}

// New creates a scheduler that checks due connections every checkInterval.
func New(connections connection.Store, sync dirsync.Service, checkInterval time.Duration, logger *zap.Logger) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &Scheduler{
		connections: connections,
		sync:        sync,
		interval:    checkInterval,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled, syncing due connections on each tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Sync scheduler started", zap.Duration("check_interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		s.logger.Error("Failed to list connections for scheduling", zap.Error(err))
		return
	}

	now := time.Now()
	for _, conn := range conns {
		if !due(conn, now) {
			continue
		}

		result, err := s.sync.RunFullSync(ctx, conn.OrgID, conn.ID)
		if errors.Is(err, connection.ErrSyncInProgress) {
			continue
		}
		if err != nil {
			s.logger.Error("Scheduled sync failed",
				zap.String("connection_id", conn.ID),
				zap.String("provider", string(conn.Provider)),
				zap.Error(err))
			continue
		}
		s.logger.Info("Scheduled sync completed",
			zap.String("connection_id", conn.ID),
			zap.String("status", string(result.Status)),
			zap.Int("users_synced", result.UsersSynced()),
			zap.Int("groups_synced", result.GroupsSynced()),
			zap.Duration("duration", result.Duration))
	}
}

// due reports whether a connection's interval has elapsed since its last run.
// A connection that has never synced is due immediately.
func due(conn connection.Connection, now time.Time) bool {
	if conn.Config.SyncInterval <= 0 {
		return false
	}
	if conn.LastSyncAt == nil {
		return true
	}
	interval := time.Duration(conn.Config.SyncInterval) * time.Minute
	return now.Sub(*conn.LastSyncAt) >= interval
}
