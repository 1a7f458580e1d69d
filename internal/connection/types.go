package connection

import (
	"errors"
	"time"

	"github.com/dhawalhost/dirsync/internal/provider"
)

// Status is the lifecycle state of a directory connection. A connection is
// held in StatusSyncing for the duration of a run; that is the mutual
// exclusion mechanism for overlapping runs.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
	StatusSyncing  Status = "syncing"
)

// SyncStatus is the outcome of the most recent sync run. Empty until the
// first run completes.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailure SyncStatus = "failure"
)

// ErrNotFound is returned when a connection does not exist.
var ErrNotFound = errors.New("directory connection not found")

// ErrSyncInProgress is returned when a run is requested for a connection that
// is already syncing.
var ErrSyncInProgress = errors.New("sync already in progress for connection")

// Config holds provider credentials plus the sync policy for one connection.
// Only the credential fields of the active provider are meaningful; the
// policy flags always apply.
type Config struct {
	provider.Config

	SyncUsers       bool   `json:"sync_users"`
	SyncGroups      bool   `json:"sync_groups"`
	AutoProvision   bool   `json:"auto_provision"`
	AutoDeprovision bool   `json:"auto_deprovision"`
	SyncInterval    int    `json:"sync_interval"` // minutes; 0 disables scheduling
	DefaultRole     string `json:"default_role"`
}

// Connection is one external directory integration.
type Connection struct {
	ID             string        `json:"id"`
	OrgID          string        `json:"org_id"`
	Name           string        `json:"name"`
	Provider       provider.Kind `json:"provider"`
	Config         Config        `json:"config"`
	Status         Status        `json:"status"`
	LastSyncAt     *time.Time    `json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus    `json:"last_sync_status,omitempty"`
	SyncedUsers    int           `json:"synced_users"`
	SyncedGroups   int           `json:"synced_groups"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SyncOutcome is what a finished run writes back onto the connection row.
type SyncOutcome struct {
	Status       SyncStatus
	SyncedUsers  int
	SyncedGroups int
	ErrorMessage string
}
