package dirsync

import (
	"errors"
	"time"

	"github.com/dhawalhost/dirsync/internal/connection"
)

// SyncType distinguishes full enumeration runs from cursor-based delta runs
// in the sync log.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// EntityType labels which kind of record a sync error belongs to.
type EntityType string

const (
	EntityUser  EntityType = "user"
	EntityGroup EntityType = "group"
)

// ErrMappingNotFound is returned when no identity mapping exists for an
// external id.
var ErrMappingNotFound = errors.New("identity mapping not found")

// SyncError records one failed entity within a run. Entity failures never
// abort the run; they accumulate here and demote the outcome to partial.
type SyncError struct {
	Type       EntityType `json:"type"`
	ExternalID string     `json:"external_id"`
	Operation  string     `json:"operation"`
	Message    string     `json:"message"`
}

// SyncResult is the full accounting of one run.
type SyncResult struct {
	Status           connection.SyncStatus `json:"status"`
	UsersCreated     int                   `json:"users_created"`
	UsersUpdated     int                   `json:"users_updated"`
	UsersDeactivated int                   `json:"users_deactivated"`
	GroupsCreated    int                   `json:"groups_created"`
	GroupsUpdated    int                   `json:"groups_updated"`
	GroupsDeleted    int                   `json:"groups_deleted"`
	Errors           []SyncError           `json:"errors,omitempty"`
	Duration         time.Duration         `json:"duration"`
	DeltaLink        string                `json:"delta_link,omitempty"`
}

// UsersSynced counts user records the run touched.
func (r *SyncResult) UsersSynced() int {
	return r.UsersCreated + r.UsersUpdated + r.UsersDeactivated
}

// GroupsSynced counts group records the run touched.
func (r *SyncResult) GroupsSynced() int {
	return r.GroupsCreated + r.GroupsUpdated + r.GroupsDeleted
}

// AttributeMapping is one rule translating a provider attribute into an
// internal user column. Rules are evaluated in creation order; a later rule
// writing the same target wins.
type AttributeMapping struct {
	ID                string    `db:"id" json:"id"`
	ConnectionID      string    `db:"connection_id" json:"connection_id"`
	SourceAttribute   string    `db:"source_attribute" json:"source_attribute"`
	TargetAttribute   string    `db:"target_attribute" json:"target_attribute"`
	TransformFunction string    `db:"transform_function" json:"transform_function,omitempty"`
	Condition         string    `db:"condition" json:"condition,omitempty"`
	IsRequired        bool      `db:"is_required" json:"is_required"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// SyncLog is one persisted run record. The most recent incremental row's
// DeltaLink is the cursor the next delta run resumes from.
type SyncLog struct {
	ID           string                `db:"id" json:"id"`
	ConnectionID string                `db:"connection_id" json:"connection_id"`
	SyncType     SyncType              `db:"sync_type" json:"sync_type"`
	Status       connection.SyncStatus `db:"status" json:"status"`
	UsersSynced  int                   `db:"users_synced" json:"users_synced"`
	GroupsSynced int                   `db:"groups_synced" json:"groups_synced"`
	Errors       []SyncError           `db:"-" json:"errors,omitempty"`
	DeltaLink    string                `db:"delta_link" json:"delta_link,omitempty"`
	DurationMS   int64                 `db:"duration_ms" json:"duration_ms"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
}
