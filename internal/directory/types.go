package directory

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned when a user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrGroupNotFound is returned when a group does not exist.
var ErrGroupNotFound = errors.New("group not found")

// User is one internal user record. Directory-synced users carry
// DirectorySynced=true and are owned by the sync engine; a deactivated user
// keeps its row and mappings but loses group memberships.
type User struct {
	ID              string     `db:"id" json:"id"`
	OrgID           string     `db:"org_id" json:"org_id"`
	Email           string     `db:"email" json:"email"`
	FirstName       string     `db:"first_name" json:"first_name,omitempty"`
	LastName        string     `db:"last_name" json:"last_name,omitempty"`
	DisplayName     string     `db:"display_name" json:"display_name,omitempty"`
	JobTitle        string     `db:"job_title" json:"job_title,omitempty"`
	Department      string     `db:"department" json:"department,omitempty"`
	Manager         string     `db:"manager" json:"manager,omitempty"`
	Phone           string     `db:"phone" json:"phone,omitempty"`
	AvatarURL       string     `db:"avatar_url" json:"avatar_url,omitempty"`
	Role            string     `db:"role" json:"role"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	DirectorySynced bool       `db:"directory_synced" json:"directory_synced"`
	DeactivatedAt   *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Group is one internal group record.
type Group struct {
	ID          string    `db:"id" json:"id"`
	OrgID       string    `db:"org_id" json:"org_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
