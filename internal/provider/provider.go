package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a supported directory provider family.
type Kind string

const (
	KindAzureAD         Kind = "azure_ad"
	KindGoogleWorkspace Kind = "google_workspace"
	KindOkta            Kind = "okta"
	KindOneLogin        Kind = "onelogin"
	KindLDAP            Kind = "ldap"
)

// ErrDeltaNotSupported is returned by FetchDeltaChanges when the provider has
// no change feed. Callers must treat this as a capability error, never fall
// back to a fabricated delta from a full fetch.
var ErrDeltaNotSupported = errors.New("provider does not support delta queries")

// ErrUnknownKind is returned when no client factory is registered for a kind.
var ErrUnknownKind = errors.New("unknown directory provider")

// Config carries the provider credentials for one directory connection. Only
// the fields belonging to the active provider family are populated.
type Config struct {
	// Azure AD
	TenantID     string `json:"tenant_id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// Google Workspace
	Domain            string `json:"domain,omitempty"`
	ServiceAccountKey string `json:"service_account_key,omitempty"`
	AdminEmail        string `json:"admin_email,omitempty"`

	// Okta
	OktaDomain string `json:"okta_domain,omitempty"`
	APIToken   string `json:"api_token,omitempty"`

	// OneLogin
	OneLoginDomain       string `json:"onelogin_domain,omitempty"`
	OneLoginClientID     string `json:"onelogin_client_id,omitempty"`
	OneLoginClientSecret string `json:"onelogin_client_secret,omitempty"`

	// Generic LDAP
	LDAPURL          string `json:"ldap_url,omitempty"`
	LDAPBindDN       string `json:"ldap_bind_dn,omitempty"`
	LDAPBindPassword string `json:"ldap_bind_password,omitempty"`
	LDAPBaseDN       string `json:"ldap_base_dn,omitempty"`
	LDAPUserFilter   string `json:"ldap_user_filter,omitempty"`
	LDAPGroupFilter  string `json:"ldap_group_filter,omitempty"`
}

// User is the common shape every provider client produces for a directory
// user. ExternalID is the provider-stable identifier and the join key for
// mapping rows; Attributes carries the raw provider record for mapping rules.
type User struct {
	ExternalID  string                 `json:"external_id"`
	Email       string                 `json:"email"`
	FirstName   string                 `json:"first_name,omitempty"`
	LastName    string                 `json:"last_name,omitempty"`
	DisplayName string                 `json:"display_name,omitempty"`
	JobTitle    string                 `json:"job_title,omitempty"`
	Department  string                 `json:"department,omitempty"`
	Manager     string                 `json:"manager,omitempty"`
	Phone       string                 `json:"phone,omitempty"`
	Avatar      string                 `json:"avatar,omitempty"`
	Active      bool                   `json:"active"`
	Groups      []string               `json:"groups,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// Group is the common shape for a directory group.
type Group struct {
	ExternalID  string                 `json:"external_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Members     []string               `json:"members,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// Operation is the kind of change carried by a delta feed item.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// UserChange is one user entry in a delta feed. User is nil for deletes.
type UserChange struct {
	Operation  Operation `json:"operation"`
	ExternalID string    `json:"external_id"`
	User       *User     `json:"user,omitempty"`
}

// GroupChange is one group entry in a delta feed. Group is nil for deletes.
type GroupChange struct {
	Operation  Operation `json:"operation"`
	ExternalID string    `json:"external_id"`
	Group      *Group    `json:"group,omitempty"`
}

// Delta is the result of one incremental fetch. NewDeltaLink is the opaque
// cursor to pass to the next FetchDeltaChanges call.
type Delta struct {
	UserChanges  []UserChange
	GroupChanges []GroupChange
	NewDeltaLink string
}

// Client is the contract every provider adapter implements. Full enumeration
// is always available; FetchDeltaChanges returns ErrDeltaNotSupported for
// providers without a usable change feed.
type Client interface {
	FetchUsers(ctx context.Context) ([]User, error)
	FetchGroups(ctx context.Context) ([]Group, error)
	FetchDeltaChanges(ctx context.Context, cursor string) (Delta, error)
}

// Factory creates a client for one connection's credentials.
type Factory func(cfg Config) (Client, error)

// Registry maps provider kinds to client factories. Selection is a pure
// function of the kind; an unregistered kind fails before any network call.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// Register adds a factory for a provider kind.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.factories[kind] = factory
}

// New creates a client for the given kind and credentials.
func (r *Registry) New(kind Kind, cfg Config) (Client, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return factory(cfg)
}

// Kinds returns the registered provider kinds.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	return kinds
}
