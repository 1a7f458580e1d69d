package connection

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dhawalhost/dirsync/internal/provider"
)

// Input is the create/update payload for a connection.
type Input struct {
	ID       string        `json:"id"`
	Name     string        `json:"name" validate:"required,max=128"`
	Provider provider.Kind `json:"provider" validate:"required,oneof=azure_ad google_workspace okta onelogin ldap"`
	Config   Config        `json:"config"`
}

// Service defines connection management operations.
type Service interface {
	Create(ctx context.Context, orgID string, in Input) (string, error)
	Get(ctx context.Context, orgID, id string) (Connection, error)
	List(ctx context.Context, orgID string) ([]Connection, error)
	Update(ctx context.Context, orgID string, in Input) error
	Delete(ctx context.Context, orgID, id string) error
	Test(ctx context.Context, in Input) error
}

type service struct {
	store    Store
	registry *provider.Registry
	validate *validator.Validate
}

// NewService creates a connection service.
func NewService(store Store, registry *provider.Registry) Service {
	return &service{
		store:    store,
		registry: registry,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *service) Create(ctx context.Context, orgID string, in Input) (string, error) {
	if err := s.validateInput(in); err != nil {
		return "", err
	}
	return s.store.Create(ctx, Connection{
		OrgID:    orgID,
		Name:     in.Name,
		Provider: in.Provider,
		Config:   in.Config,
	})
}

func (s *service) Get(ctx context.Context, orgID, id string) (Connection, error) {
	return s.store.Get(ctx, orgID, id)
}

func (s *service) List(ctx context.Context, orgID string) ([]Connection, error) {
	return s.store.List(ctx, orgID)
}

func (s *service) Update(ctx context.Context, orgID string, in Input) error {
	existing, err := s.store.Get(ctx, orgID, in.ID)
	if err != nil {
		return err
	}

	// Preserve stored secrets when the update omits them.
	mergeSecrets(&in.Config.Config, existing.Config.Config)

	if err := s.validateInput(in); err != nil {
		return err
	}

	existing.Name = in.Name
	existing.Provider = in.Provider
	existing.Config = in.Config
	return s.store.Update(ctx, existing)
}

func (s *service) Delete(ctx context.Context, orgID, id string) error {
	return s.store.Delete(ctx, orgID, id)
}

// Test verifies the payload can produce a provider client. It does not reach
// the provider's network endpoints.
func (s *service) Test(ctx context.Context, in Input) error {
	if err := s.validateInput(in); err != nil {
		return err
	}
	_, err := s.registry.New(in.Provider, in.Config.Config)
	return err
}

func (s *service) validateInput(in Input) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}
	return validateCredentials(in.Provider, in.Config.Config)
}

// validateCredentials checks that the credential fields of the selected
// provider family are present. Exactly one family's fields are meaningful
// per connection.
func validateCredentials(kind provider.Kind, cfg provider.Config) error {
	missing := func(fields ...string) error {
		return fmt.Errorf("provider %s: missing required config: %v", kind, fields)
	}
	switch kind {
	case provider.KindAzureAD:
		if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
			return missing("tenant_id", "client_id", "client_secret")
		}
	case provider.KindGoogleWorkspace:
		if cfg.ServiceAccountKey == "" || cfg.AdminEmail == "" {
			return missing("service_account_key", "admin_email")
		}
	case provider.KindOkta:
		if cfg.OktaDomain == "" || cfg.APIToken == "" {
			return missing("okta_domain", "api_token")
		}
	case provider.KindOneLogin:
		if cfg.OneLoginDomain == "" || cfg.OneLoginClientID == "" || cfg.OneLoginClientSecret == "" {
			return missing("onelogin_domain", "onelogin_client_id", "onelogin_client_secret")
		}
	case provider.KindLDAP:
		if cfg.LDAPURL == "" || cfg.LDAPBaseDN == "" {
			return missing("ldap_url", "ldap_base_dn")
		}
	default:
		return fmt.Errorf("%w: %s", provider.ErrUnknownKind, kind)
	}
	return nil
}

func mergeSecrets(in *provider.Config, existing provider.Config) {
	if in.ClientSecret == "" {
		in.ClientSecret = existing.ClientSecret
	}
	if in.ServiceAccountKey == "" {
		in.ServiceAccountKey = existing.ServiceAccountKey
	}
	if in.APIToken == "" {
		in.APIToken = existing.APIToken
	}
	if in.OneLoginClientSecret == "" {
		in.OneLoginClientSecret = existing.OneLoginClientSecret
	}
	if in.LDAPBindPassword == "" {
		in.LDAPBindPassword = existing.LDAPBindPassword
	}
}
