package connection

import (
	"context"
	"strings"
	"testing"

	"github.com/dhawalhost/dirsync/internal/provider"
)

type fakeStore struct {
	conns map[string]Connection
}

func newFakeStore() *fakeStore {
	return &fakeStore{conns: make(map[string]Connection)}
}

func (f *fakeStore) Create(ctx context.Context, conn Connection) (string, error) {
	if conn.ID == "" {
		conn.ID = "conn-1"
	}
	f.conns[conn.ID] = conn
	return conn.ID, nil
}

func (f *fakeStore) Get(ctx context.Context, orgID, id string) (Connection, error) {
	conn, ok := f.conns[id]
	if !ok || conn.OrgID != orgID {
		return Connection{}, ErrNotFound
	}
	return conn, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (Connection, error) {
	conn, ok := f.conns[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return conn, nil
}

func (f *fakeStore) List(ctx context.Context, orgID string) ([]Connection, error) {
	var out []Connection
	for _, conn := range f.conns {
		if conn.OrgID == orgID {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]Connection, error) { return nil, nil }

func (f *fakeStore) Update(ctx context.Context, conn Connection) error {
	if _, ok := f.conns[conn.ID]; !ok {
		return ErrNotFound
	}
	f.conns[conn.ID] = conn
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, orgID, id string) error {
	delete(f.conns, id)
	return nil
}

func (f *fakeStore) ClaimSyncing(ctx context.Context, id string) error { return nil }

func (f *fakeStore) FinishSync(ctx context.Context, id string, outcome SyncOutcome) error {
	return nil
}

func (f *fakeStore) FailSync(ctx context.Context, id, errorMessage string) error { return nil }

func newTestService(store Store) Service {
	registry := provider.NewRegistry()
	registry.Register(provider.KindOkta, func(provider.Config) (provider.Client, error) {
		return nil, nil
	})
	return NewService(store, registry)
}

func oktaInput() Input {
	return Input{
		Name:     "corp okta",
		Provider: provider.KindOkta,
		Config: Config{
			Config: provider.Config{
				OktaDomain: "example.okta.com",
				APIToken:   "secret-token",
			},
			SyncUsers: true,
		},
	}
}

func TestCreateConnection(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	id, err := svc.Create(context.Background(), "org-1", oktaInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty id")
	}
	if store.conns[id].OrgID != "org-1" {
		t.Errorf("stored org = %q, want org-1", store.conns[id].OrgID)
	}
}

func TestCreateConnectionValidation(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*Input)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(in *Input) { in.Name = "" },
			wantErr: "invalid connection",
		},
		{
			name:    "unknown provider",
			mutate:  func(in *Input) { in.Provider = "slack" },
			wantErr: "invalid connection",
		},
		{
			name:    "missing okta token",
			mutate:  func(in *Input) { in.Config.APIToken = "" },
			wantErr: "missing required config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := oktaInput()
			tt.mutate(&in)
			_, err := svc.Create(ctx, "org-1", in)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Create() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateConnectionLDAPCredentials(t *testing.T) {
	svc := newTestService(newFakeStore())

	in := Input{
		Name:     "corp ldap",
		Provider: provider.KindLDAP,
		Config: Config{
			Config: provider.Config{LDAPURL: "ldaps://ldap.example.com"},
		},
	}
	_, err := svc.Create(context.Background(), "org-1", in)
	if err == nil || !strings.Contains(err.Error(), "ldap_base_dn") {
		t.Errorf("Create() error = %v, want missing ldap_base_dn", err)
	}
}

func TestUpdateConnectionPreservesSecrets(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	id, err := svc.Create(ctx, "org-1", oktaInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// An update that omits the token keeps the stored one.
	in := oktaInput()
	in.ID = id
	in.Name = "renamed okta"
	in.Config.APIToken = ""
	if err := svc.Update(ctx, "org-1", in); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	updated := store.conns[id]
	if updated.Name != "renamed okta" {
		t.Errorf("Name = %q, want renamed okta", updated.Name)
	}
	if updated.Config.APIToken != "secret-token" {
		t.Errorf("APIToken = %q, want preserved secret", updated.Config.APIToken)
	}
}

func TestUpdateConnectionWrongOrg(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	id, err := svc.Create(ctx, "org-1", oktaInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	in := oktaInput()
	in.ID = id
	if err := svc.Update(ctx, "org-2", in); err != ErrNotFound {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestTestConnectionUnregisteredProvider(t *testing.T) {
	// Registry without LDAP registered.
	svc := newTestService(newFakeStore())

	in := Input{
		Name:     "corp ldap",
		Provider: provider.KindLDAP,
		Config: Config{
			Config: provider.Config{
				LDAPURL:    "ldaps://ldap.example.com",
				LDAPBaseDN: "dc=example,dc=com",
			},
		},
	}
	if err := svc.Test(context.Background(), in); err == nil {
		t.Error("Test() expected error for unregistered provider")
	}
}
