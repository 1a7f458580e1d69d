package ldapdir

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"

	"github.com/dhawalhost/dirsync/internal/provider"
)

type fakeConn struct {
	bindDN      string
	bindErr     error
	users       []*ldap.Entry
	groups      []*ldap.Entry
	searchCalls []*ldap.SearchRequest
	closed      bool
}

func (f *fakeConn) Bind(username, password string) error {
	f.bindDN = username
	return f.bindErr
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.searchCalls = append(f.searchCalls, req)
	if req.Filter == defaultUserFilter {
		return &ldap.SearchResult{Entries: f.users}, nil
	}
	return &ldap.SearchResult{Entries: f.groups}, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func entry(dn string, attrs map[string][]string) *ldap.Entry {
	e := &ldap.Entry{DN: dn}
	for name, values := range attrs {
		e.Attributes = append(e.Attributes, &ldap.EntryAttribute{Name: name, Values: values})
	}
	return e
}

func testConfig() provider.Config {
	return provider.Config{
		LDAPURL:    "ldaps://ldap.example.com",
		LDAPBindDN: "cn=svc,dc=example,dc=com",
		LDAPBaseDN: "dc=example,dc=com",
	}
}

func TestFetchUsersResolvesMemberships(t *testing.T) {
	conn := &fakeConn{
		users: []*ldap.Entry{
			entry("uid=ada,ou=people,dc=example,dc=com", map[string][]string{
				"mail":      {"ada@example.com"},
				"givenName": {"Ada"},
				"sn":        {"Lovelace"},
			}),
		},
		groups: []*ldap.Entry{
			entry("cn=engineering,ou=groups,dc=example,dc=com", map[string][]string{
				"cn":     {"engineering"},
				"member": {"uid=ada,ou=people,dc=example,dc=com", "uid=grace,ou=people,dc=example,dc=com"},
			}),
		},
	}

	client, err := NewWithDialer(testConfig(), func(string) (ldapConn, error) { return conn, nil })
	if err != nil {
		t.Fatalf("NewWithDialer() error = %v", err)
	}

	users, err := client.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers() error = %v", err)
	}

	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	u := users[0]
	if u.ExternalID != "uid=ada,ou=people,dc=example,dc=com" {
		t.Errorf("ExternalID = %q, want entry DN", u.ExternalID)
	}
	if u.Email != "ada@example.com" || u.FirstName != "Ada" || u.LastName != "Lovelace" {
		t.Errorf("profile fields wrong: %+v", u)
	}
	if !u.Active {
		t.Error("LDAP users are always active")
	}
	if len(u.Groups) != 1 || u.Groups[0] != "cn=engineering,ou=groups,dc=example,dc=com" {
		t.Errorf("Groups = %v, want the group DN", u.Groups)
	}
	if conn.bindDN != "cn=svc,dc=example,dc=com" {
		t.Errorf("bind DN = %q", conn.bindDN)
	}
	if !conn.closed {
		t.Error("connection was not closed")
	}
}

func TestFetchGroups(t *testing.T) {
	conn := &fakeConn{
		groups: []*ldap.Entry{
			entry("cn=engineering,ou=groups,dc=example,dc=com", map[string][]string{
				"cn":          {"engineering"},
				"description": {"Engineering team"},
				"member":      {"uid=ada,ou=people,dc=example,dc=com"},
			}),
		},
	}

	client, err := NewWithDialer(testConfig(), func(string) (ldapConn, error) { return conn, nil })
	if err != nil {
		t.Fatalf("NewWithDialer() error = %v", err)
	}

	groups, err := client.FetchGroups(context.Background())
	if err != nil {
		t.Fatalf("FetchGroups() error = %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Name != "engineering" || groups[0].Description != "Engineering team" {
		t.Errorf("group fields wrong: %+v", groups[0])
	}
	if len(groups[0].Members) != 1 {
		t.Errorf("Members = %v, want one member DN", groups[0].Members)
	}
}

func TestFetchDeltaChangesUnsupported(t *testing.T) {
	client, err := NewWithDialer(testConfig(), func(string) (ldapConn, error) {
		t.Fatal("delta sync must not dial")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("NewWithDialer() error = %v", err)
	}

	_, err = client.FetchDeltaChanges(context.Background(), "")
	if !errors.Is(err, provider.ErrDeltaNotSupported) {
		t.Errorf("error = %v, want ErrDeltaNotSupported", err)
	}
}

func TestBindFailure(t *testing.T) {
	conn := &fakeConn{bindErr: errors.New("invalid credentials")}
	client, err := NewWithDialer(testConfig(), func(string) (ldapConn, error) { return conn, nil })
	if err != nil {
		t.Fatalf("NewWithDialer() error = %v", err)
	}

	if _, err := client.FetchUsers(context.Background()); err == nil {
		t.Fatal("FetchUsers() expected bind error")
	}
	if !conn.closed {
		t.Error("connection must be closed after bind failure")
	}
}
