package ldapdir

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/dhawalhost/dirsync/internal/provider"
)

const (
	defaultUserFilter  = "(objectClass=inetOrgPerson)"
	defaultGroupFilter = "(objectClass=groupOfNames)"
)

var userAttributes = []string{"uid", "cn", "sn", "givenName", "mail", "displayName", "title", "departmentNumber", "telephoneNumber"}

// Client reads users and groups from a generic LDAP directory. The entry DN
// is the external identifier. Full-scan only; LDAP has no portable change
// feed, so delta sync is unsupported.
type Client struct {
	url          string
	bindDN       string
	bindPassword string
	baseDN       string
	userFilter   string
	groupFilter  string

	dial func(url string) (ldapConn, error)
}

// ldapConn is the subset of *ldap.Conn the client uses; tests substitute it.
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// New creates an LDAP provider client.
func New(cfg provider.Config) (provider.Client, error) {
	if cfg.LDAPURL == "" || cfg.LDAPBaseDN == "" {
		return nil, fmt.Errorf("ldap: ldap_url and ldap_base_dn are required")
	}

	c := &Client{
		url:          cfg.LDAPURL,
		bindDN:       cfg.LDAPBindDN,
		bindPassword: cfg.LDAPBindPassword,
		baseDN:       cfg.LDAPBaseDN,
		userFilter:   cfg.LDAPUserFilter,
		groupFilter:  cfg.LDAPGroupFilter,
		dial: func(url string) (ldapConn, error) {
			return ldap.DialURL(url)
		},
	}
	if c.userFilter == "" {
		c.userFilter = defaultUserFilter
	}
	if c.groupFilter == "" {
		c.groupFilter = defaultGroupFilter
	}
	return c, nil
}

// NewWithDialer is like New but uses a custom dialer. Used by tests.
func NewWithDialer(cfg provider.Config, dial func(url string) (ldapConn, error)) (*Client, error) {
	client, err := New(cfg)
	if err != nil {
		return nil, err
	}
	c := client.(*Client)
	c.dial = dial
	return c, nil
}

// FetchUsers searches the user subtree and resolves group memberships from
// the groups' member attributes.
func (c *Client) FetchUsers(ctx context.Context) ([]provider.User, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	result, err := conn.Search(&ldap.SearchRequest{
		BaseDN:     c.baseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     c.userFilter,
		Attributes: userAttributes,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}

	memberIndex, err := c.memberIndex(conn)
	if err != nil {
		return nil, fmt.Errorf("fetch memberships: %w", err)
	}

	users := make([]provider.User, 0, len(result.Entries))
	for _, entry := range result.Entries {
		attrs := map[string]interface{}{"dn": entry.DN}
		for _, a := range entry.Attributes {
			if len(a.Values) == 1 {
				attrs[a.Name] = a.Values[0]
			} else {
				attrs[a.Name] = a.Values
			}
		}

		users = append(users, provider.User{
			ExternalID:  entry.DN,
			Email:       entry.GetAttributeValue("mail"),
			FirstName:   entry.GetAttributeValue("givenName"),
			LastName:    entry.GetAttributeValue("sn"),
			DisplayName: entry.GetAttributeValue("displayName"),
			JobTitle:    entry.GetAttributeValue("title"),
			Department:  entry.GetAttributeValue("departmentNumber"),
			Phone:       entry.GetAttributeValue("telephoneNumber"),
			// LDAP has no portable account-enabled flag.
			Active:     true,
			Groups:     memberIndex[entry.DN],
			Attributes: attrs,
		})
	}
	return users, nil
}

// FetchGroups searches the group subtree.
func (c *Client) FetchGroups(ctx context.Context) ([]provider.Group, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	result, err := conn.Search(&ldap.SearchRequest{
		BaseDN:     c.baseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     c.groupFilter,
		Attributes: []string{"cn", "description", "member"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch groups: %w", err)
	}

	groups := make([]provider.Group, 0, len(result.Entries))
	for _, entry := range result.Entries {
		groups = append(groups, provider.Group{
			ExternalID:  entry.DN,
			Name:        entry.GetAttributeValue("cn"),
			Description: entry.GetAttributeValue("description"),
			Members:     entry.GetAttributeValues("member"),
			Attributes:  map[string]interface{}{"dn": entry.DN, "cn": entry.GetAttributeValue("cn")},
		})
	}
	return groups, nil
}

// FetchDeltaChanges is not available for generic LDAP.
func (c *Client) FetchDeltaChanges(ctx context.Context, cursor string) (provider.Delta, error) {
	return provider.Delta{}, provider.ErrDeltaNotSupported
}

func (c *Client) connect() (ldapConn, error) {
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("ldap dial: %w", err)
	}
	if c.bindDN != "" {
		if err := conn.Bind(c.bindDN, c.bindPassword); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ldap bind: %w", err)
		}
	}
	return conn, nil
}

// memberIndex maps a user DN to the DNs of the groups listing it as member.
func (c *Client) memberIndex(conn ldapConn) (map[string][]string, error) {
	result, err := conn.Search(&ldap.SearchRequest{
		BaseDN:     c.baseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     c.groupFilter,
		Attributes: []string{"member"},
	})
	if err != nil {
		return nil, err
	}

	index := make(map[string][]string)
	for _, entry := range result.Entries {
		for _, memberDN := range entry.GetAttributeValues("member") {
			index[memberDN] = append(index[memberDN], entry.DN)
		}
	}
	return index, nil
}
