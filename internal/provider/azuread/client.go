package azuread

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/dhawalhost/dirsync/internal/provider"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	defaultLoginBaseURL = "https://login.microsoftonline.com"

	userSelect = "id,displayName,givenName,surname,mail,userPrincipalName,jobTitle,department,mobilePhone,accountEnabled"
)

// Client talks to Azure AD (Microsoft Entra ID) via the Microsoft Graph API.
// Supports full enumeration and delta queries for users.
type Client struct {
	graphBaseURL string
	httpClient   *http.Client
}

// New creates an Azure AD provider client authenticated with the OAuth2
// client-credentials grant.
func New(cfg provider.Config) (provider.Client, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("azure ad: tenant_id, client_id and client_secret are required")
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", defaultLoginBaseURL, cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	httpClient := cc.Client(context.Background())
	httpClient.Timeout = 30 * time.Second

	return &Client{
		graphBaseURL: defaultGraphBaseURL,
		httpClient:   httpClient,
	}, nil
}

// NewWithEndpoint is like New but targets a custom Graph endpoint and HTTP
// client. Used by tests.
func NewWithEndpoint(graphBaseURL string, httpClient *http.Client) *Client {
	return &Client{graphBaseURL: graphBaseURL, httpClient: httpClient}
}

type graphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle"`
	Department        string `json:"department"`
	MobilePhone       string `json:"mobilePhone"`
	AccountEnabled    bool   `json:"accountEnabled"`
	Removed           *struct {
		Reason string `json:"reason"`
	} `json:"@removed,omitempty"`
}

type graphGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	ODataType   string `json:"@odata.type"`
}

// FetchUsers enumerates all users, following @odata.nextLink pagination, then
// resolves each user's group memberships via /memberOf.
func (c *Client) FetchUsers(ctx context.Context) ([]provider.User, error) {
	var users []provider.User
	next := fmt.Sprintf("%s/users?$select=%s", c.graphBaseURL, userSelect)

	for next != "" {
		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("fetch users: %w", err)
		}

		for _, raw := range page.Value {
			u, err := toUser(raw)
			if err != nil {
				return nil, fmt.Errorf("fetch users: %w", err)
			}
			users = append(users, u)
		}
		next = page.NextLink
	}

	for i := range users {
		groups, err := c.fetchMemberOf(ctx, users[i].ExternalID)
		if err != nil {
			return nil, fmt.Errorf("fetch memberships for %s: %w", users[i].ExternalID, err)
		}
		users[i].Groups = groups
	}

	return users, nil
}

// FetchGroups enumerates all groups, following @odata.nextLink pagination.
func (c *Client) FetchGroups(ctx context.Context) ([]provider.Group, error) {
	var groups []provider.Group
	next := fmt.Sprintf("%s/groups?$select=id,displayName,description", c.graphBaseURL)

	for next != "" {
		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("fetch groups: %w", err)
		}

		for _, raw := range page.Value {
			var g graphGroup
			if err := json.Unmarshal(raw, &g); err != nil {
				return nil, fmt.Errorf("fetch groups: %w", err)
			}
			attrs := map[string]interface{}{}
			_ = json.Unmarshal(raw, &attrs)
			groups = append(groups, provider.Group{
				ExternalID:  g.ID,
				Name:        g.DisplayName,
				Description: g.Description,
				Attributes:  attrs,
			})
		}
		next = page.NextLink
	}

	return groups, nil
}

// FetchDeltaChanges consumes the Graph users delta feed. An empty cursor
// starts a new delta cycle; otherwise the cursor is the deltaLink from the
// previous run. Entries flagged @removed become delete operations, everything
// else an update (Graph does not distinguish create from update in deltas).
func (c *Client) FetchDeltaChanges(ctx context.Context, cursor string) (provider.Delta, error) {
	next := cursor
	if next == "" {
		next = fmt.Sprintf("%s/users/delta?$select=%s", c.graphBaseURL, userSelect)
	}

	delta := provider.Delta{}
	for next != "" {
		var page struct {
			Value     []json.RawMessage `json:"value"`
			NextLink  string            `json:"@odata.nextLink"`
			DeltaLink string            `json:"@odata.deltaLink"`
		}
		if err := c.getJSON(ctx, next, &page); err != nil {
			return provider.Delta{}, fmt.Errorf("fetch delta: %w", err)
		}

		for _, raw := range page.Value {
			var gu graphUser
			if err := json.Unmarshal(raw, &gu); err != nil {
				return provider.Delta{}, fmt.Errorf("fetch delta: %w", err)
			}
			if gu.Removed != nil {
				delta.UserChanges = append(delta.UserChanges, provider.UserChange{
					Operation:  provider.OpDelete,
					ExternalID: gu.ID,
				})
				continue
			}
			u, err := toUser(raw)
			if err != nil {
				return provider.Delta{}, fmt.Errorf("fetch delta: %w", err)
			}
			delta.UserChanges = append(delta.UserChanges, provider.UserChange{
				Operation:  provider.OpUpdate,
				ExternalID: gu.ID,
				User:       &u,
			})
		}

		if page.DeltaLink != "" {
			delta.NewDeltaLink = page.DeltaLink
			break
		}
		next = page.NextLink
	}

	return delta, nil
}

func (c *Client) fetchMemberOf(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	next := fmt.Sprintf("%s/users/%s/memberOf?$select=id,displayName", c.graphBaseURL, userID)

	for next != "" {
		var page struct {
			Value    []graphGroup `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Value {
			// memberOf also returns directory roles; only keep groups.
			if g.ODataType != "" && g.ODataType != "#microsoft.graph.group" {
				continue
			}
			ids = append(ids, g.ID)
		}
		next = page.NextLink
	}
	return ids, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph request failed: %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func toUser(raw json.RawMessage) (provider.User, error) {
	var gu graphUser
	if err := json.Unmarshal(raw, &gu); err != nil {
		return provider.User{}, err
	}
	attrs := map[string]interface{}{}
	_ = json.Unmarshal(raw, &attrs)

	email := gu.Mail
	if email == "" {
		email = gu.UserPrincipalName
	}
	return provider.User{
		ExternalID:  gu.ID,
		Email:       email,
		FirstName:   gu.GivenName,
		LastName:    gu.Surname,
		DisplayName: gu.DisplayName,
		JobTitle:    gu.JobTitle,
		Department:  gu.Department,
		Phone:       gu.MobilePhone,
		Active:      gu.AccountEnabled,
		Attributes:  attrs,
	}, nil
}
