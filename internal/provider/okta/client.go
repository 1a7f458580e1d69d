package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/dhawalhost/dirsync/internal/provider"
)

const (
	pageLimit = 200

	// Okta's default org-wide limit for the users endpoint is 600/min;
	// stay comfortably below it.
	requestsPerSecond = 5
)

var nextLinkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// Client reads users and groups from Okta via the Users and Groups APIs.
// Delta sync polls the Users API with a lastUpdated filter; the cursor is an
// RFC3339 timestamp.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// New creates an Okta provider client.
func New(cfg provider.Config) (provider.Client, error) {
	if cfg.OktaDomain == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("okta: okta_domain and api_token are required")
	}
	return &Client{
		baseURL:    "https://" + cfg.OktaDomain,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		now:        time.Now,
	}, nil
}

// NewWithBaseURL targets a custom endpoint. Used by tests.
func NewWithBaseURL(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		now:        time.Now,
	}
}

type oktaUser struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	LastUpdated string          `json:"lastUpdated"`
	Profile     json.RawMessage `json:"profile"`
}

type oktaProfile struct {
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"displayName"`
	Title       string `json:"title"`
	Department  string `json:"department"`
	MobilePhone string `json:"mobilePhone"`
}

type oktaGroup struct {
	ID      string `json:"id"`
	Profile struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"profile"`
}

// FetchUsers enumerates all users, following Link header pagination, then
// resolves group memberships per user.
func (c *Client) FetchUsers(ctx context.Context) ([]provider.User, error) {
	users, err := c.fetchUserPages(ctx, fmt.Sprintf("%s/api/v1/users?limit=%d", c.baseURL, pageLimit))
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}

	for i := range users {
		groups, err := c.fetchUserGroups(ctx, users[i].ExternalID)
		if err != nil {
			return nil, fmt.Errorf("fetch memberships for %s: %w", users[i].ExternalID, err)
		}
		users[i].Groups = groups
	}
	return users, nil
}

// FetchGroups enumerates all groups, following Link header pagination.
func (c *Client) FetchGroups(ctx context.Context) ([]provider.Group, error) {
	var groups []provider.Group
	next := fmt.Sprintf("%s/api/v1/groups?limit=%d", c.baseURL, pageLimit)

	for next != "" {
		var page []oktaGroup
		nextLink, err := c.getJSON(ctx, next, &page)
		if err != nil {
			return nil, fmt.Errorf("fetch groups: %w", err)
		}
		for _, og := range page {
			groups = append(groups, provider.Group{
				ExternalID:  og.ID,
				Name:        og.Profile.Name,
				Description: og.Profile.Description,
				Attributes:  map[string]interface{}{"name": og.Profile.Name, "description": og.Profile.Description},
			})
		}
		next = nextLink
	}
	return groups, nil
}

// FetchDeltaChanges polls the Users API for records whose lastUpdated is past
// the cursor. Every hit is an update operation; a DEPROVISIONED status
// surfaces as an inactive user rather than a delete, since Okta keeps the
// record around. The new cursor is the max lastUpdated seen.
func (c *Client) FetchDeltaChanges(ctx context.Context, cursor string) (provider.Delta, error) {
	since := cursor
	if since == "" {
		since = "1970-01-01T00:00:00.000Z"
	}

	query := url.Values{}
	query.Set("limit", fmt.Sprint(pageLimit))
	query.Set("filter", fmt.Sprintf(`lastUpdated gt "%s"`, since))
	users, err := c.fetchUserPages(ctx, fmt.Sprintf("%s/api/v1/users?%s", c.baseURL, query.Encode()))
	if err != nil {
		return provider.Delta{}, fmt.Errorf("fetch delta: %w", err)
	}

	delta := provider.Delta{NewDeltaLink: since}
	for i := range users {
		u := users[i]
		groups, err := c.fetchUserGroups(ctx, u.ExternalID)
		if err != nil {
			return provider.Delta{}, fmt.Errorf("fetch memberships for %s: %w", u.ExternalID, err)
		}
		u.Groups = groups

		delta.UserChanges = append(delta.UserChanges, provider.UserChange{
			Operation:  provider.OpUpdate,
			ExternalID: u.ExternalID,
			User:       &u,
		})

		if lu, ok := u.Attributes["lastUpdated"].(string); ok && lu > delta.NewDeltaLink {
			delta.NewDeltaLink = lu
		}
	}

	if delta.NewDeltaLink == "" || delta.NewDeltaLink == "1970-01-01T00:00:00.000Z" {
		delta.NewDeltaLink = c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return delta, nil
}

func (c *Client) fetchUserPages(ctx context.Context, first string) ([]provider.User, error) {
	var users []provider.User
	next := first

	for next != "" {
		var page []oktaUser
		nextLink, err := c.getJSON(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		for _, ou := range page {
			users = append(users, toUser(ou))
		}
		next = nextLink
	}
	return users, nil
}

func (c *Client) fetchUserGroups(ctx context.Context, userID string) ([]string, error) {
	var page []oktaGroup
	if _, err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/users/%s/groups", c.baseURL, userID), &page); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page))
	for _, g := range page {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// getJSON performs a rate-limited GET and returns the rel="next" link from
// the Link header, if any.
func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "SSWS "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("okta request failed: %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", err
	}

	for _, link := range resp.Header.Values("Link") {
		if m := nextLinkRegex.FindStringSubmatch(link); m != nil {
			return m[1], nil
		}
	}
	return "", nil
}

func toUser(ou oktaUser) provider.User {
	var p oktaProfile
	_ = json.Unmarshal(ou.Profile, &p)

	attrs := map[string]interface{}{}
	_ = json.Unmarshal(ou.Profile, &attrs)
	attrs["status"] = ou.Status
	attrs["lastUpdated"] = ou.LastUpdated

	display := p.DisplayName
	if display == "" {
		display = p.FirstName + " " + p.LastName
	}
	return provider.User{
		ExternalID:  ou.ID,
		Email:       p.Email,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DisplayName: display,
		JobTitle:    p.Title,
		Department:  p.Department,
		Phone:       p.MobilePhone,
		Active:      ou.Status == "ACTIVE",
		Attributes:  attrs,
	}
}
