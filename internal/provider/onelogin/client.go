package onelogin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/dirsync/internal/provider"
)

const pageLimit = 200

// Client reads users and roles from the OneLogin API v2. OneLogin roles are
// surfaced as directory groups. Full enumeration only; OneLogin has no
// cursor-based change feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a OneLogin provider client using the client-credentials grant.
func New(cfg provider.Config) (provider.Client, error) {
	if cfg.OneLoginDomain == "" || cfg.OneLoginClientID == "" || cfg.OneLoginClientSecret == "" {
		return nil, fmt.Errorf("onelogin: onelogin_domain, onelogin_client_id and onelogin_client_secret are required")
	}

	baseURL := "https://" + cfg.OneLoginDomain
	cc := clientcredentials.Config{
		ClientID:     cfg.OneLoginClientID,
		ClientSecret: cfg.OneLoginClientSecret,
		TokenURL:     baseURL + "/auth/oauth2/v2/token",
	}

	httpClient := cc.Client(context.Background())
	httpClient.Timeout = 30 * time.Second

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}, nil
}

// NewWithBaseURL targets a custom endpoint without token exchange. Used by tests.
func NewWithBaseURL(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
}

type oneLoginUser struct {
	ID         int64   `json:"id"`
	Email      string  `json:"email"`
	Firstname  string  `json:"firstname"`
	Lastname   string  `json:"lastname"`
	Title      string  `json:"title"`
	Department string  `json:"department"`
	Phone      string  `json:"phone"`
	State      int     `json:"state"` // 1 = approved
	Status     int     `json:"status"`
	RoleIDs    []int64 `json:"role_ids"`
}

type oneLoginRole struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FetchUsers enumerates all users, following After-Cursor pagination.
func (c *Client) FetchUsers(ctx context.Context) ([]provider.User, error) {
	var users []provider.User
	cursor := ""

	for {
		url := fmt.Sprintf("%s/api/2/users?limit=%d", c.baseURL, pageLimit)
		if cursor != "" {
			url += "&cursor=" + cursor
		}

		var page []json.RawMessage
		nextCursor, err := c.getJSON(ctx, url, &page)
		if err != nil {
			return nil, fmt.Errorf("fetch users: %w", err)
		}

		for _, raw := range page {
			var ou oneLoginUser
			if err := json.Unmarshal(raw, &ou); err != nil {
				return nil, fmt.Errorf("fetch users: %w", err)
			}
			attrs := map[string]interface{}{}
			_ = json.Unmarshal(raw, &attrs)

			groups := make([]string, 0, len(ou.RoleIDs))
			for _, id := range ou.RoleIDs {
				groups = append(groups, fmt.Sprint(id))
			}

			users = append(users, provider.User{
				ExternalID:  fmt.Sprint(ou.ID),
				Email:       ou.Email,
				FirstName:   ou.Firstname,
				LastName:    ou.Lastname,
				DisplayName: ou.Firstname + " " + ou.Lastname,
				JobTitle:    ou.Title,
				Department:  ou.Department,
				Phone:       ou.Phone,
				Active:      ou.Status == 1,
				Groups:      groups,
				Attributes:  attrs,
			})
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	return users, nil
}

// FetchGroups enumerates all roles.
func (c *Client) FetchGroups(ctx context.Context) ([]provider.Group, error) {
	var groups []provider.Group
	cursor := ""

	for {
		url := fmt.Sprintf("%s/api/2/roles?limit=%d", c.baseURL, pageLimit)
		if cursor != "" {
			url += "&cursor=" + cursor
		}

		var page []oneLoginRole
		nextCursor, err := c.getJSON(ctx, url, &page)
		if err != nil {
			return nil, fmt.Errorf("fetch roles: %w", err)
		}

		for _, r := range page {
			groups = append(groups, provider.Group{
				ExternalID: fmt.Sprint(r.ID),
				Name:       r.Name,
				Attributes: map[string]interface{}{"name": r.Name},
			})
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	return groups, nil
}

// FetchDeltaChanges is not available for OneLogin.
func (c *Client) FetchDeltaChanges(ctx context.Context, cursor string) (provider.Delta, error) {
	return provider.Delta{}, provider.ErrDeltaNotSupported
}

// getJSON performs a rate-limited GET and returns the After-Cursor header for
// the next page, if any.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("onelogin request failed: %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", err
	}
	return resp.Header.Get("After-Cursor"), nil
}
