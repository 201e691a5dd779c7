// Package keycloak is the directory-service collaborator: a thin REST
// client for the Keycloak admin API that hands back stable group and user
// records. The sync manager only depends on the Directory interface, so
// tests swap in fakes.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Group is one external group record.
type Group struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// User is one external user record.
type User struct {
	ID         string              `json:"id"`
	Username   string              `json:"username"`
	Email      string              `json:"email"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// ConnectionStatus is the outcome of a connectivity probe.
type ConnectionStatus struct {
	Success bool
	Message string
}

// Directory is what the sync manager needs from the identity provider.
type Directory interface {
	TestConnection(ctx context.Context) ConnectionStatus
	GetAllGroups(ctx context.Context) ([]Group, error)
	GetUsers(ctx context.Context, filter string, limit, offset int) ([]User, error)
	GetGroupMembers(ctx context.Context, groupID string, offset, limit int) ([]User, error)
}

// Config carries the connection parameters, resolved once at process start.
type Config struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string
	PageSize     int
}

// Client talks to the Keycloak admin REST API using the client-credentials
// grant, refreshing its token shortly before expiry.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ Directory = (*Client)(nil)

// NewClient returns a Client; no connection is made until the first call.
func NewClient(cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// TestConnection fetches a token and probes the realm endpoint.
func (c *Client) TestConnection(ctx context.Context) ConnectionStatus {
	if err := c.ensureToken(ctx); err != nil {
		return ConnectionStatus{Success: false, Message: fmt.Sprintf("token request failed: %v", err)}
	}
	var realm struct {
		Realm string `json:"realm"`
	}
	if err := c.get(ctx, "/admin/realms/"+c.cfg.Realm, nil, &realm); err != nil {
		return ConnectionStatus{Success: false, Message: fmt.Sprintf("realm lookup failed: %v", err)}
	}
	return ConnectionStatus{Success: true, Message: fmt.Sprintf("connected to realm %q", realm.Realm)}
}

// GetAllGroups pages through the realm's top-level groups until a short
// page signals the end.
func (c *Client) GetAllGroups(ctx context.Context) ([]Group, error) {
	var all []Group
	for offset := 0; ; offset += c.cfg.PageSize {
		page, err := c.groupPage(ctx, offset, c.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.cfg.PageSize {
			return all, nil
		}
	}
}

func (c *Client) groupPage(ctx context.Context, offset, limit int) ([]Group, error) {
	q := url.Values{}
	q.Set("first", strconv.Itoa(offset))
	q.Set("max", strconv.Itoa(limit))
	q.Set("briefRepresentation", "false")

	var groups []Group
	if err := c.get(ctx, "/admin/realms/"+c.cfg.Realm+"/groups", q, &groups); err != nil {
		return nil, fmt.Errorf("fetching groups: %w", err)
	}
	return groups, nil
}

// GetUsers fetches one page of users, optionally filtered by a search term.
func (c *Client) GetUsers(ctx context.Context, filter string, limit, offset int) ([]User, error) {
	q := url.Values{}
	q.Set("first", strconv.Itoa(offset))
	q.Set("max", strconv.Itoa(limit))
	if filter != "" {
		q.Set("search", filter)
	}

	var users []User
	if err := c.get(ctx, "/admin/realms/"+c.cfg.Realm+"/users", q, &users); err != nil {
		return nil, fmt.Errorf("fetching users: %w", err)
	}
	return users, nil
}

// GetGroupMembers fetches one page of a group's members.
func (c *Client) GetGroupMembers(ctx context.Context, groupID string, offset, limit int) ([]User, error) {
	q := url.Values{}
	q.Set("first", strconv.Itoa(offset))
	q.Set("max", strconv.Itoa(limit))

	var users []User
	path := "/admin/realms/" + c.cfg.Realm + "/groups/" + groupID + "/members"
	if err := c.get(ctx, path, q, &users); err != nil {
		return nil, fmt.Errorf("fetching members of group %s: %w", groupID, err)
	}
	return users, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	u := strings.TrimRight(c.cfg.ServerURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ensureToken fetches a client-credentials token when none is held or the
// current one is within a minute of expiry.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	u := strings.TrimRight(c.cfg.ServerURL, "/") + "/realms/" + c.cfg.Realm + "/protocol/openid-connect/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return err
	}
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	log.Debug().Time("expires", c.tokenExpiry).Msg("refreshed keycloak token")
	return nil
}
