package crewlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Crewline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Brawler represents an account.
type Brawler struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

// Passport is the bearer ticket issued by login.
type Passport struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Mission represents the API mission model.
type Mission struct {
	ID          int64  `json:"id"`
	ChiefID     int64  `json:"chief_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CrewCount   int64  `json:"crew_count"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// CrewMember is one roster entry.
type CrewMember struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates a brawler account.
func (c *Client) Register(ctx context.Context, username, password string) (Brawler, error) {
	body := map[string]any{"username": username, "password": password}
	var resp Brawler
	err := c.do(ctx, http.MethodPost, "v1/brawlers/register", body, &resp)
	return resp, err
}

// Login exchanges credentials for a passport and stores the bearer token on
// the client.
func (c *Client) Login(ctx context.Context, username, password string) (Passport, error) {
	body := map[string]any{"username": username, "password": password}
	var resp Passport
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return Passport{}, err
	}
	c.BearerToken = resp.AccessToken
	return resp, nil
}

// Me returns the authenticated brawler.
func (c *Client) Me(ctx context.Context) (Brawler, error) {
	var resp Brawler
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

// CreateMission creates a mission owned by the authenticated brawler.
func (c *Client) CreateMission(ctx context.Context, name, description string) (Mission, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v1/missions", body, &resp)
	return resp, err
}

// Missions lists missions, optionally filtered by status and name substring.
func (c *Client) Missions(ctx context.Context, status, name string) ([]Mission, error) {
	endpoint := "v1/missions"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if name != "" {
		params.Set("name", name)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Mission
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Mission fetches one mission with its crew count.
func (c *Client) Mission(ctx context.Context, id int64) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, c.missionPath(id, ""), nil, &resp)
	return resp, err
}

// UpdateMission edits the name and/or description of an owned mission.
func (c *Client) UpdateMission(ctx context.Context, id int64, name, description *string) (Mission, error) {
	body := map[string]any{}
	if name != nil {
		body["name"] = *name
	}
	if description != nil {
		body["description"] = *description
	}
	var resp Mission
	err := c.do(ctx, http.MethodPatch, c.missionPath(id, ""), body, &resp)
	return resp, err
}

// RemoveMission soft-deletes an owned mission.
func (c *Client) RemoveMission(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, c.missionPath(id, ""), nil, nil)
}

// StartMission moves an owned mission to InProgress.
func (c *Client) StartMission(ctx context.Context, id int64) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPatch, c.missionPath(id, "in-progress"), nil, &resp)
	return resp, err
}

// CompleteMission moves an owned mission to Completed.
func (c *Client) CompleteMission(ctx context.Context, id int64) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPatch, c.missionPath(id, "to-completed"), nil, &resp)
	return resp, err
}

// FailMission moves an owned mission to Failed.
func (c *Client) FailMission(ctx context.Context, id int64) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPatch, c.missionPath(id, "to-failed"), nil, &resp)
	return resp, err
}

// JoinCrew adds the authenticated brawler to a mission crew.
func (c *Client) JoinCrew(ctx context.Context, missionID int64) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "crew/join"), nil, &resp)
	return resp, err
}

// LeaveCrew removes the authenticated brawler from a mission crew.
func (c *Client) LeaveCrew(ctx context.Context, missionID int64) error {
	return c.do(ctx, http.MethodDelete, c.missionPath(missionID, "crew/leave"), nil, nil)
}

// Roster returns the crew of a mission.
func (c *Client) Roster(ctx context.Context, missionID int64) ([]CrewMember, error) {
	var resp []CrewMember
	err := c.do(ctx, http.MethodGet, c.missionPath(missionID, "crew"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) missionPath(id int64, suffix string) string {
	p := fmt.Sprintf("v1/missions/%d", id)
	if suffix != "" {
		p += "/" + strings.TrimLeft(suffix, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
