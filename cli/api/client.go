package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

type LogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

type Step struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Logs        []LogEntry `json:"logs,omitempty"`
}

type Build struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	UserID     string    `json:"userId"`
	CommitID   string    `json:"commitId"`
	Version    string    `json:"version"`
	Message    string    `json:"message"`
	ActionID   string    `json:"actionId"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     string    `json:"status"`
	Steps      []Step    `json:"steps"`
}

type CreateBuildRequest struct {
	ResourceID string `json:"resourceId"`
	UserID     string `json:"userId"`
	CommitID   string `json:"commitId"`
	Message    string `json:"message,omitempty"`
}

type Query struct {
	SQL      string        `json:"sql"`
	Duration time.Duration `json:"durationNs"`
	Err      string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

func (c *Client) Health() (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) CreateBuild(req CreateBuildRequest) (*Build, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var b Build
	if err := c.post("/api/builds", string(body), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBuild(id string) (*Build, error) {
	var b Build
	if err := c.get("/api/builds/"+id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) ListBuilds(resourceID string, limit int) ([]Build, error) {
	q := url.Values{}
	if resourceID != "" {
		q.Set("resource", resourceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/builds"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var builds []Build
	if err := c.get(path, &builds); err != nil {
		return nil, err
	}
	return builds, nil
}

// BuildLog returns the plain-text log of every step of the build.
func (c *Client) BuildLog(id string) (string, error) {
	resp, err := c.do(http.MethodGet, "/api/builds/"+id+"/log", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

func (c *Client) Queries() ([]Query, error) {
	var qs []Query
	if err := c.get("/api/debug/queries", &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

func (c *Client) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

func (c *Client) get(path string, v any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path, body string, v any) error {
	resp, err := c.do(http.MethodPost, path, strings.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) WebSocketURL() string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + "/ws"
}
