package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentguard/internal/models"
	"github.com/agentguard/internal/report"
)

const defaultBaseURL = "http://localhost:8080"

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClient builds a client from AGENTGUARD_API_URL and AGENTGUARD_TOKEN,
// falling back to the token saved by "login".
func NewClient() (*Client, error) {
	token := os.Getenv("AGENTGUARD_TOKEN")
	if token == "" {
		saved, err := LoadToken()
		if err != nil {
			return nil, err
		}
		token = saved
	}
	return New(os.Getenv("AGENTGUARD_API_URL"), token), nil
}

func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "agentguard", "token"), nil
}

// SaveToken stores token for later NewClient calls.
func SaveToken(token string) error {
	p, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	return os.WriteFile(p, []byte(token), 0600)
}

// LoadToken returns the saved token, or "" when none was saved.
func LoadToken() (string, error) {
	p, err := tokenPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

type PollResult struct {
	Subject  string              `json:"subject"`
	Metrics  []models.Metric     `json:"metrics"`
	Events   []models.AlertEvent `json:"events"`
	Resolved []models.Alert      `json:"resolved"`
	Wait     string              `json:"wait"`
	Error    string              `json:"error,omitempty"`
}

type TestRuleRequest struct {
	Rule    models.AlertRule `json:"rule"`
	Subject string           `json:"subject,omitempty"`
	Metrics []models.Metric  `json:"metrics,omitempty"`
}

type TestRuleResult struct {
	Rule      models.AlertRule `json:"rule"`
	Subject   string           `json:"subject"`
	Metrics   []models.Metric  `json:"metrics"`
	Alerts    []models.Alert   `json:"alerts"`
	Triggered bool             `json:"triggered"`
}

type HistoryQuery struct {
	Subject string
	Rule    string
	Level   string
	Since   string
	Limit   int
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.post(ctx, "/api/v1/auth/login", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) ListSubjects(ctx context.Context) ([]models.SubjectStatus, error) {
	var subjects []models.SubjectStatus
	if err := c.get(ctx, "/api/v1/subjects", nil, &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

func (c *Client) GetSubject(ctx context.Context, subject string) (*models.SubjectStatus, error) {
	var status models.SubjectStatus
	if err := c.get(ctx, "/api/v1/subjects/"+url.PathEscape(subject), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) PollSubject(ctx context.Context, subject string) (*PollResult, error) {
	var result PollResult
	if err := c.post(ctx, "/api/v1/subjects/"+url.PathEscape(subject)+"/poll", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListActiveAlerts(ctx context.Context, subject string) ([]models.Alert, error) {
	query := url.Values{}
	if subject != "" {
		query.Set("subject", subject)
	}
	var alerts []models.Alert
	if err := c.get(ctx, "/api/v1/alerts/active", query, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) ListAlertHistory(ctx context.Context, q HistoryQuery) ([]models.AlertEvent, error) {
	query := url.Values{}
	if q.Subject != "" {
		query.Set("subject", q.Subject)
	}
	if q.Rule != "" {
		query.Set("rule", q.Rule)
	}
	if q.Level != "" {
		query.Set("level", q.Level)
	}
	if q.Since != "" {
		query.Set("since", q.Since)
	}
	if q.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", q.Limit))
	}

	var events []models.AlertEvent
	if err := c.get(ctx, "/api/v1/alerts", query, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) ListRules(ctx context.Context, enabled *bool) ([]models.AlertRule, error) {
	query := url.Values{}
	if enabled != nil {
		query.Set("enabled", fmt.Sprintf("%t", *enabled))
	}
	var rules []models.AlertRule
	if err := c.get(ctx, "/api/v1/rules", query, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *Client) TestRule(ctx context.Context, req *TestRuleRequest) (*TestRuleResult, error) {
	var result TestRuleResult
	if err := c.post(ctx, "/api/v1/rules/test", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetReport(ctx context.Context, start, end time.Time) (*report.ReportData, error) {
	query := url.Values{}
	query.Set("start", start.Format(time.RFC3339))
	query.Set("end", end.Format(time.RFC3339))

	var data report.ReportData
	if err := c.get(ctx, "/api/v1/reports/summary", query, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) MonitorStats(ctx context.Context) (map[string]interface{}, error) {
	var stats map[string]interface{}
	if err := c.get(ctx, "/api/v1/monitor/stats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, v interface{}) error {
	resp, err := c.doRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(ctx context.Context, endpoint string, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("API error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return resp, nil
}
