package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const alertsPath = "/api/authority/alerts"

// Client talks to the dashboard REST API. Only the alerts snapshot is
// needed by the delivery subsystem.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchAlerts returns the raw alert objects of the current snapshot.
func (c *Client) FetchAlerts(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+alertsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading resp.Body: %w", err)
	}

	return ParseAlertList(body), nil
}

// ParseAlertList accepts a bare array or an object wrapping the array in
// "alerts", "data" or "items". Any other shape is an empty list.
func ParseAlertList(body []byte) []json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil && list != nil {
		return list
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		slog.Warn("alerts response is not JSON", "error", err)
		return []json.RawMessage{}
	}
	for _, key := range []string{"alerts", "data", "items"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err == nil && list != nil {
			return list
		}
	}

	slog.Warn("alerts response has unexpected shape, treating as empty")
	return []json.RawMessage{}
}
