package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlaveHealth is the last known health of one slave.
type SlaveHealth struct {
	Addr             string    `json:"addr"`
	Status           string    `json:"status"` // "healthy", "unhealthy" or "unknown"
	LastCheck        time.Time `json:"lastCheck"`
	LastHealthy      time.Time `json:"lastHealthy"`
	ConsecutiveFails int       `json:"consecutiveFails"`
}

// Status is the payload of /.api/clusterStatus.
type Status struct {
	Role       string        `json:"role"`
	Master     string        `json:"master,omitempty"`
	Slaves     []SlaveHealth `json:"slaves,omitempty"`
	Rebuilding bool          `json:"rebuilding"`
	RebuildID  string        `json:"rebuildId,omitempty"`
	Artifacts  int           `json:"artifacts"`
	CacheHits  uint64        `json:"cacheHits"`
	CacheSize  string        `json:"cacheSize"`
}

// Envelope is the JSON shape of every /.api/ response.
type Envelope struct {
	Auth   any    `json:"auth"`
	Status string `json:"status"`
	Data   any    `json:"data"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts body as JSON to url and decodes the response into out
// unless out is nil. Non-2xx statuses are errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
