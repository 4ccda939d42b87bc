package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	ffximanager "github.com/atperry7/ffxi-manager-sub000"
)

// APIClient talks to a running daemon's diagnostics API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8391"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *APIClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s, start it with 'ffximgr serve': %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) GetStatus() (ffximanager.Status, error) {
	var st ffximanager.Status
	err := c.get("/status", &st)
	return st, err
}

func (c *APIClient) GetOrder() ([]ffximanager.Entity, error) {
	var out []ffximanager.Entity
	err := c.get("/order", &out)
	return out, err
}

func (c *APIClient) GetHistory(limit int) ([]ffximanager.Record, error) {
	var out []ffximanager.Record
	err := c.get(fmt.Sprintf("/history?limit=%d", limit), &out)
	return out, err
}

func (c *APIClient) MoveSlot(pid int32, slot int) error {
	body, err := json.Marshal(map[string]any{"pid": pid, "slot": slot})
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.baseURL+"/order/move", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s, start it with 'ffximgr serve': %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("daemon error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("daemon error: status %d", resp.StatusCode)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
