// Package dispatch speaks the trigger/stop protocol to the external worker.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"proxyward/internal/apperr"
	"proxyward/internal/logger"
	"proxyward/internal/model"
)

// ProxyInfo carries the decrypted credentials for one run's proxy. It exists
// only in the dispatch payload; it is never persisted or returned to callers.
type ProxyInfo struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Protocol        string `json:"protocol"`
	AuthUser        string `json:"auth_user"`
	AuthPass        string `json:"auth_pass"`
	ExpectedCountry string `json:"expected_country"`
	Label           string `json:"label"`
}

type Target struct {
	HTTPURL  string `json:"http_url"`
	HTTPSURL string `json:"https_url"`
}

type TriggerRun struct {
	RunID  string          `json:"run_id"`
	Proxy  ProxyInfo       `json:"proxy"`
	Config model.RunConfig `json:"config"`
	Target Target          `json:"target"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Trigger hands the prepared batch to the worker in a single call. Transport
// failures and non-2xx responses both come back as DispatchFailed; the caller
// owns the all-or-nothing rollback.
func (c *Client) Trigger(ctx context.Context, runs []TriggerRun) error {
	body, err := json.Marshal(map[string]interface{}{"runs": runs})
	if err != nil {
		return err
	}

	url := c.baseURL + "/trigger"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Dispatch("worker unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.Dispatch("worker responded %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// Stop notifies the worker that a run should wind down. Fire-and-forget:
// failures are logged by the caller, never surfaced to the user.
func (c *Client) Stop(ctx context.Context, runID string) error {
	body, _ := json.Marshal(map[string]string{"run_id": runID})

	url := c.baseURL + "/stop"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stop forward failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	logger.Log.Debugw("Stop forwarded to worker", "run_id", runID, "worker_url", url)
	return nil
}
