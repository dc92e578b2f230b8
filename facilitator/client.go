// Package facilitator implements the HTTP client for the external
// settlement-confirmation service. The facilitator is a network boundary:
// the engine submits evidence and reads settlement status through it, and
// nothing else.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/axobase/agentpay"
)

// DefaultTimeout bounds every facilitator request so a stalled facilitator
// cannot hang the agent.
const DefaultTimeout = 30 * time.Second

// Config configures the facilitator client.
type Config struct {
	// URL is the base URL of the facilitator service.
	URL string

	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client

	// Timeout for requests when no HTTPClient is supplied.
	Timeout time.Duration
}

// Client talks to a settlement facilitator over HTTP. It implements the
// engine's FacilitatorClient interface.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a facilitator client.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{url: cfg.URL, httpClient: httpClient}
}

type evidenceResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status agentpay.SettlementStatus `json:"status"`
	Error  string                    `json:"error,omitempty"`
}

// SubmitEvidence posts proof-of-payment evidence to the facilitator's
// evidence endpoint.
func (c *Client) SubmitEvidence(ctx context.Context, ev *agentpay.Evidence) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/evidence", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create evidence request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evidence request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read evidence response: %w", err)
	}

	var decoded evidenceResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return fmt.Errorf("facilitator evidence failed (%d): %s", resp.StatusCode, string(responseBody))
	}
	if resp.StatusCode != http.StatusOK || !decoded.Success {
		reason := decoded.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("facilitator rejected evidence: %s", reason)
	}
	return nil
}

// Status reads the settlement status of a transaction.
func (c *Client) Status(ctx context.Context, txHash string) (agentpay.SettlementStatus, error) {
	endpoint := c.url + "/status/" + url.PathEscape(txHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("facilitator status failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	var decoded statusResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}
	switch decoded.Status {
	case agentpay.SettlementPending, agentpay.SettlementConfirmed, agentpay.SettlementFailed:
		return decoded.Status, nil
	default:
		return "", fmt.Errorf("facilitator returned unknown status %q", decoded.Status)
	}
}
