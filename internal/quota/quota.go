// Package quota consumes the billing collaborator's quota interface.
// Quota is checked once per campaign start or resume, never per
// message.
package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies the quota being consumed.
type Kind string

const KindCampaignMessages Kind = "campaign_messages"

// Checker decides whether an owner may consume amount units of a
// quota kind.
type Checker interface {
	Check(ctx context.Context, ownerID string, kind Kind, amount int) (bool, error)
}

// AllowAll permits everything; used when no billing service is
// configured.
type AllowAll struct{}

func (AllowAll) Check(ctx context.Context, ownerID string, kind Kind, amount int) (bool, error) {
	return true, nil
}

// HTTPChecker queries the billing service's quota endpoint.
type HTTPChecker struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPChecker(baseURL, apiKey string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChecker{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type checkRequest struct {
	OwnerID string `json:"owner_id"`
	Kind    Kind   `json:"kind"`
	Amount  int    `json:"amount"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (c *HTTPChecker) Check(ctx context.Context, ownerID string, kind Kind, amount int) (bool, error) {
	data, err := json.Marshal(checkRequest{OwnerID: ownerID, Kind: kind, Amount: amount})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/quota/check", bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("quota service returned HTTP %d", resp.StatusCode)
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return out.Allowed, nil
}
