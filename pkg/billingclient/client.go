/**
 * @description
 * This package provides a client for the billing-service's internal API.
 * Feature services (evidence scans, outreach generation) import it to spend
 * credits before doing billable work, and the account service uses it to
 * trigger the signup bonus when broker delivery is unavailable.
 */
package billingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientCredits is returned when the billing service rejects a spend
// because the user's balance cannot cover it.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Client is a client for the billing service's internal endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new billing service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SpendRequest defines the payload for an internal credit spend.
type SpendRequest struct {
	UserID        uuid.UUID  `json:"user_id"`
	Amount        int64      `json:"amount"`
	Reason        string     `json:"reason"`
	ReferenceType string     `json:"reference_type"`
	ReferenceID   *uuid.UUID `json:"reference_id,omitempty"`
}

// SpendResponse is the ledger entry the billing service created for the spend.
type SpendResponse struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
}

// SpendCredits debits credits for a feature action. ErrInsufficientCredits
// means the caller should surface an upsell, not retry.
func (c *Client) SpendCredits(ctx context.Context, req SpendRequest) (*SpendResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("billing service base url is empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/internal/credits/spend", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to billing service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, ErrInsufficientCredits
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("billing service returned error status %d", resp.StatusCode)
	}

	var response SpendResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

// SignupBonusResponse reports whether the bonus was newly granted.
type SignupBonusResponse struct {
	AlreadyGranted bool `json:"already_granted"`
}

// GrantSignupBonus asks the billing service to grant the one-time welcome
// bonus. Safe to call more than once.
func (c *Client) GrantSignupBonus(ctx context.Context, userID uuid.UUID) (*SignupBonusResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("billing service base url is empty")
	}

	body, err := json.Marshal(map[string]string{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/internal/credits/signup-bonus", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to billing service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("billing service returned error status %d", resp.StatusCode)
	}

	var response SignupBonusResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}
}
