package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/protocol"
)

// APIClient talks to a running API server.
type APIClient struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// NewAPIClient creates a client for baseURL. adminToken (user:pass) is sent
// as basic auth when set.
func NewAPIClient(baseURL, adminToken string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.adminToken != "" {
		user, pass := parseAdminToken(c.adminToken)
		req.SetBasicAuth(user, pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RegisterClient registers a client's public key.
func (c *APIClient) RegisterClient(ctx context.Context, clientID string, publicKey crypto.PublicKey) error {
	return c.do(ctx, http.MethodPost, "/clients", &RegisterClientRequest{ClientID: clientID, PublicKey: publicKey.String()}, nil)
}

// ListClients returns the registered clients.
func (c *APIClient) ListClients(ctx context.Context) ([]*ClientResponse, error) {
	var resp ClientListResponse
	if err := c.do(ctx, http.MethodGet, "/clients", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

// OpenRound opens a new round.
func (c *APIClient) OpenRound(ctx context.Context) (protocol.RoundID, error) {
	var resp OpenRoundResponse
	if err := c.do(ctx, http.MethodPost, "/rounds", nil, &resp); err != nil {
		return 0, err
	}
	return resp.RoundID, nil
}

// ListRounds returns all rounds, newest first.
func (c *APIClient) ListRounds(ctx context.Context) ([]*protocol.Round, error) {
	var resp RoundListResponse
	if err := c.do(ctx, http.MethodGet, "/rounds", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rounds, nil
}

// SubmitUpdate appends a package to a round.
func (c *APIClient) SubmitUpdate(ctx context.Context, round protocol.RoundID, pkg *protocol.UpdatePackage) (*SubmitUpdateResponse, error) {
	var resp SubmitUpdateResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rounds/%d/updates", round), pkg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Aggregate runs aggregation for a round.
func (c *APIClient) Aggregate(ctx context.Context, round protocol.RoundID) (*AggregateResponse, error) {
	var resp AggregateResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rounds/%d/aggregate", round), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ledger returns up to limit recent entries.
func (c *APIClient) Ledger(ctx context.Context, limit int) ([]*LedgerEntry, error) {
	var resp LedgerResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/ledger?limit=%d", limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Checkpoints returns all checkpoints, newest round first.
func (c *APIClient) Checkpoints(ctx context.Context) ([]*CheckpointResponse, error) {
	var resp CheckpointListResponse
	if err := c.do(ctx, http.MethodGet, "/checkpoints", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

// Model returns the current global parameters.
func (c *APIClient) Model(ctx context.Context) (*protocol.Parameters, error) {
	var params protocol.Parameters
	if err := c.do(ctx, http.MethodGet, "/model", nil, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// Status returns aggregator counters.
func (c *APIClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
