// Package identity talks to the external identity provider. The provider owns
// registration, activation, and blocking policy; this client only asks
// questions about identities it is handed.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jmercadal/pairvault/internal/crypto"
	"github.com/jmercadal/pairvault/internal/domain"
)

// Client is the HMAC-authenticated REST client for the identity provider API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a new identity provider client.
//
// baseURL is the API root, e.g. "https://idp.example.com/api/v1".
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// identityStatus is the provider's response for a single identity.
type identityStatus struct {
	ID      string `json:"id"`
	Active  bool   `json:"active"`
	Blocked bool   `json:"blocked"`
}

// IsActive reports whether the identity exists and is active.
func (c *Client) IsActive(ctx context.Context, id domain.Identity) (bool, error) {
	st, err := c.getStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Active, nil
}

// IsBlocked reports whether the identity is blocked by provider policy.
func (c *Client) IsBlocked(ctx context.Context, id domain.Identity) (bool, error) {
	st, err := c.getStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Blocked, nil
}

func (c *Client) getStatus(ctx context.Context, id domain.Identity) (identityStatus, error) {
	path := "/identities/" + url.PathEscape(string(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return identityStatus{}, fmt.Errorf("identity: build request: %w", err)
	}
	for k, v := range c.auth.Headers(http.MethodGet, path) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return identityStatus{}, fmt.Errorf("identity: get %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// Unknown identities read as inactive, not as transport errors.
		return identityStatus{ID: string(id)}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return identityStatus{}, fmt.Errorf("identity: get %s: status %d: %s", id, resp.StatusCode, body)
	}

	var st identityStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return identityStatus{}, fmt.Errorf("identity: decode status for %s: %w", id, err)
	}
	return st, nil
}

// Compile-time interface check.
var _ domain.IdentityProvider = (*Client)(nil)
