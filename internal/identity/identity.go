// Package identity looks up accounts in the external auth provider. The
// ledger provisions accounts lazily the first time they are seen, but only
// for identities the provider actually knows.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnknownAccount means the identity provider has no such user.
var ErrUnknownAccount = errors.New("unknown account")

// User is the subset of the provider's user record the hub needs.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Provider resolves account identifiers against the auth system.
type Provider interface {
	// Lookup returns the user for accountID, or ErrUnknownAccount.
	Lookup(ctx context.Context, accountID string) (*User, error)
}

// AdminClient is a Provider using the auth platform's admin REST API
// (GET /auth/v1/admin/users/{id} with a service-role key).
type AdminClient struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewAdminClient creates an admin API client for the given project base URL.
func NewAdminClient(baseURL, serviceKey string) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *AdminClient) Lookup(ctx context.Context, accountID string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/auth/v1/admin/users/"+accountID, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrUnknownAccount
	default:
		return nil, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("identity: decode user: %w", err)
	}
	if user.ID == "" {
		return nil, ErrUnknownAccount
	}
	return &user, nil
}
