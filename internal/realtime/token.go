package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoToken          = errors.New("no connection token")
)

// TokenProvider supplies a short-lived credential for opening a connection.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HTTPTokenProvider fetches tokens from the backend token endpoint using
// the session cookies held by its client.
type HTTPTokenProvider struct {
	client   *http.Client
	endpoint string
}

func NewHTTPTokenProvider(client *http.Client, baseURL string) *HTTPTokenProvider {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPTokenProvider{
		client,
		strings.TrimRight(baseURL, "/") + "/api/ws/token",
	}
}

func (p *HTTPTokenProvider) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrNotAuthenticated
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: unexpected status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	if body.Token == "" {
		return "", ErrNoToken
	}

	return body.Token, nil
}
