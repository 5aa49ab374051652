package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// OpenSession exchanges a staff token for the backend session cookie that
// HTTPTokenProvider relies on. client must carry a cookie jar.
func OpenSession(ctx context.Context, client *http.Client, baseURL string, staffToken string) error {
	if staffToken == "" {
		return ErrNotAuthenticated
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/api/session"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+staffToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrNotAuthenticated
	default:
		return fmt.Errorf("open session: unexpected status %d", resp.StatusCode)
	}
}
