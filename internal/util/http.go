package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is returned by Fetch when the server answers with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status '%s' fetching %s: %s", e.Status, e.URL, e.Body)
}

// Fetch issues a GET for rawURL and returns the body bytes.
// Non-200 responses come back as *StatusError carrying the first 512 bytes of the body.
func Fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do request for %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bodyBytes)}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading body from %s: %w", rawURL, err)
	}
	return bodyBytes, nil
}

// DefaultHTTPClient creates a default http.Client with a reasonable timeout.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}
