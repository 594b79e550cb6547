package logsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shortontech/gotriage/internal/event"
)

// maxResponseBytes caps how much of a log endpoint response is read.
const maxResponseBytes = 8 << 20

// HTTPSource fetches a JSON array of log records with a GET request.
type HTTPSource struct {
	URL    string
	client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		URL:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context) ([]event.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fetchErr("build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fetchErr("GET "+s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fetchErr("GET "+s.URL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fetchErr("read body", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fetchErr("read body", fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	events, err := event.DecodeBatch(body)
	if err != nil {
		return nil, fetchErr("decode body", err)
	}
	return events, nil
}
