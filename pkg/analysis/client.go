package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxResultBytes caps the size of an analysis response.
const maxResultBytes = 8 << 20

// Client calls the analysis backend.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient returns a client posting to url (the full /api/analyze
// endpoint). A nil httpClient uses a client with a 30s timeout.
func NewClient(url string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Analyze issues exactly one POST for req. Every failure is an
// *AnalysisError; there is no retry.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	const op = "analyze"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &AnalysisError{Op: op, Msg: "Could not encode the analysis request.", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &AnalysisError{Op: op, Msg: "Analysis failed. Check backend or network.", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &AnalysisError{Op: op, Msg: "Analysis failed. Check backend or network.", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, &AnalysisError{Op: op, Msg: "Analysis failed. Check backend or network.", Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("analysis response",
		"status", resp.StatusCode,
		"bytes", len(payload),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(payload))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &AnalysisError{Op: op, Msg: "Analysis failed. Check backend or network.", Err: fmt.Errorf("status %d: %s", resp.StatusCode, snippet)}
	}

	if !gjson.ValidBytes(payload) {
		return nil, &AnalysisError{Op: op, Msg: "Analysis returned an unreadable response.", Err: fmt.Errorf("invalid JSON payload")}
	}

	return &Result{
		Raw:        json.RawMessage(payload),
		Request:    req,
		ReceivedAt: c.now(),
	}, nil
}
