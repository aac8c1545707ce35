package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxBodyBytes caps how much of a data endpoint response is read.
const maxBodyBytes = 1 << 20

// HTTPAdapter calls a REST endpoint and extracts a single observation.
//
// The response body is either a bare JSON number (e.g. `42.5`) or a JSON
// document from which ValuePath selects the number using gjson syntax:
//
//	adapter := &HTTPAdapter{
//	    URL:       "https://api.example.com/sensors/1/latest",
//	    Headers:   map[string]string{"Authorization": "Bearer token"},
//	    ValuePath: "reading.value",
//	}
//
// Numeric strings such as `"21.5"` are accepted as well.
type HTTPAdapter struct {
	// URL is the endpoint to call (required).
	URL string

	// Method is the HTTP method. Defaults to GET if empty.
	Method string

	// Headers are added to every request.
	Headers map[string]string

	// ValuePath is the gjson path of the value. Empty means the whole body.
	ValuePath string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (h *HTTPAdapter) Name() string { return "http" }

// Fetch implements Adapter.
func (h *HTTPAdapter) Fetch(ctx context.Context) (float64, error) {
	if h.URL == "" {
		return 0, errors.New("http adapter: URL is required")
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	return ExtractValue(body, h.ValuePath)
}

// ExtractValue returns the number found at path in body, or the body itself
// when path is empty.
func ExtractValue(body []byte, path string) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("response is not valid JSON")
	}

	var res gjson.Result
	if path == "" {
		res = gjson.ParseBytes(body)
	} else {
		res = gjson.GetBytes(body, path)
		if !res.Exists() {
			return 0, fmt.Errorf("value path %q not found in response", path)
		}
	}

	switch res.Type {
	case gjson.Number:
		return res.Float(), nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", res.Str)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value is not numeric: %s", res.Raw)
	}
}
