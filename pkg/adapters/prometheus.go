package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// PrometheusAdapter evaluates an instant query through the Prometheus HTTP
// API (/api/v1/query). Vector results are SUMMED into one observation;
// scalar results are returned as is.
type PrometheusAdapter struct {
	// ServerURL is the base URL, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Fetch implements Adapter.
func (p *PrometheusAdapter) Fetch(ctx context.Context) (float64, error) {
	return instantQuery(ctx, p.HTTPClient, p.ServerURL, p.Query, p.Name())
}

// VictoriaMetricsAdapter runs the same instant query against VictoriaMetrics'
// Prometheus-compatible API.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoriametrics" }

// Fetch implements Adapter.
func (v *VictoriaMetricsAdapter) Fetch(ctx context.Context) (float64, error) {
	return instantQuery(ctx, v.HTTPClient, v.ServerURL, v.Query, v.Name())
}

func instantQuery(ctx context.Context, cli *http.Client, serverURL, query, source string) (float64, error) {
	if serverURL == "" || query == "" {
		return 0, fmt.Errorf("%s adapter: ServerURL and Query are required", source)
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return 0, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s: status %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("read %s response: %w", source, err)
	}

	return ParseInstantResult(body)
}

// ParseInstantResult reduces a Prometheus instant query response to a single
// value. Empty vectors are an error so a missing series never reads as zero.
func ParseInstantResult(body []byte) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("decode query response: invalid JSON")
	}

	if status := gjson.GetBytes(body, "status").String(); status != "success" {
		return 0, fmt.Errorf("query status: %s", status)
	}

	switch resultType := gjson.GetBytes(body, "data.resultType").String(); resultType {
	case "vector":
		values := gjson.GetBytes(body, "data.result.#.value.1").Array()
		if len(values) == 0 {
			return 0, errors.New("query returned no series")
		}
		var sum float64
		for i, v := range values {
			f, err := strconv.ParseFloat(v.String(), 64)
			if err != nil {
				return 0, fmt.Errorf("parse value[%d]: %w", i, err)
			}
			sum += f
		}
		return sum, nil
	case "scalar":
		f, err := strconv.ParseFloat(gjson.GetBytes(body, "data.result.1").String(), 64)
		if err != nil {
			return 0, fmt.Errorf("parse scalar: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported result type %q", resultType)
	}
}
