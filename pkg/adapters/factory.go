package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// New creates an adapter based on kind and generic configuration map.
//
// Supported kinds:
//   - "random": synthetic generator (optional 'min', 'max')
//   - "http": generic HTTP adapter (requires 'url')
//   - "prometheus": Prometheus adapter (requires 'query')
//   - "victoriametrics": VictoriaMetrics adapter (requires 'query')
//
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string) (Adapter, error) {
	switch kind {
	case "", "random":
		return newRandom(config)
	case "http":
		return newHTTP(config)
	case "prometheus":
		return newPrometheus(config)
	case "victoriametrics":
		return newVictoriaMetrics(config)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be random, http, prometheus, or victoriametrics)", kind)
	}
}

func newRandom(config map[string]string) (Adapter, error) {
	lo, hi := DefaultRandomMin, DefaultRandomMax
	if v := config["min"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid 'min': %w", err)
		}
		lo = n
	}
	if v := config["max"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid 'max': %w", err)
		}
		hi = n
	}
	return NewRandomAdapter(lo, hi, nil)
}

func newHTTP(config map[string]string) (Adapter, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http adapter requires 'url' config")
	}

	method := config["method"]
	if method == "" {
		method = "GET"
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	return &HTTPAdapter{
		URL:       url,
		Method:    method,
		Headers:   headers,
		ValuePath: config["valuePath"],
	}, nil
}

func newPrometheus(config map[string]string) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("prometheus adapter requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:9090"
	}

	return &PrometheusAdapter{ServerURL: url, Query: query}, nil
}

func newVictoriaMetrics(config map[string]string) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("victoriametrics adapter requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:8428"
	}

	return &VictoriaMetricsAdapter{ServerURL: url, Query: query}, nil
}
