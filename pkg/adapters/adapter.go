// Package adapters provides the sample sources behind the live feed.
//
// Each adapter yields one numeric observation per call. Available adapters:
//   - RandomAdapter: synthetic uniform integers, no network access
//   - HTTPAdapter: any REST endpoint returning a number or a JSON document
//   - PrometheusAdapter: instant PromQL query via the Prometheus HTTP API
//   - VictoriaMetricsAdapter: the same query against VictoriaMetrics
//
// Adapters are intentionally lightweight. Timestamping, windowing and
// publishing are left to the feed.
package adapters

import "context"

// Adapter is the interface that all sample sources implement.
//
// Fetch is synchronous and must respect context cancellation and deadlines.
type Adapter interface {
	// Fetch returns the current observation. Errors are reported to the
	// caller and never retried by the adapter itself.
	Fetch(ctx context.Context) (float64, error)

	// Name returns a short identifier used in logs and metric labels.
	Name() string
}
