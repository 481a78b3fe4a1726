package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every mlaasctl metric. It is separate from the default
// registry so the textfile only contains what the CLI records.
var Registry = prometheus.NewRegistry()

var (
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlaasctl_api_requests_total",
		Help: "Total number of outbound API requests by upstream, method and status code",
	}, []string{"api", "method", "code"})
	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mlaasctl_api_request_duration_seconds",
		Help:    "Latency of outbound API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"api", "method"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlaasctl_api_retries_total",
		Help: "Total number of retried outbound API requests",
	}, []string{"api"})

	// path is one of cache, refresh, login
	Authentications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlaasctl_authentications_total",
		Help: "Authentication attempts by path and result",
	}, []string{"path", "result"})

	// outcome is one of found_key, found_email, created, recovered
	AccountResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlaasctl_account_resolutions_total",
		Help: "Account resolutions by outcome",
	}, []string{"outcome"})

	CatalogLookupFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlaasctl_catalog_lookup_failures_total",
		Help: "Per-service catalog lookups that failed and were reported as unknown",
	}, []string{"lookup"})

	// outcome is one of existing, created, recovered, failed
	Provisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mlaasctl_provisions_total",
		Help: "Key provisioning requests by outcome",
	}, []string{"outcome"})

	LastRunTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mlaasctl_last_run_timestamp_seconds",
		Help: "Unix time the last run finished, by command and exit code",
	}, []string{"command", "exit_code"})
)

func init() {
	Registry.MustRegister(APIRequests)
	Registry.MustRegister(APIRequestDuration)
	Registry.MustRegister(APIRetries)
	Registry.MustRegister(Authentications)
	Registry.MustRegister(AccountResolutions)
	Registry.MustRegister(CatalogLookupFailures)
	Registry.MustRegister(Provisions)
	Registry.MustRegister(LastRunTimestamp)
}

// WriteTextfile writes the current metric values in the Prometheus text format
// for the node_exporter textfile collector. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Registry)
}
