package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InstrumentRoundTripper records request counts and latency for every call
// made through next, labelled with api.
func InstrumentRoundTripper(api string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	labels := prometheus.Labels{"api": api}
	return promhttp.InstrumentRoundTripperCounter(
		APIRequests.MustCurryWith(labels),
		promhttp.InstrumentRoundTripperDuration(APIRequestDuration.MustCurryWith(labels), next),
	)
}
