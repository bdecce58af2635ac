// Package httpmetrics wraps an *http.Client with a RoundTripper that
// records request latency as a prometheus summary, so outbound calls
// to the inventory API show up next to the reconciler's own metrics.
//
// Adapted from pkg/http's instrumented_http-derived transport, narrowed
// to the one client this controller wraps, and registered under the
// meshdns_controller namespace instead of the teacher's bare
// "http_request_duration_seconds" to avoid colliding with any other
// metric sharing that name on the same registry.
package httpmetrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var requestDuration = prometheus.NewSummaryVec(
	prometheus.SummaryOpts{
		Namespace:   "meshdns_controller",
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "Latency of outbound HTTP requests made by this controller, labeled by scheme, host, path, method, and status.",
		ConstLabels: prometheus.Labels{"handler": "inventory_client"},
		Objectives:  map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	},
	[]string{"scheme", "host", "path", "method", "status"},
)

// MustRegister registers the instrumented-transport metric with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(requestDuration)
}

type roundTripper struct {
	next http.RoundTripper
}

func (r *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := r.next.RoundTrip(req)

	status := ""
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}

	requestDuration.With(prometheus.Labels{
		"scheme": req.URL.Scheme,
		"host":   req.URL.Host,
		"path":   lastPathSegment(req.URL.Path),
		"method": req.Method,
		"status": status,
	}).Observe(time.Since(start).Seconds())
	return resp, err
}

// NewClient wraps next's Transport (http.DefaultTransport if nil) with
// latency instrumentation. next is mutated in place and also returned.
func NewClient(next *http.Client) *http.Client {
	if next == nil {
		next = &http.Client{}
	}
	base := next.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	next.Transport = &roundTripper{next: base}
	return next
}

func lastPathSegment(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}
