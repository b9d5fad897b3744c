package api

import (
	"net/http"
	"strconv"

	"github.com/fleetmesh/fleetd/pkg/metrics"
)

// withMetrics wraps h the way the teacher's ReadOnlyInterceptor wrapped
// every gRPC method: recording a request-duration timer and a
// requests-total counter per call, translated here from a gRPC
// interceptor into an http.Handler middleware since pkg/api no longer
// speaks gRPC.
func withMetrics(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
