// Live ingress instrumentation. The instrumented web tier wraps its handler
// chain with Instrument; the middleware measures each response and reports it
// to the orchestrator as a LIVE observation, and does nothing else.

package server

import (
	"net/http"
	"time"

	"github.com/apisentinel/apisentinel/detect"
)

// statusRecorder captures the response status code written by the wrapped
// handler. Handlers that never call WriteHeader implicitly answer 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument wraps next so every completed request is observed by the
// detector in LIVE mode. Cross-origin pre-flight requests pass through
// unobserved. The middleware never blocks on, and never fails because of,
// the detection pipeline.
func Instrument(orch *detect.Orchestrator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)

		payload := r.ContentLength
		if payload < 0 {
			payload = 0
		}

		var params []detect.Param
		for name, values := range r.URL.Query() {
			for _, value := range values {
				params = append(params, detect.Param{Name: name, Value: value})
			}
		}

		orch.Observe(detect.Observation{
			Timestamp:    started,
			Mode:         detect.ModeLive,
			Source:       r.URL.Path,
			Route:        r.URL.Path,
			Method:       r.Method,
			Status:       rec.status,
			LatencyMS:    float64(time.Since(started)) / float64(time.Millisecond),
			PayloadBytes: payload,
			UserAgent:    r.UserAgent(),
			Params:       params,
		})
	})
}
