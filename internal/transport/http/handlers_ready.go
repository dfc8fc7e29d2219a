package httptransport

import (
	"context"
	"net/http"
	"sort"
	"time"

	"enrollgate/pkg/platform/httputil"
)

const readinessTimeout = time.Second

// ReadinessCheck reports whether one local dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// ReadinessResponse is the /readyz body. Checks maps each dependency to "ok"
// or its error.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ReadyzHandler runs every check under a short timeout and answers 503 when
// any of them fails. The backend of record is not part of readiness: its
// reachability is reported by /v1/health and only decides queueing.
func ReadyzHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
