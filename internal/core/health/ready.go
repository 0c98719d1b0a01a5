package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check reports whether one dependency can serve traffic.
type Check struct {
	Name string
	// Optional checks are reported but do not fail readiness.
	Optional bool
	Fn       func(ctx context.Context) error
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Readiness runs every check with a shared timeout.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string                 `json:"status"`
			Checks map[string]checkResult `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready", Checks: make(map[string]checkResult, len(checks))}
		ready := true
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				out.Checks[c.Name] = checkResult{Status: "error", Error: err.Error()}
				if !c.Optional {
					ready = false
				}
				continue
			}
			out.Checks[c.Name] = checkResult{Status: "ok"}
		}

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
