// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check returns nil when the dependency it probes is usable.
type Check func(ctx context.Context) error

type ReadinessReporter interface {
	Readiness(ctx context.Context) (ready bool, failing map[string]string)
}

// Checks runs every named check; all must pass.
type Checks map[string]Check

func (c Checks) Readiness(ctx context.Context) (bool, map[string]string) {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)

	var failing map[string]string
	for _, n := range names {
		if err := c[n](ctx); err != nil {
			if failing == nil {
				failing = map[string]string{}
			}
			failing[n] = err.Error()
		}
	}
	return len(failing) == 0, failing
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status  string            `json:"status"`
			Failing map[string]string `json:"failing,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready, failing := rr.Readiness(ctx)
		out := resp{Status: "ready"}
		if !ready {
			out.Status = "not_ready"
			out.Failing = failing
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
