package http

import (
	"context"
	"net/http"
	"time"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// HealthChecker verifies that the PolicyStore backing this instance is
// reachable, the minimal signal spec §6's `GET /_status` endpoint
// needs (plain-text "OK" on 200, 500 on failure).
type HealthChecker struct {
	store   policy.PolicyStore
	timeout time.Duration
}

// NewHealthChecker creates a HealthChecker against the given store.
func NewHealthChecker(store policy.PolicyStore, timeout time.Duration) *HealthChecker {
	return &HealthChecker{store: store, timeout: timeout}
}

// Handler returns the `/_status` handler: "OK" with 200 if the store
// answers within the timeout (a not-found reply still proves
// reachability), 500 otherwise.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		_, err := h.store.FindPolicy(ctx, "__health_check__")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err != nil && err != policy.ErrNotFound {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("unavailable"))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
