package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and named readiness checks. The service is
// ready once every registered check has passed.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]bool
	startTime time.Time
}

func NewHealthChecker(checks ...string) *HealthChecker {
	h := &HealthChecker{
		checks:    make(map[string]bool, len(checks)),
		startTime: time.Now(),
	}
	for _, c := range checks {
		h.checks[c] = false
	}
	return h
}

// Set records the state of one check, registering it if needed.
func (h *HealthChecker) Set(check string, ok bool) {
	h.mu.Lock()
	h.checks[check] = ok
	h.mu.Unlock()
}

// IsReady reports whether every check passed.
func (h *HealthChecker) IsReady() bool {
	return len(h.pending()) == 0
}

func (h *HealthChecker) pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for name, ok := range h.checks {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LivenessHandler always answers 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler answers 200 when ready, 503 with the failing checks otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if pending := h.pending(); len(pending) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "not_ready",
			"pending": pending,
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ready",
	})
}
