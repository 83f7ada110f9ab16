package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

type namedProbe struct {
	name  string
	check Probe
}

// HealthChecker backs /healthz and /readyz. The service is ready once
// startup recovery has finished and every dependency probe passes.
type HealthChecker struct {
	started time.Time
	ready   atomic.Bool

	mu     sync.Mutex
	probes []namedProbe
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// AddProbe registers a dependency check. Probes run concurrently.
func (h *HealthChecker) AddProbe(name string, p Probe) {
	h.mu.Lock()
	h.probes = append(h.probes, namedProbe{name: name, check: p})
	h.mu.Unlock()
}

func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// Check runs all probes and returns the failing ones keyed by name.
func (h *HealthChecker) Check(ctx context.Context) map[string]string {
	h.mu.Lock()
	probes := append([]namedProbe(nil), h.probes...)
	h.mu.Unlock()

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures = make(map[string]string)
	)
	for _, p := range probes {
		g.Go(func() error {
			if err := p.check(ctx); err != nil {
				mu.Lock()
				failures[p.name] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

type healthBody struct {
	Status   string            `json:"status"`
	Uptime   string            `json:"uptime,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	reply(w, http.StatusOK, healthBody{Status: "alive", Uptime: time.Since(h.started).Round(time.Second).String()})
}

func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.IsReady() {
		reply(w, http.StatusServiceUnavailable, healthBody{Status: "not_ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if failures := h.Check(ctx); len(failures) > 0 {
		reply(w, http.StatusServiceUnavailable, healthBody{Status: "degraded", Failures: failures})
		return
	}
	reply(w, http.StatusOK, healthBody{Status: "ready"})
}

func reply(w http.ResponseWriter, code int, body healthBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
