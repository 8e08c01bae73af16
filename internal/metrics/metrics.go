// Package metrics exposes a hand-rolled Prometheus text-exposition
// endpoint for the server side (SUPPLEMENTED FEATURES: the spec's
// Non-goals exclude an operator UI, not a metrics surface). Adapted
// from internal/metrics.go's counter-map-plus-handler shape, narrowed
// to the counters a tunneling server actually has: sessions and
// bytes/handshake outcomes rather than upstream-selection stats.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds the process-wide counters. The zero value is usable.
type Registry struct {
	mu sync.RWMutex

	sessionsStarted uint64
	sessionsClosed  uint64
	bytesIn         uint64
	bytesOut        uint64
	handshakeFail   map[string]uint64 // reason -> count
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{handshakeFail: make(map[string]uint64)}
}

func (r *Registry) SessionStarted() {
	r.mu.Lock()
	r.sessionsStarted++
	r.mu.Unlock()
}

func (r *Registry) SessionClosed() {
	r.mu.Lock()
	r.sessionsClosed++
	r.mu.Unlock()
}

func (r *Registry) AddBytes(in, out uint64) {
	r.mu.Lock()
	r.bytesIn += in
	r.bytesOut += out
	r.mu.Unlock()
}

func (r *Registry) HandshakeFailed(reason string) {
	r.mu.Lock()
	r.handshakeFail[reason]++
	r.mu.Unlock()
}

// Active returns sessionsStarted - sessionsClosed, an approximation of
// the live session count good enough for a gauge (the exact count
// lives in the Registry's own Len(), which the caller can report
// separately if it wants precision).
func (r *Registry) Active() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sessionsClosed > r.sessionsStarted {
		return 0
	}
	return r.sessionsStarted - r.sessionsClosed
}

func (r *Registry) handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	r.mu.RLock()
	defer r.mu.RUnlock()

	fmt.Fprintf(w, "mcc_sessions_started_total %d\n", r.sessionsStarted)
	fmt.Fprintf(w, "mcc_sessions_closed_total %d\n", r.sessionsClosed)
	fmt.Fprintf(w, "mcc_sessions_active %d\n", r.Active())
	fmt.Fprintf(w, "mcc_bytes_in_total %d\n", r.bytesIn)
	fmt.Fprintf(w, "mcc_bytes_out_total %d\n", r.bytesOut)
	writeCounterVec(w, "mcc_handshake_failures_total", r.handshakeFail)
}

// StartServer runs the metrics HTTP server until ctx is cancelled,
// mirroring internal/metrics.go's StartMetricsServer shutdown pattern.
func (r *Registry) StartServer(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("metrics: empty listen address")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", r.handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func writeCounterVec(w http.ResponseWriter, name string, data map[string]uint64) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{reason=%q} %d\n", name, k, data[k])
	}
}
