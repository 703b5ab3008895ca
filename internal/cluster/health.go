package cluster

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthPath is probed on every slave.
const HealthPath = "/.api/health"

// HealthMonitor periodically probes the configured slaves. It only records
// and logs health; the Balancer keeps rotating over every slave regardless.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	slaves      []string                // Slave base URLs
	httpClient  *http.Client            // HTTP client for probes
	checkFunc   func(addr string) error // Function to perform a probe
	log         *log.Logger             // Destination for state changes
	interval    time.Duration           // How often to probe
	maxFailures int                     // Failures before marking unhealthy

	mu    sync.RWMutex
	state map[string]*SlaveHealth
}

// NewHealthMonitor creates a monitor over the given slave base URLs.
// Slaves are marked unhealthy after 3 consecutive failures.
//
// Parameters:
//   - slaves: Base URLs such as "http://10.0.0.2:8080" (see Balancer.Targets)
//   - interval: How often to probe (default 5s)
//   - logger: Destination for failures and state changes (nil for log.Default)
//
// Example:
//
//	monitor := NewHealthMonitor(balancer.Targets(), 5*time.Second, nil)
//	go monitor.Run(ctx)
func NewHealthMonitor(slaves []string, interval time.Duration, logger *log.Logger) *HealthMonitor {
	if logger == nil {
		logger = log.Default()
	}
	h := &HealthMonitor{
		slaves:      slaves,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		log:         logger,
		interval:    interval,
		maxFailures: 3,
		state:       make(map[string]*SlaveHealth, len(slaves)),
	}
	h.checkFunc = h.defaultHealthCheck
	for _, s := range slaves {
		h.state[s] = &SlaveHealth{Addr: s, Status: "unknown"}
	}
	return h
}

// SetCheckFunction overrides the HTTP probe, mostly for tests.
//
// Example:
//
//	monitor.SetCheckFunction(func(addr string) error {
//	    return nil
//	})
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Run probes every slave immediately and then once per interval until ctx
// is canceled.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.CheckAll()
	for {
		select {
		case <-ticker.C:
			h.CheckAll()
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every slave once, sequentially.
func (h *HealthMonitor) CheckAll() {
	for _, s := range h.slaves {
		h.check(s)
	}
}

// check probes one slave and updates its record.
//
// Implementation:
//  1. Perform the probe without holding the lock
//  2. Track consecutive failures
//  3. Log transitions to unhealthy and back
func (h *HealthMonitor) check(addr string) {
	err := h.checkFunc(addr)
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	health := h.state[addr]
	health.LastCheck = now

	if err != nil {
		health.ConsecutiveFails++
		if health.ConsecutiveFails >= h.maxFailures && health.Status != "unhealthy" {
			health.Status = "unhealthy"
			h.log.Printf("slave %s marked unhealthy after %d failures: %v", addr, health.ConsecutiveFails, err)
		}
		return
	}

	if health.Status == "unhealthy" {
		h.log.Printf("slave %s recovered", addr)
	}
	health.Status = "healthy"
	health.ConsecutiveFails = 0
	health.LastHealthy = now
}

// defaultHealthCheck GETs HealthPath on the slave and expects 200.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := strings.TrimRight(addr, "/") + HealthPath
	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// IsHealthy reports whether the slave passed its last probe.
func (h *HealthMonitor) IsHealthy(addr string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.state[addr]
	return ok && s.Status == "healthy"
}

// Snapshot returns a copy of every slave's record ordered by address.
func (h *HealthMonitor) Snapshot() []SlaveHealth {
	h.mu.RLock()
	out := make([]SlaveHealth, 0, len(h.state))
	for _, s := range h.state {
		out = append(out, *s)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
