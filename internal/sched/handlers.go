package sched

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"sentrycoin/pkg/types"
)

// BalanceProvider looks up one address's native balance. Implemented by the
// whale package's Etherscan client.
type BalanceProvider interface {
	Balance(ctx context.Context, address string) (eth float64, usd float64, err error)
}

// Heap usage bands for SYSTEM_HEALTH_CHECK.
const (
	heapWarningPct  = 90.0
	heapCriticalPct = 95.0
)

// Handlers bundles the built-in task implementations and their shared
// clients.
type Handlers struct {
	balance BalanceProvider
	httpc   *resty.Client
	log     *slog.Logger
	started time.Time
}

// NewHandlers wires the built-in task handlers.
func NewHandlers(balance BalanceProvider, httpc *resty.Client, log *slog.Logger) *Handlers {
	return &Handlers{
		balance: balance,
		httpc:   httpc,
		log:     log.With("component", "task-handlers"),
		started: time.Now(),
	}
}

// RegisterAll installs every built-in handler on the scheduler.
func (h *Handlers) RegisterAll(s *Scheduler) {
	s.Register(types.TaskWhaleBalanceCheck, h.WhaleBalanceCheck)
	s.Register(types.TaskSystemHealthCheck, h.SystemHealthCheck)
	s.Register(types.TaskPerformanceMetrics, h.PerformanceMetrics)
	s.Register(types.TaskAPIHealthCheck, h.APIHealthCheck)
	s.Register(types.TaskMemoryCleanup, h.MemoryCleanup)
}

// WhaleBalanceCheck resolves the native and USD-approximate balance of the
// address named in the payload.
func (h *Handlers) WhaleBalanceCheck(ctx context.Context, task types.Task) (map[string]any, error) {
	addr, _ := task.Payload["address"].(string)
	if addr == "" {
		return nil, fmt.Errorf("whale balance check: payload missing address")
	}
	if h.balance == nil {
		return nil, fmt.Errorf("whale balance check: no balance provider configured")
	}
	eth, usd, err := h.balance.Balance(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("balance lookup for %s: %w", addr, err)
	}
	return map[string]any{
		"address":    addr,
		"balanceEth": eth,
		"balanceUsd": usd,
	}, nil
}

// SystemHealthCheck samples process heap usage plus host CPU and memory.
// Status bands: HEALTHY below 90% heap, WARNING 90-95%, CRITICAL above.
func (h *Handlers) SystemHealthCheck(ctx context.Context, task types.Task) (map[string]any, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	heapPct := 0.0
	if ms.HeapSys > 0 {
		heapPct = float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100
	}
	status := "HEALTHY"
	switch {
	case heapPct > heapCriticalPct:
		status = "CRITICAL"
	case heapPct >= heapWarningPct:
		status = "WARNING"
	}

	out := map[string]any{
		"status":        status,
		"heapUsedPct":   heapPct,
		"heapAllocMB":   float64(ms.HeapAlloc) / 1024 / 1024,
		"goroutines":    runtime.NumGoroutine(),
		"uptimeSeconds": time.Since(h.started).Seconds(),
	}

	// Host-level readings are best effort.
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["hostMemUsedPct"] = vm.UsedPercent
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		out["hostCpuPct"] = pct[0]
	}
	return out, nil
}

// PerformanceMetrics merges runtime figures with caller-supplied metrics
// from the payload.
func (h *Handlers) PerformanceMetrics(ctx context.Context, task types.Task) (map[string]any, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := map[string]any{
		"heapAllocMB":   float64(ms.HeapAlloc) / 1024 / 1024,
		"gcCycles":      ms.NumGC,
		"goroutines":    runtime.NumGoroutine(),
		"uptimeSeconds": time.Since(h.started).Seconds(),
	}
	for k, v := range task.Payload {
		out[k] = v
	}
	return out, nil
}

// APIHealthCheck probes the endpoint named in the payload and grades it by
// HTTP code and response time.
func (h *Handlers) APIHealthCheck(ctx context.Context, task types.Task) (map[string]any, error) {
	url, _ := task.Payload["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("api health check: payload missing url")
	}

	start := time.Now()
	resp, err := h.httpc.R().SetContext(ctx).Get(url)
	elapsed := time.Since(start)

	out := map[string]any{
		"url":       url,
		"latencyMs": elapsed.Milliseconds(),
	}
	if err != nil {
		out["status"] = "UNHEALTHY"
		out["error"] = err.Error()
		return out, nil
	}
	out["httpStatus"] = resp.StatusCode()

	switch {
	case resp.StatusCode() >= 400:
		out["status"] = "UNHEALTHY"
	case elapsed > time.Second || resp.StatusCode() >= 300:
		out["status"] = "DEGRADED"
	default:
		out["status"] = "HEALTHY"
	}
	return out, nil
}

// MemoryCleanup forces a GC pass and reports heap usage before and after.
func (h *Handlers) MemoryCleanup(ctx context.Context, task types.Task) (map[string]any, error) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	runtime.GC()
	debug.FreeOSMemory()

	runtime.ReadMemStats(&after)
	return map[string]any{
		"heapBeforeMB": float64(before.HeapAlloc) / 1024 / 1024,
		"heapAfterMB":  float64(after.HeapAlloc) / 1024 / 1024,
		"freedMB":      float64(int64(before.HeapAlloc)-int64(after.HeapAlloc)) / 1024 / 1024,
	}, nil
}
