// Package diag exposes a lightweight process/host health snapshot for
// GET /api/diag. It carries no run data.
package diag

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is the /api/diag response body.
type Snapshot struct {
	Goroutines     int     `json:"goroutines"`
	HeapBytes      uint64  `json:"heap_bytes"`
	HostCPUPercent float64 `json:"host_cpu_percent"`
	HostMemPercent float64 `json:"host_mem_percent"`
}

const cacheTTL = 2 * time.Second

// Collector caches CPU/memory samples briefly so repeated polling doesn't
// hammer the host sampling APIs.
type Collector struct {
	mu       sync.Mutex
	lastAt   time.Time
	lastSnap Snapshot
}

func NewCollector() *Collector {
	return &Collector{}
}

// Collect returns a fresh snapshot, reusing a cached CPU/memory reading
// taken within the last cacheTTL.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	var mstats runtime.MemStats
	runtime.ReadMemStats(&mstats)

	c.mu.Lock()
	if !c.lastAt.IsZero() && time.Since(c.lastAt) < cacheTTL {
		snap := c.lastSnap
		c.mu.Unlock()
		snap.Goroutines = runtime.NumGoroutine()
		snap.HeapBytes = mstats.HeapAlloc
		return snap
	}
	c.mu.Unlock()

	cpuPct := readCPUPercent(ctx)
	memPct := readMemPercent(ctx)

	snap := Snapshot{
		Goroutines:     runtime.NumGoroutine(),
		HeapBytes:      mstats.HeapAlloc,
		HostCPUPercent: cpuPct,
		HostMemPercent: memPct,
	}

	c.mu.Lock()
	c.lastAt = time.Now()
	c.lastSnap = snap
	c.mu.Unlock()

	return snap
}

// readCPUPercent prefers the non-blocking (diff-since-last-call) sample and
// only falls back to a short blocking sample to bootstrap it.
func readCPUPercent(ctx context.Context) float64 {
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0]
	}
	if p, err := cpu.PercentWithContext(ctx, 150*time.Millisecond, false); err == nil && len(p) > 0 {
		return p[0]
	}
	return 0
}

func readMemPercent(ctx context.Context) float64 {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil || vm == nil {
		return 0
	}
	return vm.UsedPercent
}
