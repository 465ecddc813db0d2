package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// SystemMetricsTracker samples host memory and data directory disk usage
type SystemMetricsTracker struct {
	startTime time.Time
	dataDir   string
}

// NewSystemMetrics creates a new SystemMetricsTracker instance
func NewSystemMetrics(dataDir string) *SystemMetricsTracker {
	return &SystemMetricsTracker{
		startTime: time.Now(),
		dataDir:   dataDir,
	}
}

// GetUptime returns the process uptime in seconds
func (sm *SystemMetricsTracker) GetUptime() int64 {
	return int64(time.Since(sm.startTime).Seconds())
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	UsedPercent float64 `json:"used_percent"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// GetMemoryUsage returns current memory usage statistics
func (sm *SystemMetricsTracker) GetMemoryUsage() (*MemoryStats, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryStats{
		UsedPercent: memInfo.UsedPercent,
		UsedBytes:   memInfo.Used,
		TotalBytes:  memInfo.Total,
		FreeBytes:   memInfo.Free,
	}, nil
}

// DiskStats represents disk usage statistics
type DiskStats struct {
	UsedPercent float64 `json:"used_percent"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// GetDiskUsage returns current disk usage statistics for the data directory
func (sm *SystemMetricsTracker) GetDiskUsage() (*DiskStats, error) {
	diskInfo, err := disk.Usage(sm.dataDir)
	if err != nil {
		return nil, err
	}

	return &DiskStats{
		UsedPercent: diskInfo.UsedPercent,
		UsedBytes:   diskInfo.Used,
		TotalBytes:  diskInfo.Total,
		FreeBytes:   diskInfo.Free,
	}, nil
}

// RuntimeStats is a small view of the Go runtime
type RuntimeStats struct {
	GoVersion   string  `json:"go_version"`
	GoRoutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
}

// GetRuntimeStats returns runtime statistics
func (sm *SystemMetricsTracker) GetRuntimeStats() *RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return &RuntimeStats{
		GoVersion:   runtime.Version(),
		GoRoutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		NumGC:       ms.NumGC,
	}
}

// Run samples host usage into m every interval until ctx is done
func (sm *SystemMetricsTracker) Run(ctx context.Context, m Manager, interval time.Duration) {
	log := logrus.WithField("component", "system_metrics")

	sample := func() {
		var memPct, diskPct float64
		if memStats, err := sm.GetMemoryUsage(); err == nil {
			memPct = memStats.UsedPercent
		} else {
			log.WithError(err).Debug("Failed to read memory usage")
		}
		if diskStats, err := sm.GetDiskUsage(); err == nil {
			diskPct = diskStats.UsedPercent
		} else {
			log.WithError(err).Debug("Failed to read disk usage")
		}
		m.UpdateSystemMetrics(memPct, diskPct)
	}

	sample()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}
