package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSystemMetrics(t *testing.T) {
	dataDir := t.TempDir()
	sm := NewSystemMetrics(dataDir)

	require.NotNil(t, sm)
	assert.Equal(t, dataDir, sm.dataDir)
	assert.GreaterOrEqual(t, sm.GetUptime(), int64(0))
}

func TestGetMemoryUsage(t *testing.T) {
	sm := NewSystemMetrics(t.TempDir())

	stats, err := sm.GetMemoryUsage()
	require.NoError(t, err)
	assert.Greater(t, stats.TotalBytes, uint64(0))
	assert.GreaterOrEqual(t, stats.UsedPercent, 0.0)
	assert.LessOrEqual(t, stats.UsedPercent, 100.0)
}

func TestGetDiskUsage(t *testing.T) {
	sm := NewSystemMetrics(t.TempDir())

	stats, err := sm.GetDiskUsage()
	require.NoError(t, err)
	assert.Greater(t, stats.TotalBytes, uint64(0))
}

func TestGetDiskUsage_MissingDir(t *testing.T) {
	sm := NewSystemMetrics("/nonexistent/aidawidget/data")

	_, err := sm.GetDiskUsage()
	assert.Error(t, err)
}

func TestGetRuntimeStats(t *testing.T) {
	stats := NewSystemMetrics(t.TempDir()).GetRuntimeStats()
	assert.NotEmpty(t, stats.GoVersion)
	assert.Greater(t, stats.GoRoutines, 0)
}

func TestRun_SamplesUntilCancelled(t *testing.T) {
	m := newTestManager(t)
	sm := NewSystemMetrics(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sm.Run(ctx, m, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.systemMemoryUsage) > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
