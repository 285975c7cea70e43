package daemon

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/orchestrator"
	"github.com/solreap/solreap/reclaim"
	"github.com/solreap/solreap/telemetry"
)

type fakeRunner struct {
	monitorCalls atomic.Int64
	reclaimCalls atomic.Int64
}

func (f *fakeRunner) Monitor(context.Context) (orchestrator.MonitorResult, error) {
	f.monitorCalls.Add(1)
	return orchestrator.MonitorResult{}, nil
}

func (f *fakeRunner) Reclaim(context.Context) (reclaim.Summary, error) {
	f.reclaimCalls.Add(1)
	return reclaim.Summary{}, nil
}

func newTestDaemon(t *testing.T, config Config) (*Daemon, *fakeRunner) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "solreap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := &fakeRunner{}
	daemon, err := New(config, runner, store, telemetry.NewTestLogger())
	require.NoError(t, err)
	return daemon, runner
}

func TestNew(t *testing.T) {
	daemon, _ := newTestDaemon(t, Config{
		MonitorInterval: 5 * time.Minute,
		ReclaimInterval: 6 * time.Hour,
		MetricsPort:     0,
	})

	assert.NotNil(t, daemon)
	assert.NotNil(t, daemon.metrics)
	assert.Equal(t, int64(0), daemon.CycleCount())
}

func TestDaemon_StartAndShutdown(t *testing.T) {
	daemon, _ := newTestDaemon(t, Config{
		MonitorInterval: time.Minute,
		ReclaimInterval: time.Hour,
		MetricsPort:     0, // random port
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("daemon exited early: %v", err)
	default:
	}

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down within timeout")
	}
}

func TestDaemon_MonitorRunsOnInterval(t *testing.T) {
	daemon, runner := newTestDaemon(t, Config{
		MonitorInterval: 50 * time.Millisecond,
		ReclaimInterval: time.Hour,
		MetricsPort:     0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = daemon.Start(ctx) }()

	// Immediate pass plus at least two ticks.
	time.Sleep(250 * time.Millisecond)
	assert.GreaterOrEqual(t, runner.monitorCalls.Load(), int64(3))
	assert.GreaterOrEqual(t, daemon.CycleCount(), int64(3))
	assert.Equal(t, int64(0), runner.reclaimCalls.Load())
}

func TestDaemon_ReclaimRunsOnItsOwnInterval(t *testing.T) {
	daemon, runner := newTestDaemon(t, Config{
		MonitorInterval: time.Hour,
		ReclaimInterval: 50 * time.Millisecond,
		MetricsPort:     0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = daemon.Start(ctx) }()

	time.Sleep(250 * time.Millisecond)
	assert.GreaterOrEqual(t, runner.reclaimCalls.Load(), int64(2))
}

func TestDaemon_MetricsAndHealthEndpoints(t *testing.T) {
	daemon, _ := newTestDaemon(t, Config{
		MonitorInterval: time.Minute,
		ReclaimInterval: time.Hour,
		MetricsPort:     0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = daemon.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)

	port := daemon.MetricsPort()
	require.Greater(t, port, 0)

	for _, path := range []string{"/metrics", "/health", "/-/healthy", "/-/ready"} {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s", port, path))
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestDaemon_Health(t *testing.T) {
	daemon, _ := newTestDaemon(t, Config{
		MonitorInterval: time.Minute,
		ReclaimInterval: time.Hour,
		MetricsPort:     0,
	})

	health := daemon.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.Uptime, int64(0))
}
