package menusync

import (
	"context"
	stdErrors "errors"
	stdSync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roastline/menusync/logging"
)

type latencySink struct {
	mu      stdSync.Mutex
	reports []*int64
	notify  chan struct{}
}

func newLatencySink() *latencySink {
	return &latencySink{notify: make(chan struct{}, 16)}
}

func (s *latencySink) report(latencyMs *int64) {
	s.mu.Lock()
	s.reports = append(s.reports, latencyMs)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *latencySink) last(t *testing.T) *int64 {
	t.Helper()
	select {
	case <-s.notify:
	case <-time.After(time.Second):
		t.Fatal("expected a latency report")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.reports)
	return s.reports[len(s.reports)-1]
}

func TestHealthMonitor_ReportsLatencyOnSuccess(t *testing.T) {
	sink := newLatencySink()
	prober := ProberFunc(func(ctx context.Context) error { return nil })

	h := newHealthMonitor(prober, 5*time.Millisecond, time.Second,
		logging.Default(), &NoOpMetricsCollector{},
		func() bool { return true }, sink.report)
	h.start()
	defer h.shutdown()

	latency := sink.last(t)
	require.NotNil(t, latency)
	assert.GreaterOrEqual(t, *latency, int64(0))
}

func TestHealthMonitor_ReportsNilOnFailure(t *testing.T) {
	sink := newLatencySink()
	prober := ProberFunc(func(ctx context.Context) error {
		return stdErrors.New("store unreachable")
	})

	h := newHealthMonitor(prober, 5*time.Millisecond, time.Second,
		logging.Default(), &NoOpMetricsCollector{},
		func() bool { return true }, sink.report)
	h.start()
	defer h.shutdown()

	assert.Nil(t, sink.last(t))
}

func TestHealthMonitor_SkipsProbeWhileDisconnected(t *testing.T) {
	sink := newLatencySink()
	prober := ProberFunc(func(ctx context.Context) error { return nil })

	h := newHealthMonitor(prober, 5*time.Millisecond, time.Second,
		logging.Default(), &NoOpMetricsCollector{},
		func() bool { return false }, sink.report)
	h.start()
	defer h.shutdown()

	select {
	case <-sink.notify:
		t.Fatal("ticker must not probe while disconnected")
	case <-time.After(40 * time.Millisecond):
	}
}

func TestHealthMonitor_KickProbesImmediately(t *testing.T) {
	sink := newLatencySink()
	prober := ProberFunc(func(ctx context.Context) error { return nil })

	// An hour-long interval: only an explicit kick can produce a report.
	h := newHealthMonitor(prober, time.Hour, time.Second,
		logging.Default(), &NoOpMetricsCollector{},
		func() bool { return true }, sink.report)
	h.start()
	defer h.shutdown()

	h.kickProbe()
	require.NotNil(t, sink.last(t))
}

func TestHealthMonitor_ProbeTimeout(t *testing.T) {
	sink := newLatencySink()
	prober := ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	h := newHealthMonitor(prober, time.Hour, 10*time.Millisecond,
		logging.Default(), &NoOpMetricsCollector{},
		func() bool { return true }, sink.report)
	h.start()
	defer h.shutdown()

	h.kickProbe()
	assert.Nil(t, sink.last(t))
}

func TestHealthMonitor_ShutdownIsIdempotent(t *testing.T) {
	sink := newLatencySink()
	h := newHealthMonitor(ProberFunc(func(context.Context) error { return nil }),
		time.Hour, time.Second, logging.Default(), &NoOpMetricsCollector{},
		func() bool { return true }, sink.report)
	h.start()

	h.shutdown()
	h.shutdown()
}
