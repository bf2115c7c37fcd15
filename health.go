package menusync

import (
	"context"
	stdSync "sync"
	"time"

	"github.com/roastline/menusync/errors"
	"github.com/roastline/menusync/logging"
)

// Prober issues a minimal read against the store. Only the round-trip time
// matters; the result is discarded.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// healthMonitor measures store round-trip latency on a fixed interval while
// the manager is connected. A probe failure reports nil latency; it does not
// imply the subscription itself dropped.
type healthMonitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger
	metrics  MetricsCollector

	connected func() bool
	report    func(latencyMs *int64)

	kick     chan struct{}
	stop     chan struct{}
	stopOnce stdSync.Once
	wg       stdSync.WaitGroup
}

func newHealthMonitor(prober Prober, interval, timeout time.Duration, logger *logging.Logger,
	metrics MetricsCollector, connected func() bool, report func(latencyMs *int64)) *healthMonitor {
	return &healthMonitor{
		prober:    prober,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.WithComponent(logging.Component("health")),
		metrics:   metrics,
		connected: connected,
		report:    report,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

func (h *healthMonitor) start() {
	h.wg.Add(1)
	go h.run()
}

func (h *healthMonitor) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-h.kick:
			h.probe()
		case <-ticker.C:
			if h.connected() {
				h.probe()
			}
		}
	}
}

// kickProbe requests an immediate probe, coalescing with any pending request.
func (h *healthMonitor) kickProbe() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

func (h *healthMonitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	start := time.Now()
	err := h.prober.Probe(ctx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		h.logger.Warn("health probe failed", "error", errors.NewProbeError(err))
		h.metrics.RecordProbe(0, false)
		h.report(nil)
		return
	}

	h.metrics.RecordProbe(elapsed, true)
	h.report(&elapsed)
}

func (h *healthMonitor) shutdown() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.wg.Wait()
}
