package menusync

import (
	"context"
	"fmt"
	"iter"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/roastline/menusync/errors"
	"github.com/roastline/menusync/feed"
	"github.com/roastline/menusync/logging"
)

// ConflictRecord marks one record as flagged for conflict review. Flags are
// created by MarkConflicted and removed by ResolveConflict; a delete-kind
// change for a flagged record also clears its flag.
type ConflictRecord struct {
	ItemID     string
	DetectedAt time.Time
}

// Manager coordinates one change-feed subscription per watched menu resource,
// aggregates their statuses into a single ConnectionStatus, maintains the
// bounded recent-changes log, and tracks conflict flags. Construct one per
// composition root; there is no package-level instance.
type Manager struct {
	opts    Options
	source  feed.Source
	client  *feed.Client
	logger  *logging.Logger
	metrics MetricsCollector

	recon  *reconnector
	health *healthMonitor
	recent *RecentLog

	events  chan feed.Change
	stopRun chan struct{}
	runWG   stdSync.WaitGroup

	mu         stdSync.RWMutex
	latencyMs  *int64
	lastUpdate time.Time
	conflicted map[string]time.Time
	started    bool
	closed     bool
}

// NewManager creates a Manager over the given change-feed source and health
// prober. The health monitor and the event loop start immediately; call
// Start to open the resource subscriptions.
func NewManager(source feed.Source, prober Prober, opts Options) *Manager {
	opts = opts.withDefaults()

	m := &Manager{
		opts:       opts,
		source:     source,
		client:     feed.NewClient(source, opts.Logger),
		logger:     opts.Logger.WithComponent(logging.Component("manager")),
		metrics:    opts.Metrics,
		recent:     NewRecentLog(opts.RecentLogCapacity),
		events:     make(chan feed.Change, opts.EventBufferSize),
		stopRun:    make(chan struct{}),
		conflicted: make(map[string]time.Time),
	}

	m.recon = newReconnector(opts.BaseDelay, opts.MaxRetries, m.logger)
	m.recon.resubscribe = m.resubscribe
	m.recon.onAttempt = func(resource string, retryCount int) {
		m.metrics.RecordReconnectAttempt(resource, retryCount)
	}
	m.recon.onExhausted = m.metrics.RecordRetriesExhausted

	m.health = newHealthMonitor(prober, opts.ProbeInterval, opts.ProbeTimeout,
		opts.Logger, opts.Metrics, m.isConnected, m.reportLatency)
	m.health.start()

	m.runWG.Add(1)
	go m.run()

	return m
}

// Start opens one subscription per watched resource. It returns immediately;
// connection progress surfaces asynchronously through Status.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New(errors.OpSubscribe, fmt.Errorf("manager is closed"))
	}
	if m.started {
		m.mu.Unlock()
		return errors.New(errors.OpSubscribe, fmt.Errorf("manager already started"))
	}
	m.started = true
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.logger.Info("starting resource subscriptions", "resources", m.opts.Resources)
	for _, resource := range m.opts.Resources {
		m.subscribeResource(resource)
	}
	return nil
}

// run is the single consumer of the fan-in event queue and the only writer
// of the recent-changes log.
func (m *Manager) run() {
	defer m.runWG.Done()
	for {
		select {
		case <-m.stopRun:
			return
		case change := <-m.events:
			m.handleChange(change)
		}
	}
}

func (m *Manager) handleChange(change feed.Change) {
	event := NewChangeEvent(change)
	m.recent.Append(event)
	m.metrics.RecordEvent(event.Resource, string(event.Kind))

	m.mu.Lock()
	m.lastUpdate = time.Now()
	if event.Kind == feed.KindDelete {
		if id := event.RecordID(); id != "" {
			// A record deleted elsewhere can no longer conflict.
			delete(m.conflicted, id)
		}
	}
	m.mu.Unlock()

	m.logger.Debug("change event observed",
		"resource", event.Resource, "kind", string(event.Kind), "record_id", event.RecordID())
}

// subscribeResource opens (or reopens) the subscription for one resource
// with the manager's uniform handler set.
func (m *Manager) subscribeResource(resource string) {
	cfg := feed.Config{
		Filter:   m.opts.Filter,
		OnInsert: m.enqueue,
		OnUpdate: m.enqueue,
		OnDelete: m.enqueue,
		OnError: func(err error) {
			m.logger.LogError(context.Background(), err, "event handler error")
			if m.opts.OnError != nil {
				m.opts.OnError(err)
			}
		},
		OnStatus: func(status feed.Status, err error) {
			m.handleStatus(resource, status, err)
		},
	}

	m.recon.markConnecting()
	if _, err := m.client.Subscribe(resource, cfg); err != nil {
		m.logger.LogError(context.Background(), err, "subscription failed")
		m.recon.handleFailure(resource, err.Error())
	}
}

// resubscribe is invoked by the reconnection controller when a backoff timer
// fires.
func (m *Manager) resubscribe(resource string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}
	m.logger.Info("resubscribing", "resource", resource)
	m.subscribeResource(resource)
}

// enqueue hands a change to the run loop without blocking the transport
// callback. When the queue is full the event is dropped; consumers re-fetch
// authoritative state rather than applying events as deltas.
func (m *Manager) enqueue(change feed.Change) {
	select {
	case m.events <- change:
	default:
		m.logger.Warn("event queue full, dropping event",
			"resource", change.Resource, "kind", string(change.Kind))
	}
}

func (m *Manager) handleStatus(resource string, status feed.Status, err error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}

	switch status {
	case feed.StatusSubscribed:
		m.logger.Info("resource subscribed", "resource", resource)
		m.recon.handleSubscribed()
		m.health.kickProbe()

	case feed.StatusConnecting:
		m.recon.markConnecting()

	case feed.StatusChannelError, feed.StatusTimedOut, feed.StatusClosed:
		msg := string(status)
		if err != nil {
			msg = err.Error()
		}
		ferr := errors.NewSubscriptionError(errors.OpSubscribe, resource,
			fmt.Errorf("transport status %s: %s", status, msg))
		m.logger.Warn("subscription failure", "resource", resource, "status", string(status), "error", msg)
		if m.opts.OnError != nil {
			m.opts.OnError(ferr)
		}
		m.recon.handleFailure(resource, msg)
	}
}

func (m *Manager) isConnected() bool {
	state, _, _, _ := m.recon.snapshot()
	return state == StateConnected
}

func (m *Manager) reportLatency(latencyMs *int64) {
	m.mu.Lock()
	m.latencyMs = latencyMs
	m.mu.Unlock()
}

// Status returns a point-in-time snapshot of the aggregate connection.
func (m *Manager) Status() ConnectionStatus {
	state, retryCount, lastConnectedAt, errMsg := m.recon.snapshot()

	m.mu.RLock()
	var latency *int64
	if m.latencyMs != nil {
		v := *m.latencyMs
		latency = &v
	}
	m.mu.RUnlock()

	return ConnectionStatus{
		State:           state,
		LastConnectedAt: lastConnectedAt,
		RetryCount:      retryCount,
		LatencyMs:       latency,
		Err:             errMsg,
		Quality:         QualityFor(state, latency),
	}
}

// RecentChanges returns a copy of the recent-changes log, oldest first.
func (m *Manager) RecentChanges() []ChangeEvent {
	return m.recent.Items()
}

// Changes returns a restartable lazy sequence over the recent-changes log.
func (m *Manager) Changes() iter.Seq[ChangeEvent] {
	return m.recent.All()
}

// ClearRecentChanges empties the log. It is idempotent.
func (m *Manager) ClearRecentChanges() {
	m.recent.Clear()
}

// LastUpdate returns when the last change event was observed.
func (m *Manager) LastUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate
}

// MarkConflicted flags a record as having a potential edit conflict.
func (m *Manager) MarkConflicted(itemID string) {
	m.mu.Lock()
	m.conflicted[itemID] = time.Now()
	m.mu.Unlock()
	m.metrics.RecordConflictFlagged(itemID)
	m.logger.Info("record flagged as conflicted", "record_id", itemID)
}

// ResolveConflict clears a conflict flag. Resolving an unflagged record is
// a no-op.
func (m *Manager) ResolveConflict(itemID string) {
	m.mu.Lock()
	_, flagged := m.conflicted[itemID]
	if flagged {
		delete(m.conflicted, itemID)
	}
	m.mu.Unlock()

	if flagged {
		m.metrics.RecordConflictResolved(itemID)
		m.logger.Info("conflict resolved", "record_id", itemID)
	}
}

// Conflicted returns a copy of the current conflict flags.
func (m *Manager) Conflicted() []ConflictRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]ConflictRecord, 0, len(m.conflicted))
	for id, at := range m.conflicted {
		records = append(records, ConflictRecord{ItemID: id, DetectedAt: at})
	}
	return records
}

// IsConflicted reports whether a record is currently flagged.
func (m *Manager) IsConflicted(itemID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conflicted[itemID]
	return ok
}

// Reconnect resets the retry counter and reissues every resource
// subscription immediately, bypassing backoff. It is the manual escape
// hatch from the terminal error state.
func (m *Manager) Reconnect() error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errors.New(errors.OpReconnect, fmt.Errorf("manager is closed"))
	}

	m.logger.Info("manual reconnect requested")
	m.recon.manualReset()
	m.client.UnsubscribeAll()
	for _, resource := range m.opts.Resources {
		m.subscribeResource(resource)
	}
	return nil
}

// TestConnection opens an ephemeral probe channel and reports whether it
// reaches SUBSCRIBED within the timeout (DefaultTestTimeout when zero).
// The probe channel is always torn down before returning.
func (m *Manager) TestConnection(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}

	name := "connection_probe_" + uuid.NewString()
	ch := m.source.OpenChannel(name)
	defer func() {
		if err := ch.Unsubscribe(); err != nil {
			m.logger.Warn("probe channel teardown failed", "error", err)
		}
	}()

	subscribed := make(chan struct{}, 1)
	err := ch.Subscribe(func(status feed.Status, _ error) {
		if status == feed.StatusSubscribed {
			select {
			case subscribed <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		m.logger.Warn("connection test failed to open probe channel", "error", err)
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-subscribed:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

// Close tears the manager down: health monitor stopped, pending reconnect
// timers cleared, and each resource unsubscribed exactly once regardless of
// whether it ever reached SUBSCRIBED. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.latencyMs = nil
	m.mu.Unlock()

	m.health.shutdown()
	m.recon.stop()
	close(m.stopRun)
	m.runWG.Wait()
	m.client.UnsubscribeAll()

	m.logger.Info("manager closed")
	return nil
}
