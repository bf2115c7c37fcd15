package menusync

import (
	stdSync "sync"
	"time"

	"github.com/roastline/menusync/logging"
)

// ErrMaxRetriesExceeded is the terminal status message after retry exhaustion.
const ErrMaxRetriesExceeded = "Maximum reconnection attempts exceeded"

// BackoffDelay returns the reconnection delay for the given retry count:
// base * 2^retryCount.
func BackoffDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
	}
	return delay
}

// reconnector is the reconnection state machine. It owns the aggregate
// connection state, the retry counter, and the per-resource backoff timers.
// Transitions:
//
//	connecting   -> connected     on SUBSCRIBED (retryCount=0, lastConnectedAt=now)
//	connected    -> error         on transport failure (message captured)
//	error        -> reconnecting  while retryCount < maxRetries (timer scheduled)
//	reconnecting -> connecting    on timer fire (resubscribe invoked)
//	any          -> disconnected  on stop (all timers cleared)
//
// Exhaustion is terminal: state stays error with ErrMaxRetriesExceeded until
// a manual reset.
type reconnector struct {
	baseDelay  time.Duration
	maxRetries int
	logger     *logging.Logger

	// resubscribe is invoked off the timer goroutine when a scheduled
	// attempt fires.
	resubscribe func(resource string)
	onAttempt   func(resource string, retryCount int)
	onExhausted func()

	mu              stdSync.Mutex
	state           State
	retryCount      int
	lastConnectedAt *time.Time
	errMsg          string
	timers          map[string]*time.Timer
	stopped         bool
}

func newReconnector(baseDelay time.Duration, maxRetries int, logger *logging.Logger) *reconnector {
	return &reconnector{
		baseDelay:  baseDelay,
		maxRetries: maxRetries,
		logger:     logger,
		state:      StateDisconnected,
		timers:     make(map[string]*time.Timer),
	}
}

// markConnecting records an in-flight subscription attempt. It never
// downgrades an already-connected aggregate state: partial connectivity
// still counts as connected.
func (r *reconnector) markConnecting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.state == StateConnected {
		return
	}
	r.state = StateConnecting
}

// handleSubscribed records a successful transition to connected. The retry
// counter resets only here.
func (r *reconnector) handleSubscribed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	now := time.Now()
	r.state = StateConnected
	r.retryCount = 0
	r.lastConnectedAt = &now
	r.errMsg = ""
}

// handleFailure captures a transport failure and schedules a resubscribe
// with exponential backoff, unless retries are exhausted.
func (r *reconnector) handleFailure(resource string, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	r.state = StateError
	r.errMsg = msg

	if _, pending := r.timers[resource]; pending {
		return
	}

	if r.retryCount >= r.maxRetries {
		r.errMsg = ErrMaxRetriesExceeded
		r.logger.Error("reconnection attempts exhausted",
			"resource", resource, "max_retries", r.maxRetries)
		if r.onExhausted != nil {
			r.onExhausted()
		}
		return
	}

	delay := BackoffDelay(r.baseDelay, r.retryCount)
	r.retryCount++
	r.state = StateReconnecting

	attempt := r.retryCount
	r.timers[resource] = time.AfterFunc(delay, func() {
		r.fire(resource)
	})

	r.logger.Warn("reconnect scheduled",
		"resource", resource, "attempt", attempt, "delay", delay)
	if r.onAttempt != nil {
		r.onAttempt(resource, attempt)
	}
}

// fire runs when a backoff timer elapses: the state moves to connecting and
// the original subscription is reissued.
func (r *reconnector) fire(resource string) {
	r.mu.Lock()
	delete(r.timers, resource)
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.state != StateConnected {
		r.state = StateConnecting
	}
	resubscribe := r.resubscribe
	r.mu.Unlock()

	if resubscribe != nil {
		resubscribe(resource)
	}
}

// manualReset implements the manual reconnect entry point: the retry counter
// resets to zero and the state moves to reconnecting immediately, bypassing
// backoff. Pending timers are cleared; the caller reissues subscriptions.
func (r *reconnector) manualReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.clearTimersLocked()
	r.retryCount = 0
	r.errMsg = ""
	r.state = StateReconnecting
}

// stop tears the state machine down: all pending timers are cleared so a
// torn-down manager can never resubscribe itself.
func (r *reconnector) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.clearTimersLocked()
	r.state = StateDisconnected
}

func (r *reconnector) clearTimersLocked() {
	for resource, timer := range r.timers {
		timer.Stop()
		delete(r.timers, resource)
	}
}

// snapshot returns a consistent view of the state machine.
func (r *reconnector) snapshot() (state State, retryCount int, lastConnectedAt *time.Time, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastConnectedAt != nil {
		t := *r.lastConnectedAt
		lastConnectedAt = &t
	}
	return r.state, r.retryCount, lastConnectedAt, r.errMsg
}
