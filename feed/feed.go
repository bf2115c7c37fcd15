// Package feed wraps a push-based change-feed source and exposes typed
// insert/update/delete events for named resources.
//
// The Source/Channel pair is the transport-facing contract: a Source opens
// named channels against the remote store, a Channel delivers change
// notifications and subscription status transitions. Concrete
// implementations live in the pgfeed and wsfeed subpackages.
package feed

import (
	"time"
)

// EventKind identifies the kind of change carried by a notification.
type EventKind string

const (
	KindInsert EventKind = "insert"
	KindUpdate EventKind = "update"
	KindDelete EventKind = "delete"

	// KindAll registers a wildcard listener receiving every kind.
	KindAll EventKind = "*"
)

// Status reports the transport-level state of one subscription.
type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Change is the tagged payload of one incoming notification. Kind determines
// which sides are populated: inserts carry After, deletes carry Before,
// updates carry both.
type Change struct {
	Resource  string
	Kind      EventKind
	Before    map[string]interface{}
	After     map[string]interface{}
	Timestamp time.Time
}

// Record returns the payload side that identifies the affected row:
// After for inserts and updates, Before for deletes.
func (c Change) Record() map[string]interface{} {
	if c.Kind == KindDelete {
		return c.Before
	}
	return c.After
}

// RecordID extracts the affected row's id, or "" if the payload carries none.
func (c Change) RecordID() string {
	rec := c.Record()
	if rec == nil {
		return ""
	}
	if id, ok := rec["id"].(string); ok {
		return id
	}
	return ""
}

// ChangeHandler processes one incoming change notification.
type ChangeHandler func(Change)

// StatusHandler observes subscription status transitions. err is non-nil
// only for error statuses.
type StatusHandler func(status Status, err error)

// Channel is one named subscription against the change-feed source.
type Channel interface {
	// On registers a change listener for the given kind (KindAll for a
	// wildcard) and resource, optionally narrowed by a row filter
	// expression. Must be called before Subscribe.
	On(kind EventKind, resource string, filter string, handler ChangeHandler)

	// Subscribe activates the channel. Status transitions are delivered
	// asynchronously to the handler.
	Subscribe(handler StatusHandler) error

	// Unsubscribe tears the channel down. It is idempotent; no callbacks
	// are delivered after it returns.
	Unsubscribe() error
}

// Source opens named channels against the remote store.
type Source interface {
	OpenChannel(name string) Channel
}
