package feed

import (
	"fmt"
	stdSync "sync"

	"github.com/roastline/menusync/errors"
	"github.com/roastline/menusync/logging"
)

// Config is the immutable per-subscription configuration. It is a plain
// value passed once to Subscribe; there is no builder to alias.
type Config struct {
	// Filter optionally narrows the subscription to matching rows.
	Filter string

	// Kind-specific handlers. Nil handlers are skipped.
	OnInsert ChangeHandler
	OnUpdate ChangeHandler
	OnDelete ChangeHandler

	// OnError receives per-event handler failures and transport errors.
	// The subscription itself survives handler failures.
	OnError func(error)

	// OnStatus observes subscription status transitions.
	OnStatus StatusHandler
}

// UnsubscribeFunc tears down the subscription it was returned for.
// It is idempotent.
type UnsubscribeFunc func()

// Client maintains at most one live subscription per resource name on top
// of a Source. Subscribing to an already-subscribed resource tears down the
// prior handle before opening a new one.
type Client struct {
	source Source
	logger *logging.Logger

	mu      stdSync.Mutex
	handles map[string]*handle
}

type handle struct {
	channel Channel
	once    stdSync.Once
}

func (h *handle) unsubscribe() error {
	var err error
	h.once.Do(func() {
		err = h.channel.Unsubscribe()
	})
	return err
}

// NewClient creates a Client on top of the given source.
func NewClient(source Source, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		source:  source,
		logger:  logger.WithComponent(logging.Component("feed")),
		handles: make(map[string]*handle),
	}
}

// Subscribe opens a subscription for resource with the given config and
// returns a function that tears it down. Exactly one live subscription per
// resource name is maintained: an existing handle is unsubscribed first.
func (c *Client) Subscribe(resource string, cfg Config) (UnsubscribeFunc, error) {
	c.mu.Lock()
	if prior, ok := c.handles[resource]; ok {
		c.logger.Debug("tearing down prior subscription before resubscribe",
			"resource", resource)
		if err := prior.unsubscribe(); err != nil {
			c.logger.Warn("prior handle unsubscribe failed",
				"resource", resource, "error", err)
		}
		delete(c.handles, resource)
	}

	ch := c.source.OpenChannel(resource)
	ch.On(KindAll, resource, cfg.Filter, func(change Change) {
		c.dispatch(resource, cfg, change)
	})

	h := &handle{channel: ch}
	c.handles[resource] = h
	c.mu.Unlock()

	statusHandler := cfg.OnStatus
	if statusHandler == nil {
		statusHandler = func(Status, error) {}
	}

	if err := ch.Subscribe(statusHandler); err != nil {
		c.mu.Lock()
		if c.handles[resource] == h {
			delete(c.handles, resource)
		}
		c.mu.Unlock()
		_ = h.unsubscribe()
		return nil, errors.NewSubscriptionError(errors.OpSubscribe, resource, err)
	}

	c.logger.Debug("subscription opened", "resource", resource)

	return func() {
		c.mu.Lock()
		if c.handles[resource] == h {
			delete(c.handles, resource)
		}
		c.mu.Unlock()
		if err := h.unsubscribe(); err != nil {
			c.logger.Warn("unsubscribe failed",
				"resource", resource, "error", err)
		}
	}, nil
}

// UnsubscribeAll tears down every live subscription exactly once.
func (c *Client) UnsubscribeAll() {
	c.mu.Lock()
	handles := make([]*handle, 0, len(c.handles))
	for resource, h := range c.handles {
		handles = append(handles, h)
		delete(c.handles, resource)
	}
	c.mu.Unlock()

	for _, h := range handles {
		_ = h.unsubscribe()
	}
}

// Active reports whether a live subscription exists for resource.
func (c *Client) Active(resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handles[resource]
	return ok
}

// dispatch routes one change to the kind-specific handler, recovering
// per-event panics so a single bad event cannot kill the subscription.
func (c *Client) dispatch(resource string, cfg Config, change Change) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.NewSubscriptionError(errors.OpDispatch, resource,
				fmt.Errorf("handler panic on %s event: %v", change.Kind, r))
			c.logger.Warn("event handler panicked",
				"resource", resource,
				"kind", string(change.Kind),
				"error", err)
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
		}
	}()

	switch change.Kind {
	case KindInsert:
		if cfg.OnInsert != nil {
			cfg.OnInsert(change)
		}
	case KindUpdate:
		if cfg.OnUpdate != nil {
			cfg.OnUpdate(change)
		}
	case KindDelete:
		if cfg.OnDelete != nil {
			cfg.OnDelete(change)
		}
	default:
		if cfg.OnError != nil {
			cfg.OnError(errors.NewSubscriptionError(errors.OpDispatch, resource,
				fmt.Errorf("unknown event kind %q", change.Kind)))
		}
	}
}
