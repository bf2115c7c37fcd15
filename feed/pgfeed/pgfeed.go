// Package pgfeed implements the change-feed Source over PostgreSQL
// LISTEN/NOTIFY. Row triggers on the menu tables are expected to NOTIFY a
// per-resource channel with a JSON payload carrying the event kind and the
// affected row's before/after images.
package pgfeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	"github.com/lib/pq"

	"github.com/roastline/menusync/errors"
	"github.com/roastline/menusync/feed"
	"github.com/roastline/menusync/logging"
)

// channelPrefix namespaces the NOTIFY channels used by the feed.
const channelPrefix = "menusync_"

// Keepalive interval for the underlying listener connection.
const pingInterval = 90 * time.Second

// payload is the wire shape of one NOTIFY message.
type payload struct {
	Resource  string                 `json:"resource"`
	Kind      string                 `json:"kind"`
	Before    map[string]interface{} `json:"before,omitempty"`
	After     map[string]interface{} `json:"after,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Config holds connection options for the PostgreSQL feed source.
type Config struct {
	// ConnString is the lib/pq connection string.
	ConnString string

	// MinReconnectInterval and MaxReconnectInterval bound the underlying
	// listener's own connection retry. Defaults: 1s and 30s.
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration

	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.MinReconnectInterval == 0 {
		c.MinReconnectInterval = time.Second
	}
	if c.MaxReconnectInterval == 0 {
		c.MaxReconnectInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
}

// Source is a feed.Source backed by one shared PostgreSQL listener
// connection. Channels opened from it multiplex onto per-resource NOTIFY
// channels.
type Source struct {
	logger   *logging.Logger
	listener *pq.Listener

	mu       stdSync.Mutex
	channels map[string]*channel
	closed   bool

	done     chan struct{}
	doneOnce stdSync.Once
	wg       stdSync.WaitGroup
}

var _ feed.Source = (*Source)(nil)

// New connects the shared listener and starts the notification loop.
func New(config *Config) (*Source, error) {
	if config == nil || config.ConnString == "" {
		return nil, fmt.Errorf("pgfeed: connection string is required")
	}
	config.setDefaults()

	s := &Source{
		logger:   config.Logger.WithComponent(logging.Component("pgfeed")),
		channels: make(map[string]*channel),
		done:     make(chan struct{}),
	}

	s.listener = pq.NewListener(config.ConnString,
		config.MinReconnectInterval, config.MaxReconnectInterval, s.connectionEvent)

	s.wg.Add(1)
	go s.loop()

	return s, nil
}

// OpenChannel returns a Channel bound to the NOTIFY channel for name.
func (s *Source) OpenChannel(name string) feed.Channel {
	return &channel{source: s, name: name}
}

// connectionEvent observes the shared connection's lifecycle and fans the
// transition out to every subscribed channel.
func (s *Source) connectionEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		s.logger.Info("listener connected")

	case pq.ListenerEventDisconnected:
		s.logger.Warn("listener disconnected", "error", err)
		s.broadcastStatus(feed.StatusChannelError,
			errors.NewNetworkError(errors.OpSubscribe, err))

	case pq.ListenerEventReconnected:
		s.logger.Info("listener reconnected")
		s.relistenAll()

	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Warn("listener connection attempt failed", "error", err)
	}
}

// relistenAll reissues LISTEN for every live channel after the shared
// connection comes back, then reports SUBSCRIBED to each.
func (s *Source) relistenAll() {
	s.mu.Lock()
	channels := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		if err := s.listener.Listen(pgChannel(ch.name)); err != nil {
			s.logger.Warn("relisten failed", "channel", ch.name, "error", err)
			ch.reportStatus(feed.StatusChannelError,
				errors.NewSubscriptionError(errors.OpSubscribe, ch.name, err))
			continue
		}
		ch.reportStatus(feed.StatusSubscribed, nil)
	}
}

func (s *Source) broadcastStatus(status feed.Status, err error) {
	s.mu.Lock()
	channels := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		ch.reportStatus(status, err)
	}
}

func (s *Source) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case notification := <-s.listener.Notify:
			if notification == nil {
				// nil is delivered on reconnect; relistenAll handles it.
				continue
			}
			s.dispatch(notification)

		case <-time.After(pingInterval):
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.logger.Warn("listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (s *Source) dispatch(notification *pq.Notification) {
	name := strings.TrimPrefix(notification.Channel, channelPrefix)

	s.mu.Lock()
	ch := s.channels[name]
	s.mu.Unlock()
	if ch == nil {
		return
	}

	var p payload
	if err := json.Unmarshal([]byte(notification.Extra), &p); err != nil {
		s.logger.Warn("malformed notification payload",
			"channel", notification.Channel, "error", err)
		return
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ch.deliver(feed.Change{
		Resource:  p.Resource,
		Kind:      feed.EventKind(strings.ToLower(p.Kind)),
		Before:    p.Before,
		After:     p.After,
		Timestamp: ts,
	})
}

func (s *Source) register(ch *channel) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("pgfeed: source is closed")
	}
	s.channels[ch.name] = ch
	s.mu.Unlock()

	if err := s.listener.Listen(pgChannel(ch.name)); err != nil {
		s.mu.Lock()
		if s.channels[ch.name] == ch {
			delete(s.channels, ch.name)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Source) unregister(ch *channel) error {
	s.mu.Lock()
	if s.channels[ch.name] != ch {
		s.mu.Unlock()
		return nil
	}
	delete(s.channels, ch.name)
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil
	}
	if err := s.listener.Unlisten(pgChannel(ch.name)); err != nil && err != pq.ErrChannelNotOpen {
		return err
	}
	return nil
}

// Close tears the shared listener down. Channels opened from this source
// deliver no further callbacks.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func pgChannel(name string) string {
	return channelPrefix + name
}

// listenerEntry is one registered change handler on a channel.
type listenerEntry struct {
	kind     feed.EventKind
	resource string
	filter   string
	handler  feed.ChangeHandler
}

// channel is one named subscription multiplexed onto the shared listener.
type channel struct {
	source *Source
	name   string

	mu        stdSync.Mutex
	listeners []listenerEntry
	status    feed.StatusHandler
	live      bool
}

var _ feed.Channel = (*channel)(nil)

func (c *channel) On(kind feed.EventKind, resource string, filter string, handler feed.ChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listenerEntry{
		kind:     kind,
		resource: resource,
		filter:   filter,
		handler:  handler,
	})
}

func (c *channel) Subscribe(handler feed.StatusHandler) error {
	c.mu.Lock()
	c.status = handler
	c.live = true
	c.mu.Unlock()

	c.reportStatus(feed.StatusConnecting, nil)

	if err := c.source.register(c); err != nil {
		c.mu.Lock()
		c.live = false
		c.mu.Unlock()
		return err
	}

	c.reportStatus(feed.StatusSubscribed, nil)
	return nil
}

func (c *channel) Unsubscribe() error {
	c.mu.Lock()
	wasLive := c.live
	c.live = false
	c.mu.Unlock()

	if !wasLive {
		return nil
	}
	return c.source.unregister(c)
}

func (c *channel) reportStatus(status feed.Status, err error) {
	c.mu.Lock()
	handler := c.status
	live := c.live
	c.mu.Unlock()
	if handler != nil && live {
		handler(status, err)
	}
}

func (c *channel) deliver(change feed.Change) {
	c.mu.Lock()
	live := c.live
	listeners := make([]listenerEntry, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	if !live {
		return
	}

	for _, l := range listeners {
		if l.kind != feed.KindAll && l.kind != change.Kind {
			continue
		}
		if l.resource != "" && l.resource != change.Resource {
			continue
		}
		if !matchFilter(l.filter, change.Record()) {
			continue
		}
		l.handler(change)
	}
}

// matchFilter evaluates a "column=eq.value" row filter against a record.
// An empty filter matches everything; a malformed one matches nothing.
func matchFilter(filter string, record map[string]interface{}) bool {
	if filter == "" {
		return true
	}
	column, want, ok := strings.Cut(filter, "=eq.")
	if !ok {
		return false
	}
	if record == nil {
		return false
	}
	got, present := record[column]
	if !present {
		return false
	}
	return fmt.Sprint(got) == want
}

// Prober times a minimal read against the same database the feed listens on.
// Open db with the lib/pq driver.
type Prober struct {
	db *sql.DB
}

func NewProber(db *sql.DB) *Prober {
	return &Prober{db: db}
}

func (p *Prober) Probe(ctx context.Context) error {
	var one int
	if err := p.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return errors.NewProbeError(err)
	}
	return nil
}
