// Package wsfeed implements the change-feed Source over a WebSocket
// connection to a feed gateway. Subscriptions are managed with
// subscribe/unsubscribe frames; change events arrive as JSON envelopes
// addressed to a named channel.
package wsfeed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	stdSync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roastline/menusync/errors"
	"github.com/roastline/menusync/feed"
	"github.com/roastline/menusync/logging"
)

const (
	actionSubscribe      = "subscribe"
	actionUnsubscribe    = "unsubscribe"
	actionSubscribeAck   = "subscribe_ack"
	actionUnsubscribeAck = "unsubscribe_ack"
	actionEvent          = "event"
	actionError          = "error"
)

// envelope wraps every frame on the wire, in both directions.
type envelope struct {
	Action  string   `json:"action"`
	Channel string   `json:"channel"`
	Payload *payload `json:"payload,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// payload is the wire shape of one change event.
type payload struct {
	Resource  string                 `json:"resource"`
	Kind      string                 `json:"kind"`
	Before    map[string]interface{} `json:"before,omitempty"`
	After     map[string]interface{} `json:"after,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Config holds connection options for the WebSocket feed source.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the feed gateway.
	URL string

	// Header is passed on the handshake, for auth tokens and the like.
	Header http.Header

	// HandshakeTimeout bounds the dial. Default 10s.
	HandshakeTimeout time.Duration

	// PingInterval and PongWait drive the keepalive. Defaults 30s and 60s.
	PingInterval time.Duration
	PongWait     time.Duration

	// WriteTimeout bounds a single frame write. Default 10s.
	WriteTimeout time.Duration

	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait == 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
}

// Source is a feed.Source multiplexing named channels onto one WebSocket
// connection.
type Source struct {
	logger       *logging.Logger
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration

	writeMu stdSync.Mutex

	mu       stdSync.Mutex
	channels map[string]*channel
	closed   bool

	done     chan struct{}
	doneOnce stdSync.Once
	wg       stdSync.WaitGroup
}

var _ feed.Source = (*Source)(nil)

// Dial connects to the feed gateway and starts the read and keepalive loops.
func Dial(config *Config) (*Source, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("wsfeed: endpoint URL is required")
	}
	config.setDefaults()

	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	conn, _, err := dialer.Dial(config.URL, config.Header)
	if err != nil {
		return nil, errors.NewNetworkError(errors.OpSubscribe,
			fmt.Errorf("dial %s: %w", config.URL, err))
	}

	s := &Source{
		logger:       config.Logger.WithComponent(logging.Component("wsfeed")),
		conn:         conn,
		writeTimeout: config.WriteTimeout,
		pongWait:     config.PongWait,
		channels:     make(map[string]*channel),
		done:         make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readPump()
	go s.pingLoop(config.PingInterval)

	return s, nil
}

// OpenChannel returns a Channel bound to the named gateway channel.
func (s *Source) OpenChannel(name string) feed.Channel {
	return &channel{source: s, name: name}
}

func (s *Source) readPump() {
	defer s.wg.Done()

	s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read failed", "error", err)
			}
			s.broadcastStatus(feed.StatusChannelError,
				errors.NewNetworkError(errors.OpSubscribe, err))
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.logger.Warn("malformed frame", "error", err)
			continue
		}
		s.handleEnvelope(env)
	}
}

func (s *Source) pingLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Source) handleEnvelope(env envelope) {
	s.mu.Lock()
	ch := s.channels[env.Channel]
	s.mu.Unlock()
	if ch == nil {
		return
	}

	switch env.Action {
	case actionSubscribeAck:
		ch.reportStatus(feed.StatusSubscribed, nil)

	case actionError:
		ch.reportStatus(feed.StatusChannelError,
			errors.NewSubscriptionError(errors.OpSubscribe, env.Channel,
				fmt.Errorf("gateway error: %s", env.Error)))

	case actionEvent:
		if env.Payload == nil {
			s.logger.Warn("event frame without payload", "channel", env.Channel)
			return
		}
		p := env.Payload
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

	case actionUnsubscribeAck:
		// Teardown already happened locally.
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

func (s *Source) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Source) register(ch *channel) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("wsfeed: source is closed")
	}
	s.channels[ch.name] = ch
	s.mu.Unlock()

	if err := s.writeJSON(envelope{Action: actionSubscribe, Channel: ch.name}); err != nil {
		s.mu.Lock()
		if s.channels[ch.name] == ch {
			delete(s.channels, ch.name)
		}
		s.mu.Unlock()
		return errors.NewSubscriptionError(errors.OpSubscribe, ch.name, err)
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
	return s.writeJSON(envelope{Action: actionUnsubscribe, Channel: ch.name})
}

// Close tears the connection down. Channels opened from this source deliver
// no further callbacks.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// channel is one named subscription multiplexed onto the shared connection.
type channel struct {
	source *Source
	name   string

	mu        stdSync.Mutex
	listeners []listenerEntry
	status    feed.StatusHandler
	live      bool
}

var _ feed.Channel = (*channel)(nil)

type listenerEntry struct {
	kind     feed.EventKind
	resource string
	filter   string
	handler  feed.ChangeHandler
}

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

// Subscribe sends the subscribe frame. SUBSCRIBED is reported asynchronously
// when the gateway acks.
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
	if !ok || record == nil {
		return false
	}
	got, present := record[column]
	if !present {
		return false
	}
	return fmt.Sprint(got) == want
}
