package menusync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roastline/menusync/logging"
)

// Defaults for the reconnection controller and health monitor.
const (
	DefaultBaseDelay       = 2 * time.Second
	DefaultMaxRetries      = 5
	DefaultProbeInterval   = 10 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
	DefaultTestTimeout     = 10 * time.Second
	DefaultEventBufferSize = 64
)

// Options configures a Manager. The zero value is usable; unset fields fall
// back to the defaults above.
type Options struct {
	// Resources to watch. Defaults to MenuResources().
	Resources []string

	// BaseDelay is the backoff base: delay = BaseDelay * 2^retryCount.
	BaseDelay time.Duration

	// MaxRetries bounds automatic reconnection attempts.
	MaxRetries int

	// ProbeInterval is how often the health monitor probes while connected.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single health probe round trip.
	ProbeTimeout time.Duration

	// RecentLogCapacity bounds the recent-changes log.
	RecentLogCapacity int

	// EventBufferSize bounds the fan-in event queue.
	EventBufferSize int

	// Filter optionally narrows every resource subscription.
	Filter string

	// OnError is invoked for transport errors surfaced by any resource.
	OnError func(error)

	Logger  *logging.Logger
	Metrics MetricsCollector
}

func (o Options) withDefaults() Options {
	if len(o.Resources) == 0 {
		o.Resources = MenuResources()
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = DefaultProbeInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.RecentLogCapacity <= 0 {
		o.RecentLogCapacity = DefaultRecentLogCapacity
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = DefaultEventBufferSize
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Metrics == nil {
		o.Metrics = &NoOpMetricsCollector{}
	}
	return o
}

// FileConfig is the YAML shape of an Options file.
type FileConfig struct {
	Resources         []string       `yaml:"resources"`
	BaseDelayMs       int            `yaml:"base_delay_ms"`
	MaxRetries        int            `yaml:"max_retries"`
	ProbeIntervalMs   int            `yaml:"probe_interval_ms"`
	ProbeTimeoutMs    int            `yaml:"probe_timeout_ms"`
	RecentLogCapacity int            `yaml:"recent_log_capacity"`
	EventBufferSize   int            `yaml:"event_buffer_size"`
	Filter            string         `yaml:"filter"`
	Logging           logging.Config `yaml:"logging"`
}

// LoadOptions reads an Options file in YAML format.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseOptions(data)
}

// ParseOptions parses YAML config bytes into Options.
func ParseOptions(data []byte) (Options, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Options{}, fmt.Errorf("parse config: %w", err)
	}

	if fc.BaseDelayMs < 0 || fc.MaxRetries < 0 || fc.ProbeIntervalMs < 0 {
		return Options{}, fmt.Errorf("parse config: negative durations or retries")
	}

	opts := Options{
		Resources:         fc.Resources,
		BaseDelay:         time.Duration(fc.BaseDelayMs) * time.Millisecond,
		MaxRetries:        fc.MaxRetries,
		ProbeInterval:     time.Duration(fc.ProbeIntervalMs) * time.Millisecond,
		ProbeTimeout:      time.Duration(fc.ProbeTimeoutMs) * time.Millisecond,
		RecentLogCapacity: fc.RecentLogCapacity,
		EventBufferSize:   fc.EventBufferSize,
		Filter:            fc.Filter,
	}

	if fc.Logging != (logging.Config{}) {
		opts.Logger = logging.NewLogger(fc.Logging)
	}

	return opts, nil
}
