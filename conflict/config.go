package conflict

import (
	"fmt"
	"log/slog"
	"os"
	stdSync "sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RuleConfig is the YAML shape of a resolver rule chain.
type RuleConfig struct {
	Version  string      `yaml:"version"`
	Rules    []RuleEntry `yaml:"rules"`
	Fallback string      `yaml:"fallback"`
}

// RuleEntry configures one rule. Match and Strategy name built-in matchers
// and strategies; disabled rules are skipped.
type RuleEntry struct {
	Name     string `yaml:"name"`
	Match    string `yaml:"match"`
	Strategy string `yaml:"strategy"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
}

var builtinMatchers = map[string]Matcher{
	"simple_field_update":   IsSimpleFieldUpdate,
	"critical_fields_agree": CriticalFieldsAgree,
	"structural_change":     IsStructural,
}

func builtinStrategy(name string) (Strategy, bool) {
	switch name {
	case "last_writer_wins":
		return &LastWriterWinsStrategy{}, true
	case "merge":
		return &FieldMergeStrategy{}, true
	case "structural_remote":
		return &StructuralRemoteStrategy{}, true
	case "manual":
		return &ManualReviewStrategy{}, true
	default:
		return nil, false
	}
}

// LoadRuleConfig reads a rule configuration file in YAML format.
func LoadRuleConfig(path string) (RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleConfig{}, fmt.Errorf("read rule config %s: %w", path, err)
	}
	return ParseRuleConfig(data)
}

// ParseRuleConfig parses YAML rule configuration bytes.
func ParseRuleConfig(data []byte) (RuleConfig, error) {
	var cfg RuleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RuleConfig{}, fmt.Errorf("parse rule config: %w", err)
	}
	return cfg, nil
}

// BuildResolver constructs a Resolver from a rule configuration. Unknown
// matcher or strategy names are construction errors, not runtime surprises.
func BuildResolver(cfg RuleConfig, opts ...Option) (*Resolver, error) {
	var all []Option
	for _, entry := range cfg.Rules {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		matcher, ok := builtinMatchers[entry.Match]
		if !ok {
			return nil, fmt.Errorf("rule %q: unknown matcher %q", entry.Name, entry.Match)
		}
		strategy, ok := builtinStrategy(entry.Strategy)
		if !ok {
			return nil, fmt.Errorf("rule %q: unknown strategy %q", entry.Name, entry.Strategy)
		}
		all = append(all, WithRule(entry.Name, matcher, strategy))
	}

	if cfg.Fallback != "" {
		fallback, ok := builtinStrategy(cfg.Fallback)
		if !ok {
			return nil, fmt.Errorf("unknown fallback strategy %q", cfg.Fallback)
		}
		all = append(all, WithFallback(fallback))
	}

	all = append(all, opts...)
	return NewResolver(all...)
}

// ConfigWatcher reloads the resolver rule chain when the config file
// changes on disk.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	onReload func(*Resolver)
	onError  func(error)

	stopOnce stdSync.Once
	done     chan struct{}
}

// NewConfigWatcher watches path for changes. onReload receives each freshly
// built resolver; onError receives load or build failures (the previous
// resolver stays in effect).
func NewConfigWatcher(path string, logger *slog.Logger, onReload func(*Resolver), onError func(error)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	cw := &ConfigWatcher{
		path:     path,
		watcher:  watcher,
		logger:   logger,
		onReload: onReload,
		onError:  onError,
		done:     make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

func (cw *ConfigWatcher) loop() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.onError != nil {
				cw.onError(err)
			}
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadRuleConfig(cw.path)
	if err != nil {
		if cw.onError != nil {
			cw.onError(err)
		}
		return
	}
	resolver, err := BuildResolver(cfg)
	if err != nil {
		if cw.onError != nil {
			cw.onError(err)
		}
		return
	}
	if cw.logger != nil {
		cw.logger.Info("conflict rule config reloaded", "path", cw.path, "rules", len(cfg.Rules))
	}
	if cw.onReload != nil {
		cw.onReload(resolver)
	}
}

// Close stops watching. It is idempotent.
func (cw *ConfigWatcher) Close() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
	})
	return err
}
