package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Strategy is the interface for one conflict-resolution approach.
type Strategy interface {
	Resolve(ctx context.Context, c Context) (Decision, error)
}

// Matcher decides whether a rule applies to a conflict.
type Matcher func(c Context) bool

// Rule binds a Matcher to a Strategy. Rules are evaluated in insertion order
// with first-match-wins semantics.
type Rule struct {
	Name     string
	Matcher  Matcher
	Strategy Strategy
}

// Hooks provides optional callbacks for observability around resolution.
// All hooks are optional; nil functions are safe no-ops.
type Hooks struct {
	OnRuleMatched func(c Context, rule Rule)
	OnResolved    func(c Context, decision Decision)
	OnFallback    func(c Context)
	OnError       func(c Context, err error)
}

type resolverOptions struct {
	rules    []Rule
	fallback Strategy
	logger   *slog.Logger
	hooks    Hooks
}

// Option implements the functional options pattern for construction.
type Option interface{ apply(*resolverOptions) }

type optionFn func(*resolverOptions)

func (f optionFn) apply(o *resolverOptions) { f(o) }

// WithRule appends a rule in insertion order.
func WithRule(name string, matcher Matcher, strategy Strategy) Option {
	return optionFn(func(o *resolverOptions) {
		o.rules = append(o.rules, Rule{Name: name, Matcher: matcher, Strategy: strategy})
	})
}

// WithFallback sets the strategy used when no rule matches.
func WithFallback(s Strategy) Option {
	return optionFn(func(o *resolverOptions) { o.fallback = s })
}

// WithLogger attaches an optional logger.
func WithLogger(l *slog.Logger) Option {
	return optionFn(func(o *resolverOptions) { o.logger = l })
}

// WithHooks sets optional observability hooks. Zero-value safe.
func WithHooks(h Hooks) Option {
	return optionFn(func(o *resolverOptions) { o.hooks = h })
}

// Resolver dispatches conflicts to strategies based on an ordered rule set.
// If no rule matches, it uses the fallback strategy.
type Resolver struct {
	rules    []Rule
	fallback Strategy
	logger   *slog.Logger
	hooks    Hooks
}

// NewResolver constructs a Resolver with validation.
// Invariants:
//   - At least one rule OR a non-nil fallback must be provided
//   - No rule may have a nil matcher or strategy
func NewResolver(opts ...Option) (*Resolver, error) {
	cfg := &resolverOptions{}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	if len(cfg.rules) == 0 && cfg.fallback == nil {
		return nil, errors.New("resolver requires at least one rule or a non-nil fallback")
	}
	for i, r := range cfg.rules {
		if r.Matcher == nil {
			return nil, fmt.Errorf("rule %q has nil matcher at index %d", r.Name, i)
		}
		if r.Strategy == nil {
			return nil, fmt.Errorf("rule %q has nil strategy at index %d", r.Name, i)
		}
	}

	return &Resolver{
		rules:    cfg.rules,
		fallback: cfg.fallback,
		logger:   cfg.logger,
		hooks:    cfg.hooks,
	}, nil
}

// NewDefaultResolver builds the standard rule chain:
//  1. simple field update        -> last writer wins (accept remote)
//  2. critical fields agree      -> merge
//  3. structural change          -> accept remote
//  4. fallback                   -> manual review
func NewDefaultResolver(opts ...Option) *Resolver {
	all := append([]Option{
		WithRule("simple-field-update", IsSimpleFieldUpdate, &LastWriterWinsStrategy{}),
		WithRule("critical-fields-agree", CriticalFieldsAgree, &FieldMergeStrategy{}),
		WithRule("structural-change", IsStructural, &StructuralRemoteStrategy{}),
		WithFallback(&ManualReviewStrategy{}),
	}, opts...)

	r, err := NewResolver(all...)
	if err != nil {
		// The built-in chain is statically valid; only misuse of extra
		// options can fail here.
		panic(err)
	}
	return r
}

// Resolve evaluates the ordered rules first-match-wins, else delegates to
// the fallback.
func (r *Resolver) Resolve(ctx context.Context, c Context) (Decision, error) {
	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	default:
	}

	for _, rule := range r.rules {
		if !rule.Matcher(c) {
			continue
		}
		if r.hooks.OnRuleMatched != nil {
			r.hooks.OnRuleMatched(c, rule)
		}
		decision, err := rule.Strategy.Resolve(ctx, c)
		if err != nil {
			if r.hooks.OnError != nil {
				r.hooks.OnError(c, err)
			}
			return Decision{}, err
		}
		if r.logger != nil {
			r.logger.Debug("conflict resolved by rule",
				"rule", rule.Name, "action", string(decision.Action), "resource", c.Change.Resource)
		}
		if r.hooks.OnResolved != nil {
			r.hooks.OnResolved(c, decision)
		}
		return decision, nil
	}

	if r.fallback == nil {
		err := errors.New("no rule matched and no fallback configured")
		if r.hooks.OnError != nil {
			r.hooks.OnError(c, err)
		}
		return Decision{}, err
	}

	if r.hooks.OnFallback != nil {
		r.hooks.OnFallback(c)
	}
	decision, err := r.fallback.Resolve(ctx, c)
	if err != nil {
		if r.hooks.OnError != nil {
			r.hooks.OnError(c, err)
		}
		return Decision{}, err
	}
	if r.hooks.OnResolved != nil {
		r.hooks.OnResolved(c, decision)
	}
	return decision, nil
}
