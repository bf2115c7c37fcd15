package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roastline/menusync/feed"
)

// mockStrategy is a simple test double implementing Strategy.
type mockStrategy struct {
	decision Decision
	err      error
	calls    int
}

func (m *mockStrategy) Resolve(ctx context.Context, c Context) (Decision, error) {
	m.calls++
	if m.err != nil {
		return Decision{}, m.err
	}
	return m.decision, nil
}

func updateContext(resource string) Context {
	return Context{
		Local: &Snapshot{
			Resource:  resource,
			ID:        "item-1",
			Data:      map[string]interface{}{"id": "item-1", "name": "Latte", "price": 450.0},
			UpdatedAt: time.Now(),
		},
		Remote: map[string]interface{}{"id": "item-1", "name": "Latte", "price": 475.0},
		Change: feed.Change{
			Resource:  resource,
			Kind:      feed.KindUpdate,
			Before:    map[string]interface{}{"id": "item-1", "price": 450.0},
			After:     map[string]interface{}{"id": "item-1", "name": "Latte", "price": 475.0},
			Timestamp: time.Now(),
		},
		DetectedAt: time.Now(),
	}
}

func TestResolver_FirstMatchWins(t *testing.T) {
	skipped := &mockStrategy{decision: Decision{Action: ActionKeepLocal}}
	matched := &mockStrategy{decision: Decision{Action: ActionMerge, MergedData: map[string]interface{}{"id": "x"}}}
	fallback := &mockStrategy{decision: Decision{Action: ActionManual}}

	r, err := NewResolver(
		WithRule("never", func(c Context) bool { return false }, skipped),
		WithRule("always", func(c Context) bool { return true }, matched),
		WithFallback(fallback),
	)
	require.NoError(t, err)

	decision, err := r.Resolve(context.Background(), Context{})
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, decision.Action)
	assert.Equal(t, 0, skipped.calls)
	assert.Equal(t, 1, matched.calls)
	assert.Equal(t, 0, fallback.calls)
}

func TestResolver_Fallback(t *testing.T) {
	fallback := &mockStrategy{decision: Decision{Action: ActionManual}}
	r, err := NewResolver(
		WithRule("never", func(c Context) bool { return false }, &mockStrategy{}),
		WithFallback(fallback),
	)
	require.NoError(t, err)

	decision, err := r.Resolve(context.Background(), Context{})
	require.NoError(t, err)
	assert.Equal(t, ActionManual, decision.Action)
	assert.Equal(t, 1, fallback.calls)
}

func TestResolver_ConstructionValidation(t *testing.T) {
	_, err := NewResolver()
	assert.Error(t, err)

	_, err = NewResolver(WithRule("bad-matcher", nil, &mockStrategy{}), WithFallback(&mockStrategy{}))
	assert.Error(t, err)

	_, err = NewResolver(WithRule("bad-strategy", func(c Context) bool { return true }, nil), WithFallback(&mockStrategy{}))
	assert.Error(t, err)
}

func TestResolver_Hooks(t *testing.T) {
	var matchedRule string
	var resolved, fellBack bool

	r := NewDefaultResolver(WithHooks(Hooks{
		OnRuleMatched: func(c Context, rule Rule) { matchedRule = rule.Name },
		OnResolved:    func(c Context, d Decision) { resolved = true },
		OnFallback:    func(c Context) { fellBack = true },
	}))

	_, err := r.Resolve(context.Background(), updateContext("menu_items"))
	require.NoError(t, err)
	assert.Equal(t, "simple-field-update", matchedRule)
	assert.True(t, resolved)
	assert.False(t, fellBack)
}

// Every update-kind change currently classifies as a simple field update, so
// last-writer-wins always fires for updates. The merge and structural rules
// are unreachable for update events; this test pins that behavior down.
func TestDefaultResolver_UpdateAlwaysAcceptsRemote(t *testing.T) {
	r := NewDefaultResolver()

	contexts := []Context{
		updateContext("menu_items"),
		updateContext("menu_categories"),
		updateContext("item_option_links"),
	}

	for _, c := range contexts {
		decision, err := r.Resolve(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, ActionAcceptRemote, decision.Action)
		assert.Equal(t, "last writer wins for simple field updates", decision.Reason)
		assert.NotNil(t, decision.MergedData)
	}
}

func TestDefaultResolver_MergeWhenCriticalFieldsAgree(t *testing.T) {
	c := updateContext("menu_items")
	c.Change.Kind = feed.KindInsert // dodge rule 1 so rule 2 is reachable

	r := NewDefaultResolver()
	decision, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, decision.Action)
	assert.Equal(t, 475.0, decision.MergedData["price"], "remote preferred for plain fields")
	assert.Equal(t, "item-1", decision.MergedData["id"])
}

func TestDefaultResolver_StructuralChangeAcceptsRemote(t *testing.T) {
	c := Context{
		Local: &Snapshot{
			Resource: "item_option_links",
			ID:       "link-1",
			Data:     map[string]interface{}{"id": "link-1", "item_id": "a", "option_category_id": "b"},
		},
		Remote: map[string]interface{}{"id": "link-1", "item_id": "a", "option_category_id": "c"},
		Change: feed.Change{
			Resource: "item_option_links",
			Kind:     feed.KindDelete,
			Before:   map[string]interface{}{"id": "link-1", "item_id": "a", "option_category_id": "c"},
		},
	}

	r := NewDefaultResolver()
	decision, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, ActionAcceptRemote, decision.Action)
	assert.Equal(t, "remote takes priority for structural changes", decision.Reason)
}

func TestDefaultResolver_FallbackToManual(t *testing.T) {
	c := Context{
		Local: &Snapshot{
			Resource: "menu_items",
			ID:       "item-1",
			Data:     map[string]interface{}{"id": "item-1", "display_order": 1.0},
		},
		Remote: map[string]interface{}{"id": "item-1", "display_order": 2.0},
		Change: feed.Change{
			Resource: "menu_items",
			Kind:     feed.KindDelete,
			Before:   map[string]interface{}{"id": "item-1", "display_order": 2.0},
		},
	}

	r := NewDefaultResolver()
	decision, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, ActionManual, decision.Action)
	assert.Equal(t, "complex conflict requires manual resolution", decision.Reason)
	assert.Nil(t, decision.MergedData)
}

func TestResolver_ContextCanceled(t *testing.T) {
	r := NewDefaultResolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, updateContext("menu_items"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFieldMergeStrategy_TimestampFieldsPreferNewer(t *testing.T) {
	older := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC).Format(time.RFC3339)
	newer := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC).Format(time.RFC3339)

	c := Context{
		Local: &Snapshot{
			Resource: "menu_items",
			ID:       "item-1",
			Data:     map[string]interface{}{"id": "item-1", "touched_at": newer, "note": "local"},
		},
		Remote: map[string]interface{}{"id": "item-1", "touched_at": older, "note": "remote"},
	}

	s := &FieldMergeStrategy{}
	decision, err := s.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, newer, decision.MergedData["touched_at"], "newer local timestamp wins")
	assert.Equal(t, "remote", decision.MergedData["note"], "remote wins for plain fields")
}

func TestFieldMergeStrategy_SkipsNullRemoteFields(t *testing.T) {
	c := Context{
		Local: &Snapshot{
			Resource: "menu_items",
			ID:       "item-1",
			Data:     map[string]interface{}{"id": "item-1", "description": "tasty"},
		},
		Remote: map[string]interface{}{"id": "item-1", "description": nil},
	}

	s := &FieldMergeStrategy{}
	decision, err := s.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "tasty", decision.MergedData["description"])
}

func TestCriticalFieldsAgree(t *testing.T) {
	agree := Context{
		Local:  &Snapshot{Data: map[string]interface{}{"id": "a", "display_order": 1.0, "category_id": "c"}},
		Remote: map[string]interface{}{"id": "a", "display_order": 1.0, "category_id": "c"},
	}
	assert.True(t, CriticalFieldsAgree(agree))

	disagree := Context{
		Local:  &Snapshot{Data: map[string]interface{}{"id": "a", "display_order": 1.0}},
		Remote: map[string]interface{}{"id": "a", "display_order": 2.0},
	}
	assert.False(t, CriticalFieldsAgree(disagree))

	missing := Context{
		Local:  &Snapshot{Data: map[string]interface{}{"id": "a", "category_id": "c"}},
		Remote: map[string]interface{}{"id": "a"},
	}
	assert.False(t, CriticalFieldsAgree(missing))

	assert.False(t, CriticalFieldsAgree(Context{Remote: map[string]interface{}{"id": "a"}}))
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(Context{Change: feed.Change{Resource: "menu_categories"}}))
	assert.True(t, IsStructural(Context{Change: feed.Change{Resource: "item_option_links"}}))

	reorder := Context{Change: feed.Change{
		Resource: "menu_items",
		Before:   map[string]interface{}{"id": "a", "display_order": 1.0},
		After:    map[string]interface{}{"id": "a", "display_order": 5.0},
	}}
	assert.True(t, IsStructural(reorder))

	rename := Context{Change: feed.Change{
		Resource: "menu_items",
		Before:   map[string]interface{}{"id": "a", "name": "Latte", "display_order": 1.0},
		After:    map[string]interface{}{"id": "a", "name": "Flat White", "display_order": 1.0},
	}}
	assert.False(t, IsStructural(rename))
}
