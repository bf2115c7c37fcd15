package conflict

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roastline/menusync/feed"
)

const sampleRuleConfig = `
version: "1"
rules:
  - name: simple-field-update
    match: simple_field_update
    strategy: last_writer_wins
  - name: critical-fields-agree
    match: critical_fields_agree
    strategy: merge
  - name: structural-change
    match: structural_change
    strategy: structural_remote
fallback: manual
`

func TestParseRuleConfig(t *testing.T) {
	cfg, err := ParseRuleConfig([]byte(sampleRuleConfig))
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.Version)
	assert.Len(t, cfg.Rules, 3)
	assert.Equal(t, "manual", cfg.Fallback)
}

func TestParseRuleConfig_Invalid(t *testing.T) {
	_, err := ParseRuleConfig([]byte("rules: {not: [valid"))
	assert.Error(t, err)
}

func TestBuildResolver(t *testing.T) {
	cfg, err := ParseRuleConfig([]byte(sampleRuleConfig))
	require.NoError(t, err)

	r, err := BuildResolver(cfg)
	require.NoError(t, err)

	decision, err := r.Resolve(context.Background(), Context{
		Change: feed.Change{Resource: "menu_items", Kind: feed.KindUpdate},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionAcceptRemote, decision.Action)
}

func TestBuildResolver_DisabledRuleSkipped(t *testing.T) {
	disabled := false
	cfg := RuleConfig{
		Rules: []RuleEntry{
			{Name: "simple", Match: "simple_field_update", Strategy: "last_writer_wins", Enabled: &disabled},
		},
		Fallback: "manual",
	}

	r, err := BuildResolver(cfg)
	require.NoError(t, err)

	decision, err := r.Resolve(context.Background(), Context{
		Change: feed.Change{Resource: "menu_items", Kind: feed.KindUpdate},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionManual, decision.Action, "disabled rule must not fire")
}

func TestBuildResolver_UnknownNames(t *testing.T) {
	_, err := BuildResolver(RuleConfig{
		Rules:    []RuleEntry{{Name: "x", Match: "nonesuch", Strategy: "manual"}},
		Fallback: "manual",
	})
	assert.Error(t, err)

	_, err = BuildResolver(RuleConfig{
		Rules:    []RuleEntry{{Name: "x", Match: "structural_change", Strategy: "nonesuch"}},
		Fallback: "manual",
	})
	assert.Error(t, err)

	_, err = BuildResolver(RuleConfig{Fallback: "nonesuch"})
	assert.Error(t, err)
}

func TestLoadRuleConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRuleConfig), 0o644))

	cfg, err := LoadRuleConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 3)

	_, err = LoadRuleConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRuleConfig), 0o644))

	reloaded := make(chan *Resolver, 4)
	cw, err := NewConfigWatcher(path, nil,
		func(r *Resolver) { reloaded <- r },
		func(err error) { t.Logf("watch error: %v", err) },
	)
	require.NoError(t, err)
	defer cw.Close()

	require.NoError(t, os.WriteFile(path, []byte(sampleRuleConfig), 0o644))

	select {
	case r := <-reloaded:
		require.NotNil(t, r)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload after config write")
	}
}

func TestConfigWatcher_BadConfigKeepsGoing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRuleConfig), 0o644))

	errs := make(chan error, 4)
	cw, err := NewConfigWatcher(path, nil, nil, func(err error) { errs <- err })
	require.NoError(t, err)
	defer cw.Close()

	require.NoError(t, os.WriteFile(path, []byte("fallback: nonesuch\n"), 0o644))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("expected an error for invalid config")
	}

	assert.NoError(t, cw.Close())
}
