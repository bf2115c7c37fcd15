// Package menusync keeps concurrently-connected admin clients consistent
// with a shared menu dataset over a push-based change feed. It coordinates
// per-resource subscriptions, reconnection with exponential backoff, a
// latency-derived connection quality tier, and conflict flagging for
// near-simultaneous edits.
package menusync

import (
	"time"

	"github.com/google/uuid"

	"github.com/roastline/menusync/feed"
)

// The five logical resources forming the menu schema.
const (
	ResourceMenuCategories   = "menu_categories"
	ResourceMenuItems        = "menu_items"
	ResourceOptionCategories = "option_categories"
	ResourceOptionValues     = "option_values"
	ResourceItemOptionLinks  = "item_option_links"
)

// MenuResources returns the watched resource names in schema order.
func MenuResources() []string {
	return []string{
		ResourceMenuCategories,
		ResourceMenuItems,
		ResourceOptionCategories,
		ResourceOptionValues,
		ResourceItemOptionLinks,
	}
}

// ChangeEvent is one classified change-feed notification as retained in the
// recent-changes log. Kind determines which payload sides are populated:
// inserts carry After, deletes carry Before, updates carry both.
type ChangeEvent struct {
	ID        string
	Resource  string
	Kind      feed.EventKind
	Before    map[string]interface{}
	After     map[string]interface{}
	Timestamp time.Time
}

// NewChangeEvent classifies a raw feed change into a log entry.
func NewChangeEvent(change feed.Change) ChangeEvent {
	ts := change.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ChangeEvent{
		ID:        uuid.NewString(),
		Resource:  change.Resource,
		Kind:      change.Kind,
		Before:    change.Before,
		After:     change.After,
		Timestamp: ts,
	}
}

// RecordID returns the id of the affected row, or "" if the payload
// carries none.
func (e ChangeEvent) RecordID() string {
	rec := e.After
	if e.Kind == feed.KindDelete {
		rec = e.Before
	}
	if rec == nil {
		return ""
	}
	if id, ok := rec["id"].(string); ok {
		return id
	}
	return ""
}
