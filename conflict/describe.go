package conflict

import (
	"fmt"

	"github.com/roastline/menusync/feed"
)

// resourceNouns maps resource names to human-readable record kinds.
var resourceNouns = map[string]string{
	"menu_categories":   "menu category",
	"menu_items":        "menu item",
	"option_categories": "option category",
	"option_values":     "option value",
	"item_option_links": "item option link",
}

// Describe produces a one-sentence, presentation-only summary of a conflict:
// the record kind, its display name or id, and what another session did.
func Describe(c Context) string {
	noun, ok := resourceNouns[c.Change.Resource]
	if !ok {
		noun = "record"
	}

	name := displayName(c)

	var verb string
	switch c.Change.Kind {
	case feed.KindDelete:
		verb = "deleted"
	case feed.KindInsert:
		verb = "newly inserted"
	default:
		verb = "modified"
	}

	return fmt.Sprintf("The %s %q was %s by another session.", noun, name, verb)
}

func displayName(c Context) string {
	if c.Local != nil {
		if name, ok := c.Local.Data["name"].(string); ok && name != "" {
			return name
		}
	}
	if name, ok := c.Remote["name"].(string); ok && name != "" {
		return name
	}
	if c.Local != nil && c.Local.ID != "" {
		return c.Local.ID
	}
	if id := c.Change.RecordID(); id != "" {
		return id
	}
	return "unknown"
}
