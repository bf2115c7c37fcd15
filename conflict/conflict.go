// Package conflict decides whether a locally cached menu record and an
// incoming remote change represent divergent edits inside a recency window,
// and classifies detected conflicts into resolution decisions.
package conflict

import (
	"time"

	"github.com/roastline/menusync/feed"
)

// Window is the recency window inside which near-simultaneous edits to the
// same record are treated as a potential conflict.
const Window = 30 * time.Second

// Snapshot is the locally cached view of one record, as held by a client
// that still has the record open for editing.
type Snapshot struct {
	Resource  string
	ID        string
	Data      map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LastModified returns UpdatedAt, falling back to CreatedAt when the record
// was never updated.
func (s *Snapshot) LastModified() time.Time {
	if !s.UpdatedAt.IsZero() {
		return s.UpdatedAt
	}
	return s.CreatedAt
}

// Context carries everything needed for one resolution decision. It is
// ephemeral: constructed when a conflict is detected, discarded after the
// decision.
type Context struct {
	Local      *Snapshot
	Remote     map[string]interface{}
	Change     feed.Change
	DetectedAt time.Time
}

// NewContext builds a resolution context from a cached snapshot and an
// incoming change.
func NewContext(local *Snapshot, change feed.Change) Context {
	return Context{
		Local:      local,
		Remote:     change.Record(),
		Change:     change,
		DetectedAt: time.Now(),
	}
}

// Action is the outcome class of a resolution decision.
type Action string

const (
	ActionAcceptRemote Action = "accept_remote"
	ActionKeepLocal    Action = "keep_local"
	ActionMerge        Action = "merge"
	ActionManual       Action = "manual"
)

// Decision is the outcome of resolving one conflict. MergedData is present
// only for merge and accept_remote decisions.
type Decision struct {
	Action     Action
	MergedData map[string]interface{}
	Reason     string
}

// Detect reports whether an incoming change conflicts with a locally cached
// record. A missing local snapshot can never conflict: pure creation is not
// a conflict. Otherwise a conflict is declared iff the local record's last
// modification and the change's timestamp lie within Window of each other.
func Detect(local *Snapshot, change feed.Change) bool {
	if local == nil {
		return false
	}

	delta := local.LastModified().Sub(change.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta < Window
}
