package menusync

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roastline/menusync/feed"
)

func testEvent(i int) ChangeEvent {
	return ChangeEvent{
		ID:        fmt.Sprintf("ev-%d", i),
		Resource:  ResourceMenuItems,
		Kind:      feed.KindUpdate,
		After:     map[string]interface{}{"id": fmt.Sprintf("item-%d", i)},
		Timestamp: time.Now(),
	}
}

func TestRecentLog_EvictsOldestOnOverflow(t *testing.T) {
	log := NewRecentLog(3)

	for i := 0; i < 5; i++ {
		log.Append(testEvent(i))
	}

	items := log.Items()
	assert.Len(t, items, 3)
	assert.Equal(t, "ev-2", items[0].ID)
	assert.Equal(t, "ev-4", items[2].ID)
}

func TestRecentLog_ClearIsIdempotent(t *testing.T) {
	log := NewRecentLog(10)
	for i := 0; i < 4; i++ {
		log.Append(testEvent(i))
	}

	log.Clear()
	assert.Equal(t, 0, log.Len())

	log.Clear()
	assert.Equal(t, 0, log.Len())
	assert.Empty(t, log.Items())
}

func TestRecentLog_ItemsReturnsCopy(t *testing.T) {
	log := NewRecentLog(10)
	log.Append(testEvent(1))

	items := log.Items()
	items[0].ID = "mutated"

	assert.Equal(t, "ev-1", log.Items()[0].ID)
}

func TestRecentLog_AllIsRestartable(t *testing.T) {
	log := NewRecentLog(10)
	for i := 0; i < 3; i++ {
		log.Append(testEvent(i))
	}

	seq := log.All()

	var first []string
	for ev := range seq {
		first = append(first, ev.ID)
	}

	// A second range over the same sequence re-snapshots.
	log.Append(testEvent(3))
	var second []string
	for ev := range seq {
		second = append(second, ev.ID)
	}

	assert.Len(t, first, 3)
	assert.Len(t, second, 4)
}

func TestRecentLog_AllEarlyBreak(t *testing.T) {
	log := NewRecentLog(10)
	for i := 0; i < 5; i++ {
		log.Append(testEvent(i))
	}

	count := 0
	for range log.All() {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestRecentLog_DefaultCapacity(t *testing.T) {
	log := NewRecentLog(0)
	for i := 0; i < DefaultRecentLogCapacity+10; i++ {
		log.Append(testEvent(i))
	}
	assert.Equal(t, DefaultRecentLogCapacity, log.Len())
}
