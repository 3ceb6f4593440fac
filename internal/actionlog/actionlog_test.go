package actionlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordAssignsDistinctIDs(t *testing.T) {
	l := New(10)
	id1 := l.Record(KindClick, "abc123", "corr-1", "x=10 y=20")
	id2 := l.Record(KindType, "abc123", "", "5 chars")
	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)

	entries := l.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, KindClick, entries[0].Kind)
	assert.Equal(t, "corr-1", entries[0].CorrelationID)
	assert.Equal(t, KindType, entries[1].Kind)
}

func TestCapacityDropsOldestFirst(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Record(KindClick, "s", "", fmt.Sprintf("n=%d", i))
	}
	entries := l.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, "n=2", entries[0].Detail)
	assert.Equal(t, "n=4", entries[2].Detail)
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := New(10)
	l.Record(KindStart, "s", "", "")
	entries := l.Entries()
	entries[0].Detail = "mutated"
	assert.Equal(t, "", l.Entries()[0].Detail)
}
