package bot

import (
	"testing"
	"time"
)

func TestDeduplicator_FirstSightNotDuplicate(t *testing.T) {
	d := NewEventDeduplicator(time.Minute, 100)
	defer d.Stop()

	if d.Seen("ev-1") {
		t.Error("first sight should not be a duplicate")
	}
	if !d.Seen("ev-1") {
		t.Error("second sight within TTL should be a duplicate")
	}
}

func TestDeduplicator_EmptyIDNeverBlocks(t *testing.T) {
	d := NewEventDeduplicator(time.Minute, 100)
	defer d.Stop()

	for i := 0; i < 3; i++ {
		if d.Seen("") {
			t.Fatal("empty event id must never be treated as a duplicate")
		}
	}
}

func TestDeduplicator_DistinctIDsIndependent(t *testing.T) {
	d := NewEventDeduplicator(time.Minute, 100)
	defer d.Stop()

	d.Seen("ev-a")
	if d.Seen("ev-b") {
		t.Error("distinct event id should not be a duplicate")
	}
}
