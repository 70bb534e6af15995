package internal

import (
	"fmt"
	"testing"
)

func TestHistoryBufferKeepsInsertionOrder(t *testing.T) {
	buffer := NewHistoryBuffer(3)
	buffer.Append("a")
	buffer.Append("b")

	got := buffer.Snapshot()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected snapshot: %v", got)
	}
}

func TestHistoryBufferDropsOldest(t *testing.T) {
	const size = 5
	buffer := NewHistoryBuffer(size)
	for i := 0; i < 12; i++ {
		buffer.Append(fmt.Sprintf("m%d", i))
		if buffer.Len() > size {
			t.Fatalf("length %d exceeds capacity %d", buffer.Len(), size)
		}
	}
	got := buffer.Snapshot()
	want := []string{"m7", "m8", "m9", "m10", "m11"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %q, want %q (snapshot %v)", i, got[i], want[i], got)
		}
	}
}

func TestHistoryBufferSnapshotIsACopy(t *testing.T) {
	buffer := NewHistoryBuffer(2)
	buffer.Append("a")
	snapshot := buffer.Snapshot()
	snapshot[0] = "mutated"
	buffer.Append("b")
	if got := buffer.Snapshot(); got[0] != "a" {
		t.Fatalf("snapshot aliases the buffer: %v", got)
	}
}

func TestHistoryBufferEmptySnapshotIsNonNil(t *testing.T) {
	if got := NewHistoryBuffer(4).Snapshot(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil snapshot, got %#v", got)
	}
}

func TestHistoryBufferDefaultSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		if got := NewHistoryBuffer(size).Cap(); got != DefaultHistorySize {
			t.Fatalf("NewHistoryBuffer(%d).Cap() = %d, want %d", size, got, DefaultHistorySize)
		}
	}
}

func TestHistoryBufferSizeOne(t *testing.T) {
	buffer := NewHistoryBuffer(1)
	buffer.Append("a")
	buffer.Append("b")
	if got := buffer.Snapshot(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected snapshot: %v", got)
	}
}
