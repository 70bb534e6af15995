package internal

// DefaultHistorySize is how many serialized messages a room keeps when no size is configured.
const DefaultHistorySize = 500

// HistoryBuffer is a fixed-capacity ring of serialized messages, oldest first.
// It has no lock of its own; the owning Room serializes access.
type HistoryBuffer struct {
	entries []string
	start   int
	count   int
}

// NewHistoryBuffer returns an empty buffer holding at most size entries.
// A size of zero or less falls back to DefaultHistorySize.
func NewHistoryBuffer(size int) *HistoryBuffer {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &HistoryBuffer{entries: make([]string, size)}
}

// Append adds entry at the tail, overwriting the oldest entry once full.
func (buffer *HistoryBuffer) Append(entry string) {
	capacity := len(buffer.entries)
	if buffer.count < capacity {
		buffer.entries[(buffer.start+buffer.count)%capacity] = entry
		buffer.count++
		return
	}
	buffer.entries[buffer.start] = entry
	buffer.start = (buffer.start + 1) % capacity
}

// Snapshot copies the entries in insertion order.
func (buffer *HistoryBuffer) Snapshot() []string {
	out := make([]string, buffer.count)
	capacity := len(buffer.entries)
	for i := 0; i < buffer.count; i++ {
		out[i] = buffer.entries[(buffer.start+i)%capacity]
	}
	return out
}

// Len returns the number of stored entries.
func (buffer *HistoryBuffer) Len() int {
	return buffer.count
}

// Cap returns the configured capacity.
func (buffer *HistoryBuffer) Cap() int {
	return len(buffer.entries)
}
