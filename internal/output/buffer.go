package output

// DefaultBufferSize is the number of lines a workflow screen retains.
const DefaultBufferSize = 1000

// Buffer is a bounded FIFO of display lines. When full, the oldest line is
// evicted. A zero capacity means DefaultBufferSize; a negative capacity
// means unbounded.
type Buffer struct {
	lines    []string
	capacity int
}

func NewBuffer(capacity int) *Buffer {
	if capacity == 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{capacity: capacity}
}

func (b *Buffer) Append(line string) {
	b.lines = append(b.lines, line)
	if b.capacity > 0 && len(b.lines) > b.capacity {
		overflow := len(b.lines) - b.capacity
		b.lines = append(b.lines[:0], b.lines[overflow:]...)
	}
}

func (b *Buffer) Len() int {
	return len(b.lines)
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

// Clone returns an independent copy. Later appends to either buffer are not
// visible in the other.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{lines: b.Lines(), capacity: b.capacity}
}
