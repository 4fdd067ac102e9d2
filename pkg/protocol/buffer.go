package protocol

// buffer accumulates stream bytes. Consumed bytes are skipped with a cursor and
// only compacted when an append would otherwise have to grow the backing array.
type buffer struct {
	data []byte
	off  int
}

func (b *buffer) write(p []byte) {
	if b.off > 0 && len(b.data)+len(p) > cap(b.data) {
		n := copy(b.data, b.data[b.off:])
		b.data = b.data[:n]
		b.off = 0
	}
	b.data = append(b.data, p...)
}

// bytes returns the unconsumed bytes. The slice is valid until the next write.
func (b *buffer) bytes() []byte {
	return b.data[b.off:]
}

func (b *buffer) len() int {
	return len(b.data) - b.off
}

func (b *buffer) discard(n int) {
	b.off += n
	if b.off >= len(b.data) {
		b.data = b.data[:0]
		b.off = 0
	}
}
