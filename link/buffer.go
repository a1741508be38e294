package link

import "bytes"

// frameBuffer accumulates received bytes and hands out terminated frames.
type frameBuffer struct {
	data []byte
}

func (b *frameBuffer) write(p []byte) {
	b.data = append(b.data, p...)
}

// next returns the bytes before the first term and drops them, along with
// the terminator, from the buffer.
func (b *frameBuffer) next(term byte) ([]byte, bool) {
	i := bytes.IndexByte(b.data, term)
	if i < 0 {
		return nil, false
	}
	frame := make([]byte, i)
	copy(frame, b.data[:i])
	b.data = b.data[i+1:]
	return frame, true
}

// take returns and clears everything buffered.
func (b *frameBuffer) take() []byte {
	p := b.data
	b.data = nil
	return p
}

func (b *frameBuffer) reset() { b.data = nil }
