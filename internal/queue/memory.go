package queue

import "context"

// memoryBackend is a fixed-capacity ring of records.
type memoryBackend struct {
	buf   [][]byte
	start int
	used  int
}

func newMemoryBackend(capacity int) *memoryBackend {
	return &memoryBackend{buf: make([][]byte, capacity)}
}

func (m *memoryBackend) count(ctx context.Context) (int, error) {
	return m.used, nil
}

func (m *memoryBackend) push(ctx context.Context, record []byte) error {
	if m.used == len(m.buf) {
		// Full: overwrite the oldest slot.
		m.start = (m.start + 1) % len(m.buf)
		m.used--
	}
	idx := (m.start + m.used) % len(m.buf)
	m.buf[idx] = append([]byte(nil), record...)
	m.used++
	return nil
}

func (m *memoryBackend) head(ctx context.Context, n int) ([][]byte, error) {
	if n > m.used {
		n = m.used
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = append([]byte(nil), m.buf[(m.start+i)%len(m.buf)]...)
	}
	return out, nil
}

func (m *memoryBackend) drop(ctx context.Context, n int) error {
	if n > m.used {
		n = m.used
	}
	for i := 0; i < n; i++ {
		m.buf[(m.start+i)%len(m.buf)] = nil
	}
	m.start = (m.start + n) % len(m.buf)
	m.used -= n
	return nil
}

func (m *memoryBackend) close() error {
	return nil
}
