package notification

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// DefaultHistoryBytes bounds the encoded notifications kept for replay.
const DefaultHistoryBytes = 64 << 10

// History keeps the most recently shown notifications as newline
// delimited JSON in a fixed-size ring. The oldest records are evicted
// to make room.
type History struct {
	mu   sync.Mutex
	size int
	buf  *ringbuffer.RingBuffer
}

// NewHistory creates a History holding at most size encoded bytes.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistoryBytes
	}
	return &History{size: size, buf: ringbuffer.New(size)}
}

// Record appends n. A notification larger than the whole ring is skipped.
func (h *History) Record(n *Notification) error {
	line, err := json.Marshal(n)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if len(line) > h.size {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buf.Free() < len(line) {
		data := h.drain()
		for len(data)+len(line) > h.size {
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
		}
		if len(data) > 0 {
			if _, err := h.buf.Write(data); err != nil {
				return err
			}
		}
	}
	_, err = h.buf.Write(line)
	return err
}

// Recent returns the retained notifications, oldest first.
func (h *History) Recent() []*Notification {
	h.mu.Lock()
	data := h.drain()
	if len(data) > 0 {
		_, _ = h.buf.Write(data)
	}
	h.mu.Unlock()

	var out []*Notification
	for line := range bytes.SplitSeq(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var n Notification
		if json.Unmarshal(line, &n) == nil {
			out = append(out, &n)
		}
	}
	return out
}

// Len is the number of encoded bytes held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Length()
}

// drain empties the ring and returns its contents. Callers hold mu.
func (h *History) drain() []byte {
	n := h.buf.Length()
	if n == 0 {
		return nil
	}
	data := make([]byte, n)
	read, _ := h.buf.Read(data)
	h.buf.Reset()
	return data[:read]
}
