package log

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// Capture appends protocol events to a CBOR trace file. Writes go through
// a buffer; Flush or Close pushes the tail to disk. Capture never fails
// its caller: an event that cannot be encoded or written is counted in
// Dropped and lost, since tracing must not disturb the engine loop.
type Capture struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	encoder *cbor.Encoder
	closed  bool

	dropped atomic.Uint64
}

// NewCapture opens the trace file at path, creating it when absent and
// appending to it otherwise.
func NewCapture(path string) (*Capture, error) {
	mode, err := encMode()
	if err != nil {
		return nil, fmt.Errorf("event capture: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("event capture: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &Capture{
		file:    f,
		buf:     buf,
		encoder: mode.NewEncoder(buf),
	}, nil
}

// Log appends one event to the trace. Events logged after Close are
// dropped.
func (c *Capture) Log(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	if err := c.encoder.Encode(event); err != nil {
		c.dropped.Add(1)
	}
}

// Dropped reports how many events were lost to encode failures or
// post-Close logging.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// Flush forces buffered events to disk without closing the capture.
func (c *Capture) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.buf.Flush()
}

// Close flushes the buffer and closes the trace file. It is safe to call
// more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	flushErr := c.buf.Flush()
	closeErr := c.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Compile-time interface satisfaction check.
var _ Logger = (*Capture)(nil)
