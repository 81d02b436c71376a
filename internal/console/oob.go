package console

import (
	"errors"

	"github.com/smallnest/ringbuffer"

	ncerr "ptyd/internal/errors"
)

// DefaultOOBCapacity is the number of keystrokes a session can buffer
// between two loop iterations.
const DefaultOOBCapacity = 256

// OOBQueue is a fixed-capacity FIFO of out-of-band keystrokes.  The
// dispatcher pushes, the session loop drains.  Push never blocks.
type OOBQueue struct {
	rb   *ringbuffer.RingBuffer
	wake chan struct{}
}

// NewOOBQueue returns an empty queue holding up to capacity bytes.
func NewOOBQueue(capacity int) *OOBQueue {
	if capacity <= 0 {
		capacity = DefaultOOBCapacity
	}
	return &OOBQueue{
		rb:   ringbuffer.New(capacity),
		wake: make(chan struct{}, 1),
	}
}

// Push appends c.  A full queue rejects the byte with errors.ErrQueueFull
// and leaves the queued bytes untouched.
func (q *OOBQueue) Push(c byte) error {
	if err := q.rb.WriteByte(c); err != nil {
		if errors.Is(err, ringbuffer.ErrIsFull) {
			return ncerr.ErrQueueFull
		}
		return err
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// DrainAll removes and returns every queued byte in arrival order, or nil
// when the queue is empty.
func (q *OOBQueue) DrainAll() []byte {
	var out []byte
	for {
		c, err := q.rb.ReadByte()
		if err != nil {
			// ErrIsEmpty ends the drain; the ring has no other failure
			// mode in non-blocking use.
			return out
		}
		out = append(out, c)
	}
}

// Len returns the number of queued bytes.
func (q *OOBQueue) Len() int { return q.rb.Length() }

// Cap returns the queue capacity.
func (q *OOBQueue) Cap() int { return q.rb.Capacity() }

// Wake is signalled after every successful Push.  Multiple pushes
// between two receives collapse into one signal.
func (q *OOBQueue) Wake() <-chan struct{} { return q.wake }
