package buffer

import "sync"

// RingBuffer is a thread-safe fixed-size buffer. Writes never block: once
// the buffer is full new elements overwrite the oldest ones.
//
// head and tail only grow; their difference is the number of buffered
// elements and their value modulo the capacity is the slot position.
type RingBuffer[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
}

// RingN creates a RingBuffer holding at most size elements. A size below
// one is treated as one.
func RingN[T any](size int) *RingBuffer[T] {
	return &RingBuffer[T]{buf: make([]T, max(size, 1))}
}

// Write appends p to the buffer, dropping the oldest elements when the
// buffer overflows. It always writes all of p.
func (rb *RingBuffer[T]) Write(p []T) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	bufsz := int64(len(rb.buf))
	avail := int(bufsz - (rb.tail - rb.head))
	tail := int(rb.tail % bufsz)

	var wn int
	if avail > 0 {
		if tail+avail <= len(rb.buf) {
			wn = copy(rb.buf[tail:tail+avail], p)
		} else {
			wn = copy(rb.buf[tail:], p)
			wn += copy(rb.buf[:avail-wn], p[wn:])
		}
		rb.tail += int64(wn)
	}

	leftn := len(p) - wn
	if leftn == 0 {
		return wn, nil
	}

	// The buffer is full. Only the last len(buf) elements of the remainder
	// survive: `c` is the part that lands on the current head, `b` the part
	// that precedes it when the remainder spans more than one lap.
	//
	//  [buffer]
	//   ......
	//   ....bb
	//   cccc
	var cbuf, bbuf []T
	if leftn <= len(rb.buf) {
		cbuf = p[len(p)-leftn:]
	} else {
		cn := leftn % len(rb.buf)
		cbuf = p[len(p)-cn:]
		bbuf = p[len(p)-len(rb.buf) : len(p)-cn]
	}

	head := int(rb.head % bufsz)
	if cp1 := copy(rb.buf[head:], cbuf); cp1 < len(cbuf) {
		cp2 := copy(rb.buf, cbuf[cp1:])
		copy(rb.buf[cp2:], bbuf)
	} else {
		bp1 := copy(rb.buf[head+cp1:], bbuf)
		copy(rb.buf, bbuf[bp1:])
	}

	rb.head += int64(len(cbuf))
	rb.tail += int64(len(cbuf))
	return len(p), nil
}

// Len returns the number of buffered elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.tail - rb.head)
}

// Bytes returns a copy of the buffered elements, oldest first.
func (rb *RingBuffer[T]) Bytes() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := int(rb.tail - rb.head)
	out := make([]T, n)
	h := int(rb.head % int64(len(rb.buf)))
	if h+n <= len(rb.buf) {
		copy(out, rb.buf[h:h+n])
		return out
	}
	c := copy(out, rb.buf[h:])
	copy(out[c:], rb.buf[:n-c])
	return out
}
