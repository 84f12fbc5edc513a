// Package source implements the pull-based streaming source: a
// non-blocking packet listener over a producer/consumer byte buffer, and
// the facade that drives demuxing in bounded batches while answering
// per-track format and dequeue queries.
package source

import (
	"io"
	"sync"

	"github.com/zsiec/tsfeed/media"
)

// PacketSize is the fixed transport packet size. Not configurable.
const PacketSize = 188

// DefaultHighWater is the listener's default buffered-byte limit before
// Write applies backpressure: 512 packets, roughly a quarter second of a
// 3 Mbit/s stream.
const DefaultHighWater = 512 * PacketSize

// PacketReader is the contract between the facade's pump and the byte
// source. ReadPacket fills buf with exactly one 188-byte packet and
// returns its length, or reports an out-of-band discontinuity, or fails:
// media.ErrWouldBlock when no data is ready yet (retry later), io.EOF
// when the source is exhausted, any other error for I/O failure.
// ReadPacket never blocks.
type PacketReader interface {
	ReadPacket(buf []byte) (int, *media.Discontinuity, error)
}

// item is one entry in the listener's ordered queue: a span of stream
// bytes or a discontinuity signal. Keeping signals in the same queue
// preserves their position relative to the surrounding bytes.
type item struct {
	data []byte
	disc *media.Discontinuity
}

// Listener buffers bytes written by a producer (an SRT receiver, a file
// copier) for consumption by the facade's pump. The producer side may run
// on its own goroutine and blocks only at the high-water mark; the
// consumer side never blocks. Single consumer.
type Listener struct {
	mu        sync.Mutex
	space     *sync.Cond // signals producers when buffered bytes drop
	items     []item
	buffered  int
	highWater int
	closed    bool
	err       error // terminal result once drained; nil reads as io.EOF
}

// NewListener creates a Listener with the default high-water mark.
func NewListener() *Listener {
	l := &Listener{highWater: DefaultHighWater}
	l.space = sync.NewCond(&l.mu)
	return l
}

// Write appends stream bytes for the consumer. It blocks while the
// buffer is at the high-water mark and returns io.ErrClosedPipe once the
// listener is closed. Implements io.Writer for producers.
func (l *Listener) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.buffered >= l.highWater && !l.closed {
		l.space.Wait()
	}
	if l.closed {
		return 0, io.ErrClosedPipe
	}

	// Coalesce into the preceding data span so packets can straddle
	// producer writes.
	if n := len(l.items); n > 0 && l.items[n-1].disc == nil {
		l.items[n-1].data = append(l.items[n-1].data, p...)
	} else {
		l.items = append(l.items, item{data: append([]byte(nil), p...)})
	}
	l.buffered += len(p)
	return len(p), nil
}

// Signal enqueues an out-of-band discontinuity at the current write
// position. Bytes written before it are delivered before it; bytes after
// it, after.
func (l *Listener) Signal(d media.Discontinuity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	dc := d
	l.items = append(l.items, item{disc: &dc})
}

// CloseWrite ends the stream. A nil err is a clean end of stream;
// otherwise err is reported to the consumer once buffered data drains.
// Blocked and future writers get io.ErrClosedPipe.
func (l *Listener) CloseWrite(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	l.space.Broadcast()
}

// ReadPacket implements PacketReader. A span of fewer than PacketSize
// bytes bounded by a discontinuity or by close cannot form a packet and
// is discarded, mirroring fixed-size framing: a partial packet is
// unusable.
func (l *Listener) ReadPacket(buf []byte) (int, *media.Discontinuity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if len(l.items) == 0 {
			if l.closed {
				if l.err != nil {
					return 0, nil, l.err
				}
				return 0, nil, io.EOF
			}
			return 0, nil, media.ErrWouldBlock
		}

		head := &l.items[0]
		if head.disc != nil {
			d := head.disc
			l.items = l.items[1:]
			return 0, d, nil
		}

		if len(head.data) >= PacketSize {
			n := copy(buf[:PacketSize], head.data)
			head.data = head.data[PacketSize:]
			l.buffered -= n
			if len(head.data) == 0 {
				l.items = l.items[1:]
			}
			l.space.Broadcast()
			return n, nil, nil
		}

		// Partial span. If it is still open (no signal or close behind
		// it), more bytes may arrive to complete the packet.
		if len(l.items) == 1 && !l.closed {
			return 0, nil, media.ErrWouldBlock
		}

		// Bounded partial span: drop it.
		l.buffered -= len(head.data)
		l.items = l.items[1:]
		l.space.Broadcast()
	}
}
