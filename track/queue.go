// Package track implements the per-elementary-stream access unit queue.
// Each queue has a single writer (the demuxer) and a single reader (one
// decode consumer); a small mutex guards the FIFO boundary between them.
// No operation blocks.
package track

import (
	"sync"

	"github.com/zsiec/tsfeed/media"
)

// Queue buffers demultiplexed access units for one track, decoupling the
// demuxer from the consumer's dequeue rate. Dequeue order equals append
// order; every unit is delivered exactly once.
type Queue struct {
	mu        sync.Mutex
	typ       media.TrackType
	units     []*media.AccessUnit
	format    media.Format
	hasFormat bool
	final     error // non-nil once the track is terminal
}

// NewQueue creates an empty live queue for the given track type.
func NewQueue(typ media.TrackType) *Queue {
	return &Queue{typ: typ}
}

// Type returns the track type this queue carries.
func (q *Queue) Type() media.TrackType {
	return q.typ
}

// Push appends one access unit. Units pushed after Finish are discarded:
// a terminal track never grows.
func (q *Queue) Push(au *media.AccessUnit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.final != nil {
		return
	}
	q.units = append(q.units, au)
}

// SetFormat publishes (or replaces) the track's format descriptor.
func (q *Queue) SetFormat(f media.Format) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.format = f
	q.hasFormat = true
}

// Format returns the current format descriptor. ok is false until the
// demuxer has produced one, and again after Invalidate until a new one
// arrives.
func (q *Queue) Format() (media.Format, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.format, q.hasFormat
}

// Invalidate marks the format descriptor stale after a format-change
// discontinuity. Queued access units are unaffected.
func (q *Queue) Invalidate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hasFormat = false
}

// Available reports whether a dequeue would yield a unit, along with the
// track's terminal result (nil while live). The terminal result is
// surfaced even when units remain queued, so callers can tell whether an
// empty queue means "wait" or "done".
func (q *Queue) Available() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units) > 0, q.final
}

// Dequeue removes and returns the oldest queued unit. An empty live queue
// returns media.ErrWouldBlock; an empty terminal queue returns the
// terminal result.
func (q *Queue) Dequeue() (*media.AccessUnit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.units) == 0 {
		if q.final != nil {
			return nil, q.final
		}
		return nil, media.ErrWouldBlock
	}

	au := q.units[0]
	q.units = q.units[1:]
	return au, nil
}

// Flush discards all queued-but-undelivered units. Used on a seek
// discontinuity: timestamps across the seek are not comparable. The
// format descriptor survives.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.units = nil
}

// Finish records the track's terminal result; nil is normalized to
// media.ErrEndOfStream. The first terminal result wins. Queued units
// remain dequeueable until drained.
func (q *Queue) Finish(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.final != nil {
		return
	}
	if err == nil {
		err = media.ErrEndOfStream
	}
	q.final = err
}

// Len returns the number of queued units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}
