package source

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/tsfeed/demux"
	"github.com/zsiec/tsfeed/media"
	"github.com/zsiec/tsfeed/track"
)

// feedBatchSize bounds the packets routed per FeedMore call so the pump
// never monopolizes its thread.
const feedBatchSize = 10

// legacySentinel marks the legacy inline discontinuity encoding: a packet
// whose first byte is 0x00 (an impossible sync byte) carries the
// discontinuity kind in its second byte. Preserved bit-exact for
// interoperability with existing producers.
const legacySentinel = 0x00

// State is the facade lifecycle. There is no transition backward; a new
// Source is required to restart a stream.
type State int32

const (
	StateNotStarted State = iota
	StateFeeding
	StateDraining // end of stream observed, tracks still hold units
	StateDone     // every discovered track drained and terminal
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateFeeding:
		return "feeding"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Source is the single entry point for one stream session: an external
// driver pumps FeedMore from one goroutine while decode consumers poll
// Format and Dequeue per track. No method blocks; not-ready conditions
// are returned, never waited out.
type Source struct {
	log   *slog.Logger
	r     PacketReader
	dmx   *demux.Demuxer
	state atomic.Int32
	buf   [PacketSize]byte
}

// New creates a Source over the given packet reader. If log is nil,
// slog.Default() is used. Call Start before feeding.
func New(r PacketReader, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		log: log.With("component", "source"),
		r:   r,
	}
}

// Start constructs a fresh demuxer and moves the facade to FEEDING.
// Calling Start twice is a no-op.
func (s *Source) Start() {
	if s.state.CompareAndSwap(int32(StateNotStarted), int32(StateFeeding)) {
		s.dmx = demux.New(s.log)
	}
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	return State(s.state.Load())
}

// FeedMore pulls up to feedBatchSize packets from the reader and routes
// each through the demuxer: structured discontinuity signals and legacy
// sentinel packets normalize to the same demuxer signal; everything else
// is fed as data. Returns false once end of stream (or a reader failure)
// has been observed — the signal to stop pumping; true otherwise,
// including when the reader would block.
func (s *Source) FeedMore() bool {
	if s.State() != StateFeeding {
		return false
	}

	for i := 0; i < feedBatchSize; i++ {
		n, disc, err := s.r.ReadPacket(s.buf[:])
		switch {
		case err == nil && disc != nil:
			s.dmx.Signal(*disc)

		case err == nil:
			if s.buf[0] == legacySentinel {
				kind := media.DiscontinuityFormatChange
				if s.buf[1] == 0x00 {
					kind = media.DiscontinuitySeek
				}
				s.dmx.Signal(media.Discontinuity{Kind: kind})
				continue
			}
			if err := s.dmx.Feed(s.buf[:n]); err != nil {
				// Malformed packet: drop and keep feeding.
				s.log.Debug("dropping packet", "error", err)
			}

		case errors.Is(err, media.ErrWouldBlock):
			return true

		case errors.Is(err, io.EOF):
			s.log.Info("input end of stream")
			s.finish(nil)
			return false

		default:
			s.log.Warn("input failed", "error", err)
			s.finish(err)
			return false
		}
	}
	return true
}

// Format returns the format descriptor for the given track. ok is false
// until the demuxer has produced one — callers retry later.
func (s *Source) Format(t media.TrackType) (media.Format, bool) {
	q := s.trackQueue(t)
	if q == nil {
		return media.Format{}, false
	}
	return q.Format()
}

// Dequeue removes and returns the oldest access unit for the given track.
// media.ErrWouldBlock means not ready yet (including a track the stream
// has not revealed); media.ErrEndOfStream or another terminal error means
// the track is done.
func (s *Source) Dequeue(t media.TrackType) (*media.AccessUnit, error) {
	q := s.trackQueue(t)
	if q == nil {
		return nil, media.ErrWouldBlock
	}
	au, err := q.Dequeue()
	s.updateState()
	return au, err
}

func (s *Source) trackQueue(t media.TrackType) *track.Queue {
	if s.dmx == nil {
		return nil
	}
	return s.dmx.Track(t)
}

func (s *Source) finish(err error) {
	s.dmx.Finish(err)
	s.state.CompareAndSwap(int32(StateFeeding), int32(StateDraining))
	s.updateState()
}

// updateState promotes DRAINING to DONE once every discovered track is
// terminal with an empty queue.
func (s *Source) updateState() {
	if s.State() != StateDraining {
		return
	}
	for _, q := range s.dmx.Tracks() {
		avail, final := q.Available()
		if avail || final == nil {
			return
		}
	}
	if s.state.CompareAndSwap(int32(StateDraining), int32(StateDone)) {
		s.log.Info("all tracks drained")
	}
}
