// Package media defines the value types exchanged between the transport
// stream demuxer and its consumers: track identities, timed access units,
// format descriptors, and discontinuity signals.
package media

import "errors"

// Errors shared across the feeding and dequeue paths. ErrWouldBlock is
// transient: the caller retries later. ErrEndOfStream is terminal for the
// scope that returns it (the whole session from the packet reader, a single
// track once its queue drains).
var (
	ErrWouldBlock  = errors.New("media: no data available")
	ErrEndOfStream = errors.New("media: end of stream")
)

// TrackType identifies one elementary stream within a transport stream.
// The set is closed and small; per-track state is held in maps keyed by it.
type TrackType int

// Supported track types.
const (
	TrackVideo TrackType = iota
	TrackAudio
	TrackCaptions
)

func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackCaptions:
		return "captions"
	}
	return "unknown"
}

// AccessUnit is one decodable unit of a single elementary stream (one video
// picture, one AAC frame, one caption payload) with its presentation
// timestamp in microseconds. Each unit is delivered to a consumer exactly
// once, in arrival order.
type AccessUnit struct {
	Track    TrackType
	PTS      int64 // microseconds
	DTS      int64 // microseconds; equals PTS when the stream carries none
	Keyframe bool
	Data     []byte
}

// Format describes the codec parameters of one track. It becomes available
// only after the demuxer has observed enough structural data (the program
// map at minimum) and is enriched as elementary stream headers are parsed.
type Format struct {
	Track      TrackType
	Codec      string // RFC 6381 style, e.g. "avc1.42E01E", "mp4a.40.2"
	StreamType uint8  // MPEG-TS stream_type from the PMT

	// Video only, filled once an SPS has been parsed.
	Width  int
	Height int

	// Audio only, filled once an ADTS header has been parsed.
	SampleRate int
	Channels   int
}

// DiscontinuityKind distinguishes the two discontinuity semantics.
type DiscontinuityKind int

const (
	// DiscontinuitySeek: timing before and after is not comparable. All
	// queued-but-undelivered access units are discarded on every track.
	DiscontinuitySeek DiscontinuityKind = iota
	// DiscontinuityFormatChange: cached format descriptors are stale and
	// new codec parameters are expected. Queued access units survive.
	DiscontinuityFormatChange
)

func (k DiscontinuityKind) String() string {
	switch k {
	case DiscontinuitySeek:
		return "seek"
	case DiscontinuityFormatChange:
		return "format-change"
	}
	return "unknown"
}

// Discontinuity is the normalized discontinuity signal. Both the structured
// out-of-band channel and the legacy sentinel packet encoding resolve to
// this type before reaching the demuxer core.
type Discontinuity struct {
	Kind DiscontinuityKind

	// ResetFormat additionally discards known format descriptors on a seek.
	// The default keeps them: a seek does not change codec parameters.
	ResetFormat bool
}
