// Package demux interprets transport packets as either control
// (discontinuity) or data, maintains demultiplexing state, and delivers
// timed access units to the correct per-track queue. One Demuxer serves
// one stream session; create a new one to restart.
package demux

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/tsfeed/internal/esparse"
	"github.com/zsiec/tsfeed/internal/mpegts"
	"github.com/zsiec/tsfeed/media"
	"github.com/zsiec/tsfeed/track"
)

// MPEG-TS stream_type values this demuxer recognizes.
const (
	streamTypeH264 = 0x1B
	streamTypeAAC  = 0x0F
)

// Demuxer owns the demultiplexing engine and all track queues. Packets are
// fed by a single pump caller; track queues are handed out to consumers,
// which read them from their own goroutines.
type Demuxer struct {
	log    *slog.Logger
	engine *mpegts.Demuxer

	mu     sync.RWMutex
	tracks map[media.TrackType]*track.Queue

	videoPID uint16
	audioPID uint16
	finished bool
}

// New creates a Demuxer with no known tracks; tracks appear as the program
// map is discovered in the stream. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		log:    log.With("component", "demux"),
		engine: mpegts.NewDemuxer(),
		tracks: make(map[media.TrackType]*track.Queue),
	}
}

// Track returns the queue for the given track type, or nil if the stream
// has not revealed such a track yet.
func (d *Demuxer) Track(t media.TrackType) *track.Queue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tracks[t]
}

// Tracks returns all queues discovered so far.
func (d *Demuxer) Tracks() []*track.Queue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*track.Queue, 0, len(d.tracks))
	for _, q := range d.tracks {
		out = append(out, q)
	}
	return out
}

// Feed routes one 188-byte transport packet through the engine and appends
// any completed access units to their track queues. A malformed packet
// returns an error the caller is expected to drop and log; demuxing
// continues. Packets fed after Finish are discarded.
func (d *Demuxer) Feed(pkt []byte) error {
	d.mu.RLock()
	finished := d.finished
	d.mu.RUnlock()
	if finished {
		return nil
	}

	results, err := d.engine.Feed(pkt)
	if err != nil {
		return fmt.Errorf("demux: %w", err)
	}
	for _, data := range results {
		d.process(data)
	}
	return nil
}

// Signal applies a discontinuity. Seek discards every track's
// queued-but-undelivered units and resynchronizes the engine; known
// formats survive unless the signal says otherwise. FormatChange marks
// every format descriptor stale and keeps queued units.
func (d *Demuxer) Signal(dc media.Discontinuity) {
	d.log.Info("discontinuity", "kind", dc.Kind.String(), "resetFormat", dc.ResetFormat)

	switch dc.Kind {
	case media.DiscontinuitySeek:
		d.engine.Reset()
		for _, q := range d.Tracks() {
			q.Flush()
			if dc.ResetFormat {
				q.Invalidate()
			}
		}
	case media.DiscontinuityFormatChange:
		for _, q := range d.Tracks() {
			q.Invalidate()
		}
	}
}

// Finish marks every track's terminal result; nil means clean end of
// stream. Payloads still open in the engine are reassembled first, so
// units completed by the stream's final bytes are not lost. No access
// units are appended after Finish returns.
func (d *Demuxer) Finish(err error) {
	d.mu.Lock()
	if d.finished {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	for _, data := range d.engine.Flush() {
		d.process(data)
	}

	d.mu.Lock()
	d.finished = true
	d.mu.Unlock()

	for _, q := range d.Tracks() {
		q.Finish(err)
	}
	d.log.Info("demux finished", "error", err)
}

func (d *Demuxer) process(data *mpegts.Data) {
	if data.PMT != nil {
		d.handlePMT(data.PMT)
		return
	}
	if data.PES == nil {
		return
	}

	pid := data.FirstPacket.Header.PID
	switch pid {
	case d.videoPID:
		d.handleVideo(data.PES)
	case d.audioPID:
		d.handleAudio(data.PES)
	}
}

// handlePMT binds the first H.264 and first ADTS AAC elementary streams to
// the video and audio tracks. A PMT is the structural evidence that makes
// a format descriptor available, so a track whose format was invalidated
// regains a baseline format on the next PMT.
func (d *Demuxer) handlePMT(pmt *mpegts.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		switch es.StreamType {
		case streamTypeH264:
			if d.videoPID == 0 {
				d.videoPID = es.ElementaryPID
				d.log.Info("found video stream", "pid", es.ElementaryPID, "codec", "H.264")
			}
			if d.videoPID == es.ElementaryPID {
				d.publishBaseFormat(media.TrackVideo, "avc1", es.StreamType)
			}
		case streamTypeAAC:
			if d.audioPID == 0 {
				d.audioPID = es.ElementaryPID
				d.log.Info("found audio stream", "pid", es.ElementaryPID, "codec", "AAC")
			}
			if d.audioPID == es.ElementaryPID {
				d.publishBaseFormat(media.TrackAudio, "mp4a.40.2", es.StreamType)
			}
		}
	}
}

// publishBaseFormat ensures the track exists and has at least a
// PMT-derived format. An enriched format already in place is not
// downgraded.
func (d *Demuxer) publishBaseFormat(t media.TrackType, codec string, streamType uint8) {
	q := d.ensureTrack(t)
	if _, ok := q.Format(); !ok {
		q.SetFormat(media.Format{
			Track:      t,
			Codec:      codec,
			StreamType: streamType,
		})
	}
}

func (d *Demuxer) ensureTrack(t media.TrackType) *track.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.tracks[t]
	if !ok {
		q = track.NewQueue(t)
		d.tracks[t] = q
	}
	return q
}

func (d *Demuxer) handleVideo(pes *mpegts.PESData) {
	if len(pes.Data) == 0 {
		return
	}

	pts, dts := pesTimestamps(pes)

	nalus := esparse.ParseAnnexB(pes.Data)
	if len(nalus) == 0 {
		return
	}

	keyframe := false
	for _, nalu := range nalus {
		switch {
		case nalu.Type == esparse.NALTypeSPS:
			d.enrichVideoFormat(nalu.Data)
		case esparse.IsKeyframe(nalu.Type):
			keyframe = true
		case nalu.Type == esparse.NALTypeSEI:
			d.handleCaptionSEI(nalu.Data, pts)
		}
	}

	q := d.Track(media.TrackVideo)
	if q == nil {
		// PES for a PID the PMT never declared as video; drop.
		return
	}
	q.Push(&media.AccessUnit{
		Track:    media.TrackVideo,
		PTS:      pts,
		DTS:      dts,
		Keyframe: keyframe,
		Data:     pes.Data,
	})
}

func (d *Demuxer) enrichVideoFormat(sps []byte) {
	info, err := esparse.ParseSPS(sps)
	if err != nil {
		d.log.Debug("skipping unparseable SPS", "error", err)
		return
	}
	q := d.Track(media.TrackVideo)
	if q == nil {
		return
	}
	q.SetFormat(media.Format{
		Track:      media.TrackVideo,
		Codec:      info.CodecString(),
		StreamType: streamTypeH264,
		Width:      info.Width,
		Height:     info.Height,
	})
}

func (d *Demuxer) handleCaptionSEI(sei []byte, pts int64) {
	payloads := esparse.ExtractCaptionPayloads(sei)
	if len(payloads) == 0 {
		return
	}

	q := d.ensureTrack(media.TrackCaptions)
	if _, ok := q.Format(); !ok {
		q.SetFormat(media.Format{
			Track: media.TrackCaptions,
			Codec: "cea-608",
		})
	}

	for _, p := range payloads {
		q.Push(&media.AccessUnit{
			Track: media.TrackCaptions,
			PTS:   pts,
			DTS:   pts,
			Data:  []byte{p.Data[0], p.Data[1]},
		})
	}
}

// handleAudio splits the PES payload into ADTS frames, each becoming one
// access unit. Successive frames within one PES share its PTS, offset by
// the 1024-sample AAC frame duration. An ADTS parse failure is terminal
// for the audio track only; sibling tracks continue.
func (d *Demuxer) handleAudio(pes *mpegts.PESData) {
	if len(pes.Data) == 0 {
		return
	}

	pts, _ := pesTimestamps(pes)

	q := d.Track(media.TrackAudio)
	if q == nil {
		return
	}

	frames, err := esparse.ParseADTS(pes.Data)
	for i, aac := range frames {
		framePTS := pts
		if aac.SampleRate > 0 {
			framePTS += int64(i) * 1024 * 1_000_000 / int64(aac.SampleRate)
		}

		if f, ok := q.Format(); !ok || f.SampleRate == 0 {
			q.SetFormat(media.Format{
				Track:      media.TrackAudio,
				Codec:      "mp4a.40.2",
				StreamType: streamTypeAAC,
				SampleRate: aac.SampleRate,
				Channels:   aac.Channels,
			})
		}

		q.Push(&media.AccessUnit{
			Track: media.TrackAudio,
			PTS:   framePTS,
			DTS:   framePTS,
			Data:  aac.Data,
		})
	}

	if err != nil {
		d.log.Warn("audio track failed", "error", err)
		q.Finish(fmt.Errorf("demux: audio: %w", err))
	}
}

func pesTimestamps(pes *mpegts.PESData) (pts, dts int64) {
	if pes.Header == nil || pes.Header.OptionalHeader == nil {
		return 0, 0
	}
	oh := pes.Header.OptionalHeader
	if oh.PTS != nil {
		pts = oh.PTS.Microseconds()
	}
	if oh.DTS != nil {
		dts = oh.DTS.Microseconds()
	} else {
		dts = pts
	}
	return pts, dts
}
