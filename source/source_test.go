package source

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/tsfeed/internal/tstest"
	"github.com/zsiec/tsfeed/media"
)

const (
	testPMTPID   = 0x1000
	testVideoPID = 0x100
	testAudioPID = 0x101
)

func writeStream(t *testing.T, l *Listener, packets ...[]byte) {
	t.Helper()
	for _, pkt := range packets {
		if _, err := l.Write(pkt); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
}

func patPMT(streams ...tstest.ESEntry) [][]byte {
	return [][]byte{
		tstest.Packet(0x0000, 0, true,
			tstest.Section(tstest.PAT(1, []tstest.PATEntry{{ProgramNumber: 1, PMTPID: testPMTPID}}))),
		tstest.Packet(testPMTPID, 0, true,
			tstest.Section(tstest.PMT(1, testVideoPID, streams))),
	}
}

func audioPES(startCC uint8, pts int64, frames ...[]byte) [][]byte {
	var adts []byte
	for _, f := range frames {
		adts = append(adts, tstest.ADTS(3, 2, f)...)
	}
	return tstest.Packetize(testAudioPID, startCC, tstest.PES(0xC0, pts, 0, true, false, adts))
}

// pumpAll drives the source until it reports end of input. Only valid when
// the listener's writer has been closed.
func pumpAll(src *Source) {
	for src.FeedMore() {
	}
}

func pumpN(src *Source, n int) {
	for i := 0; i < n; i++ {
		src.FeedMore()
	}
}

func TestSource_StateMachine(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)

	if src.State() != StateNotStarted {
		t.Errorf("initial state = %v", src.State())
	}
	if src.FeedMore() {
		t.Error("FeedMore before Start should return false")
	}

	src.Start()
	if src.State() != StateFeeding {
		t.Errorf("state after Start = %v", src.State())
	}
	src.Start() // no-op
	if src.State() != StateFeeding {
		t.Errorf("second Start changed state to %v", src.State())
	}

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	writeStream(t, l, audioPES(0, 90000, []byte{0x01})...)
	l.CloseWrite(nil)
	pumpAll(src)

	// End of input seen but a unit is still queued.
	if src.State() != StateDraining {
		t.Errorf("state = %v, want draining", src.State())
	}

	if _, err := src.Dequeue(media.TrackAudio); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, media.ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
	if src.State() != StateDone {
		t.Errorf("state = %v, want done", src.State())
	}
}

func TestSource_AudioFIFO(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	writeStream(t, l, audioPES(0, 90000, []byte{0x01}, []byte{0x02}, []byte{0x03})...)
	l.CloseWrite(nil)
	pumpAll(src)

	for i, want := range [][]byte{
		tstest.ADTS(3, 2, []byte{0x01}),
		tstest.ADTS(3, 2, []byte{0x02}),
		tstest.ADTS(3, 2, []byte{0x03}),
	} {
		au, err := src.Dequeue(media.TrackAudio)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if !bytes.Equal(au.Data, want) {
			t.Errorf("unit %d = % X, want % X", i, au.Data, want)
		}
	}
}

func TestSource_EOSIsSticky(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	l.CloseWrite(nil)

	pumpAll(src)
	if src.FeedMore() {
		t.Error("FeedMore after end of stream should stay false")
	}
	// A drained track reports end of stream, never would-block.
	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, media.ErrEndOfStream) {
		t.Errorf("err = %v, want ErrEndOfStream", err)
	}
	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, media.ErrEndOfStream) {
		t.Errorf("repeat err = %v, want ErrEndOfStream", err)
	}
}

// countingReader hands out the same packet forever, counting reads.
type countingReader struct {
	pkt   []byte
	reads int
}

func (r *countingReader) ReadPacket(buf []byte) (int, *media.Discontinuity, error) {
	r.reads++
	return copy(buf, r.pkt), nil, nil
}

func TestSource_FeedBatchBounded(t *testing.T) {
	t.Parallel()

	r := &countingReader{pkt: tstest.Packet(0x120, 0, false, nil)}
	src := New(r, nil)
	src.Start()

	if !src.FeedMore() {
		t.Fatal("FeedMore = false with data available")
	}
	if r.reads != 10 {
		t.Errorf("reads per FeedMore = %d, want 10", r.reads)
	}
}

func TestSource_WouldBlockKeepsFeeding(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()

	if !src.FeedMore() {
		t.Error("FeedMore on an idle live input should return true")
	}
	if src.State() != StateFeeding {
		t.Errorf("state = %v, want feeding", src.State())
	}
}

func TestSource_SeekSignalFlushes(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	writeStream(t, l, audioPES(0, 90000, []byte{0x01})...)
	writeStream(t, l, audioPES(1, 93003, []byte{0x02})[0]) // closes the first PES
	pumpN(src, 4)

	l.Signal(media.Discontinuity{Kind: media.DiscontinuitySeek})
	pumpN(src, 2)

	// The pre-seek unit is gone; nothing new has completed.
	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, media.ErrWouldBlock) {
		t.Errorf("err = %v, want ErrWouldBlock", err)
	}
	// Format survives a plain seek.
	if _, ok := src.Format(media.TrackAudio); !ok {
		t.Error("seek should keep the audio format")
	}
}

func TestSource_LegacySeekSentinel(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	writeStream(t, l, audioPES(0, 90000, []byte{0x01})...)
	writeStream(t, l, audioPES(1, 93003, []byte{0x02})[0])
	pumpN(src, 4)

	// buf[0]=0x00, buf[1]=0x00: inline seek marker.
	writeStream(t, l, make([]byte, PacketSize))
	pumpN(src, 2)

	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, media.ErrWouldBlock) {
		t.Errorf("err = %v, want ErrWouldBlock", err)
	}
	if _, ok := src.Format(media.TrackAudio); !ok {
		t.Error("legacy seek should keep the audio format")
	}
}

func TestSource_LegacyFormatChangeSentinel(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	writeStream(t, l, audioPES(0, 90000, []byte{0x01})...)
	writeStream(t, l, audioPES(1, 93003, []byte{0x02})[0])
	pumpN(src, 4)

	// buf[0]=0x00, buf[1]!=0x00: inline format-change marker.
	sentinel := make([]byte, PacketSize)
	sentinel[1] = 0x01
	writeStream(t, l, sentinel)
	pumpN(src, 2)

	// Queued units survive, the format is stale.
	if _, err := src.Dequeue(media.TrackAudio); err != nil {
		t.Errorf("pre-change unit should dequeue, err = %v", err)
	}
	if _, ok := src.Format(media.TrackAudio); ok {
		t.Error("format change should invalidate the format")
	}
}

func TestSource_AudioOnlyStream(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	writeStream(t, l, audioPES(0, 90000, []byte{0x01})...)
	l.CloseWrite(nil)
	pumpAll(src)

	if _, ok := src.Format(media.TrackVideo); ok {
		t.Error("video format should not exist in an audio-only stream")
	}
	if _, err := src.Dequeue(media.TrackVideo); !errors.Is(err, media.ErrWouldBlock) {
		t.Errorf("undiscovered video track err = %v, want ErrWouldBlock", err)
	}

	if _, err := src.Dequeue(media.TrackAudio); err != nil {
		t.Fatalf("audio Dequeue: %v", err)
	}
	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, media.ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}

	// The missing track does not hold the stream open.
	if src.State() != StateDone {
		t.Errorf("state = %v, want done", src.State())
	}
	if _, err := src.Dequeue(media.TrackVideo); !errors.Is(err, media.ErrWouldBlock) {
		t.Errorf("video after done err = %v, want ErrWouldBlock", err)
	}
}

func TestSource_ReaderErrorIsTerminal(t *testing.T) {
	t.Parallel()

	fail := errors.New("srt receive failed")
	l := NewListener()
	src := New(l, nil)
	src.Start()

	writeStream(t, l, patPMT(tstest.ESEntry{StreamType: 0x0F, PID: testAudioPID})...)
	l.CloseWrite(fail)
	pumpAll(src)

	if src.FeedMore() {
		t.Error("FeedMore after a reader failure should return false")
	}
	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, fail) {
		t.Errorf("err = %v, want %v", err, fail)
	}
	if src.State() != StateDone {
		t.Errorf("state = %v, want done", src.State())
	}
}

func TestSource_BeforeStart(t *testing.T) {
	t.Parallel()

	src := New(NewListener(), nil)
	if _, err := src.Dequeue(media.TrackAudio); !errors.Is(err, media.ErrWouldBlock) {
		t.Errorf("err = %v, want ErrWouldBlock", err)
	}
	if _, ok := src.Format(media.TrackVideo); ok {
		t.Error("no format before Start")
	}
}

func TestSource_EmptyStreamDoneImmediately(t *testing.T) {
	t.Parallel()

	l := NewListener()
	src := New(l, nil)
	src.Start()
	l.CloseWrite(nil)
	pumpAll(src)

	if src.State() != StateDone {
		t.Errorf("state = %v, want done (no tracks discovered)", src.State())
	}
}
