package mpegts

import (
	"testing"

	"github.com/zsiec/tsfeed/internal/tstest"
)

func TestParsePacket_Basic(t *testing.T) {
	t.Parallel()

	buf := tstest.Packet(0x100, 5, true, []byte{0xAA, 0xBB})
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if p.Header.PID != 0x100 {
		t.Errorf("PID = 0x%X, want 0x100", p.Header.PID)
	}
	if p.Header.ContinuityCounter != 5 {
		t.Errorf("CC = %d, want 5", p.Header.ContinuityCounter)
	}
	if !p.Header.PayloadUnitStartIndicator {
		t.Error("PUSI should be set")
	}
	if !p.Header.HasPayload {
		t.Error("HasPayload should be set")
	}
	if len(p.Payload) != PacketSize-4 {
		t.Errorf("payload length = %d, want %d", len(p.Payload), PacketSize-4)
	}
	if p.Payload[0] != 0xAA || p.Payload[1] != 0xBB {
		t.Errorf("payload = % X, want AA BB ...", p.Payload[:2])
	}
}

func TestParsePacket_WrongSize(t *testing.T) {
	t.Parallel()

	if _, err := parsePacket(make([]byte, 100)); err == nil {
		t.Error("100-byte packet should fail")
	}
	if _, err := parsePacket(make([]byte, 189)); err == nil {
		t.Error("189-byte packet should fail")
	}
}

func TestParsePacket_BadSyncByte(t *testing.T) {
	t.Parallel()

	buf := tstest.Packet(0x100, 0, false, nil)
	buf[0] = 0x48
	if _, err := parsePacket(buf); err == nil {
		t.Error("bad sync byte should fail")
	}
}

func TestParsePacket_AdaptationField(t *testing.T) {
	t.Parallel()

	buf := tstest.PacketWithAF(0x100, 0, 10, []byte{0xCC})
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if !p.Header.HasAdaptationField {
		t.Error("HasAdaptationField should be set")
	}
	// 4 header + 1 AF length + 10 AF body
	if want := PacketSize - 15; len(p.Payload) != want {
		t.Errorf("payload length = %d, want %d", len(p.Payload), want)
	}
	if p.Payload[0] != 0xCC {
		t.Errorf("payload[0] = 0x%02X, want 0xCC", p.Payload[0])
	}
}

func TestParsePacket_DiscontinuityIndicator(t *testing.T) {
	t.Parallel()

	buf := tstest.PacketWithAF(0x100, 0, 1, []byte{0x01})
	buf[5] = 0x80 // discontinuity_indicator in AF flags
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if !p.Header.DiscontinuityIndicator {
		t.Error("DiscontinuityIndicator should be set")
	}
}

func TestParsePacket_TransportError(t *testing.T) {
	t.Parallel()

	buf := tstest.Packet(0x100, 0, false, nil)
	buf[1] |= 0x80
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if !p.Header.TransportErrorIndicator {
		t.Error("TEI should be set")
	}
}

func TestParsePacket_AdaptationOnly(t *testing.T) {
	t.Parallel()

	buf := tstest.PacketWithAF(0x100, 0, 182, nil)
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if p.Header.HasPayload {
		t.Error("adaptation-only packet should not report a payload")
	}
	if p.Payload != nil {
		t.Errorf("payload should be nil, got %d bytes", len(p.Payload))
	}
}
