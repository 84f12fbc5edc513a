package mpegts

import "testing"

func TestAccumulator_PUSIFlush(t *testing.T) {
	pm := newProgramMap()
	acc := newPacketAccumulator(0x100, pm)

	p1 := &Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x01}}
	if flushed := acc.add(p1); flushed != nil {
		t.Error("first packet should not flush")
	}

	p2 := &Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, ContinuityCounter: 1}, Payload: []byte{0x02}}
	if flushed := acc.add(p2); flushed != nil {
		t.Error("continuation should not flush")
	}

	p3 := &Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 2}, Payload: []byte{0x03}}
	if flushed := acc.add(p3); len(flushed) != 2 {
		t.Errorf("PUSI should flush 2 packets, got %d", len(flushed))
	}
}

func TestAccumulator_CCDiscontinuity(t *testing.T) {
	pm := newProgramMap()
	acc := newPacketAccumulator(0x100, pm)

	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x01}})
	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, ContinuityCounter: 1}, Payload: []byte{0x02}})

	// CC jump from 1 to 5 (skip 2,3,4)
	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, ContinuityCounter: 5}, Payload: []byte{0x03}})

	// Flush with new PUSI should only have the packet after the discontinuity
	flushed := acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 6}, Payload: []byte{0x04}})
	if len(flushed) != 1 {
		t.Errorf("after discontinuity, should flush 1 packet, got %d", len(flushed))
	}
}

func TestAccumulator_SignaledDiscontinuity(t *testing.T) {
	pm := newProgramMap()
	acc := newPacketAccumulator(0x100, pm)

	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x01}})

	// CC jump with the discontinuity indicator set: buffer is kept.
	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, DiscontinuityIndicator: true, ContinuityCounter: 7}, Payload: []byte{0x02}})

	flushed := acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 8}, Payload: []byte{0x03}})
	if len(flushed) != 2 {
		t.Errorf("signaled discontinuity should keep the buffer, got %d packets", len(flushed))
	}
}

func TestAccumulator_DuplicateFilter(t *testing.T) {
	pm := newProgramMap()
	acc := newPacketAccumulator(0x100, pm)

	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 3}, Payload: []byte{0x01}})
	// Duplicate with same CC
	if flushed := acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, ContinuityCounter: 3}, Payload: []byte{0x01}}); flushed != nil {
		t.Error("duplicate should be filtered")
	}

	// Next PUSI should only flush 1 packet (the original, not the dupe)
	flushed := acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 4}, Payload: []byte{0x02}})
	if len(flushed) != 1 {
		t.Errorf("should flush 1 packet, got %d", len(flushed))
	}
}

func TestAccumulator_TEIDiscard(t *testing.T) {
	pm := newProgramMap()
	acc := newPacketAccumulator(0x100, pm)

	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x01}})
	// TEI packet
	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, TransportErrorIndicator: true, ContinuityCounter: 1}, Payload: []byte{0x02}})

	// After TEI, buffer should be cleared
	if flushed := acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 2}, Payload: []byte{0x03}}); flushed != nil {
		t.Error("after TEI, there should be no buffered packets to flush")
	}
}

func TestAccumulator_AdaptationOnlySkipped(t *testing.T) {
	pm := newProgramMap()
	acc := newPacketAccumulator(0x100, pm)

	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x01}})
	// Adaptation-only packet: no payload, CC does not increment
	acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasAdaptationField: true, ContinuityCounter: 0}})

	flushed := acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 1}, Payload: []byte{0x02}})
	if len(flushed) != 1 {
		t.Errorf("adaptation-only packet should not disturb the buffer, got %d", len(flushed))
	}
}

func TestPool_Reset(t *testing.T) {
	pm := newProgramMap()
	pool := newPacketPool(pm)

	pool.add(&Packet{Header: PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x01}})
	pool.add(&Packet{Header: PacketHeader{PID: 0x101, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x02}})

	pool.reset()

	if dumped := pool.dump(); len(dumped) != 0 {
		t.Errorf("reset should drop all partial payloads, dump returned %d groups", len(dumped))
	}
}

func TestPool_DumpPATFirst(t *testing.T) {
	pm := newProgramMap()
	pm.addPMTPID(0x1000)
	pool := newPacketPool(pm)

	// PES-ish payload on a high PID, then an incomplete section on PID 0.
	pool.add(&Packet{Header: PacketHeader{PID: 0x1000, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x02, 0xB0}})
	pool.add(&Packet{Header: PacketHeader{PID: 0x0000, HasPayload: true, PayloadUnitStartIndicator: true, ContinuityCounter: 0}, Payload: []byte{0x00, 0x00, 0xB0}})

	dumped := pool.dump()
	if len(dumped) != 2 {
		t.Fatalf("dump returned %d groups, want 2", len(dumped))
	}
	if dumped[0][0].Header.PID != 0x0000 {
		t.Errorf("first dumped group on PID 0x%X, want PAT PID 0", dumped[0][0].Header.PID)
	}
}

func TestIsPSIComplete(t *testing.T) {
	t.Parallel()

	// Short section: pointer field 0, table 0, syntax indicator set, length 4.
	complete := []byte{0x00, 0x00, 0xB0, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
	if !isPSIComplete([]*Packet{{Payload: complete}}) {
		t.Error("complete section not detected")
	}

	truncated := complete[:6]
	if isPSIComplete([]*Packet{{Payload: truncated}}) {
		t.Error("truncated section reported complete")
	}

	stuffed := append(append([]byte{}, complete...), 0xFF, 0xFF)
	if !isPSIComplete([]*Packet{{Payload: stuffed}}) {
		t.Error("stuffing after a complete section should still read complete")
	}
}
