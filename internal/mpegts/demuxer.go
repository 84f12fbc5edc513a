package mpegts

// PacketSize is the fixed MPEG-TS framing unit. Not configurable.
const PacketSize = 188

// Demuxer is the push-driven demultiplexing engine. It owns per-PID
// accumulators and the program map learned from PAT sections. Feed
// returns completed units as they close; nothing is buffered between
// calls beyond partially reassembled payloads.
type Demuxer struct {
	pool       *packetPool
	programMap *programMap
}

// NewDemuxer creates an empty engine with no known programs.
func NewDemuxer() *Demuxer {
	pm := newProgramMap()
	return &Demuxer{
		programMap: pm,
		pool:       newPacketPool(pm),
	}
}

// Feed parses one 188-byte transport packet and returns any units it
// completed. A malformed packet (wrong size, bad sync byte, corrupt
// section) returns an error; engine state is unaffected and feeding may
// continue.
func (d *Demuxer) Feed(buf []byte) ([]*Data, error) {
	pkt, err := parsePacket(buf)
	if err != nil {
		return nil, err
	}

	flushed := d.pool.add(pkt)
	if flushed == nil {
		return nil, nil
	}

	results, err := d.processPackets(flushed)
	if err != nil {
		return nil, err
	}

	d.learnPrograms(results)
	return results, nil
}

// Flush reassembles whatever the accumulators still hold. Called once at
// end of stream; an open PES payload has no next payload-unit-start to
// close it otherwise. Corrupt remainders are dropped.
func (d *Demuxer) Flush() []*Data {
	var all []*Data
	for _, packets := range d.pool.dump() {
		results, err := d.processPackets(packets)
		if err != nil {
			continue
		}
		// PAT first (dump sorts by PID), so PMT PIDs flushed in the same
		// pass are still recognized as PSI.
		d.learnPrograms(results)
		all = append(all, results...)
	}
	return all
}

// Reset discards all partially reassembled payloads. Used to resynchronize
// after a seek discontinuity: bytes before and after the seek must never
// be joined into one unit. The program map survives; the stream's
// structure did not change.
func (d *Demuxer) Reset() {
	d.pool.reset()
}

func (d *Demuxer) learnPrograms(results []*Data) {
	for _, r := range results {
		if r.PAT == nil {
			continue
		}
		for _, p := range r.PAT.Programs {
			d.programMap.addPMTPID(p.ProgramMapID)
		}
	}
}

func (d *Demuxer) processPackets(packets []*Packet) ([]*Data, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	firstPacket := packets[0]
	pid := firstPacket.Header.PID

	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	if isPSIPayload(pid, d.programMap) {
		return parsePSI(payload, pid, firstPacket, d.programMap)
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*Data{{
			FirstPacket: firstPacket,
			PES:         pes,
		}}, nil
	}

	return nil, nil
}
