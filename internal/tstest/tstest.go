// Package tstest builds synthetic MPEG-TS bytes for tests: transport
// packets, PAT/PMT sections with valid CRCs, PES packets, ADTS audio
// frames, and Annex B video payloads.
package tstest

import "encoding/binary"

// PacketSize is the fixed MPEG-TS framing unit.
const PacketSize = 188

// Packet builds one 188-byte transport packet carrying payload, padded
// with zeros.
func Packet(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = 0x47
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F) // payload only
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

// PacketWithAF builds a packet with an adaptation field of afLen body bytes
// (all zero flags) followed by payload.
func PacketWithAF(pid uint16, cc uint8, afLen int, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = 0x47
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	if len(payload) > 0 {
		buf[3] = 0x30 | (cc & 0x0F) // adaptation + payload
	} else {
		buf[3] = 0x20 | (cc & 0x0F) // adaptation only
	}
	buf[4] = byte(afLen)
	offset := 5 + afLen
	if offset < PacketSize {
		copy(buf[offset:], payload)
	}
	return buf
}

// Packetize splits payload across as many 188-byte packets as needed on
// pid, setting PUSI on the first and incrementing the continuity counter
// from startCC. Stuffing in the final packet is 0xFF so PES length
// handling is exercised the way real muxers pad.
func Packetize(pid uint16, startCC uint8, payload []byte) [][]byte {
	var pkts [][]byte
	cc := startCC
	first := true
	for len(payload) > 0 || first {
		n := len(payload)
		if n > PacketSize-4 {
			n = PacketSize - 4
		}
		buf := make([]byte, PacketSize)
		buf[0] = 0x47
		buf[1] = byte(pid>>8) & 0x1F
		buf[2] = byte(pid)
		buf[3] = 0x10 | (cc & 0x0F)
		if first {
			buf[1] |= 0x40
		}
		copy(buf[4:], payload[:n])
		for i := 4 + n; i < PacketSize; i++ {
			buf[i] = 0xFF
		}
		pkts = append(pkts, buf)
		payload = payload[n:]
		cc = (cc + 1) & 0x0F
		first = false
	}
	return pkts
}

// PATEntry is one program entry for PAT.
type PATEntry struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PAT builds a valid PAT section including CRC32.
func PAT(tsID uint16, programs []PATEntry) []byte {
	entryLen := len(programs) * 4
	sectionLength := 5 + entryLen + 4 // fixed header after section_length + entries + CRC

	data := make([]byte, 3+sectionLength)
	data[0] = 0x00                               // table_id PAT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F // section_syntax_indicator=1
	data[2] = byte(sectionLength)
	data[3] = byte(tsID >> 8)
	data[4] = byte(tsID)
	data[5] = 0xC1 // reserved(2) + version(0) + current_next(1)
	data[6] = 0x00 // section_number
	data[7] = 0x00 // last_section_number

	offset := 8
	for _, p := range programs {
		data[offset] = byte(p.ProgramNumber >> 8)
		data[offset+1] = byte(p.ProgramNumber)
		data[offset+2] = 0xE0 | byte(p.PMTPID>>8)&0x1F
		data[offset+3] = byte(p.PMTPID)
		offset += 4
	}

	binary.BigEndian.PutUint32(data[offset:], CRC32(data[:offset]))
	return data
}

// ESEntry is one elementary stream entry for PMT.
type ESEntry struct {
	StreamType uint8
	PID        uint16
}

// PMT builds a valid PMT section including CRC32.
func PMT(programNum uint16, pcrPID uint16, streams []ESEntry) []byte {
	esLen := len(streams) * 5
	sectionLength := 9 + esLen + 4

	data := make([]byte, 3+sectionLength)
	data[0] = 0x02 // table_id PMT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(programNum >> 8)
	data[4] = byte(programNum)
	data[5] = 0xC1
	data[6] = 0x00
	data[7] = 0x00
	data[8] = 0xE0 | byte(pcrPID>>8)&0x1F
	data[9] = byte(pcrPID)
	data[10] = 0xF0 // program_info_length = 0
	data[11] = 0x00

	offset := 12
	for _, s := range streams {
		data[offset] = s.StreamType
		data[offset+1] = 0xE0 | byte(s.PID>>8)&0x1F
		data[offset+2] = byte(s.PID)
		data[offset+3] = 0xF0 // ES_info_length = 0
		data[offset+4] = 0x00
		offset += 5
	}

	binary.BigEndian.PutUint32(data[offset:], CRC32(data[:offset]))
	return data
}

// Section prefixes a PSI section with a zero pointer field for embedding
// in a transport packet payload.
func Section(section []byte) []byte {
	payload := make([]byte, 1+len(section))
	copy(payload[1:], section)
	return payload
}

// EncodePTS packs a 33-bit PTS/DTS value into 5 bytes with marker bits.
func EncodePTS(marker byte, value int64) []byte {
	bs := make([]byte, 5)
	bs[0] = marker<<4 | byte((value>>29)&0x0E) | 0x01
	bs[1] = byte(value >> 22)
	bs[2] = byte((value>>14)&0xFE) | 0x01
	bs[3] = byte(value >> 7)
	bs[4] = byte((value<<1)&0xFE) | 0x01
	return bs
}

// PES builds a PES packet. Video stream IDs (0xE0) get an unbounded
// packet length, matching real muxers.
func PES(streamID byte, pts, dts int64, hasPTS, hasDTS bool, data []byte) []byte {
	var optHeader []byte
	ptsDTSIndicator := byte(0)
	if hasPTS && hasDTS {
		ptsDTSIndicator = 3
		optHeader = append(optHeader, EncodePTS(0x03, pts)...)
		optHeader = append(optHeader, EncodePTS(0x01, dts)...)
	} else if hasPTS {
		ptsDTSIndicator = 2
		optHeader = append(optHeader, EncodePTS(0x02, pts)...)
	}

	headerDataLen := len(optHeader)
	packetLength := 3 + headerDataLen + len(data)
	if streamID == 0xE0 {
		packetLength = 0 // video: unbounded
	}

	buf := make([]byte, 0, 9+headerDataLen+len(data))
	buf = append(buf, 0x00, 0x00, 0x01) // start code
	buf = append(buf, streamID)
	buf = append(buf, byte(packetLength>>8), byte(packetLength))
	buf = append(buf, 0x80)                // marker bits
	buf = append(buf, ptsDTSIndicator<<6)  // PTS_DTS_indicator
	buf = append(buf, byte(headerDataLen)) // PES_header_data_length
	buf = append(buf, optHeader...)
	buf = append(buf, data...)
	return buf
}

// ADTS wraps payload in a 7-byte ADTS header (MPEG-4, no CRC).
// sampleRateIdx follows the ISO 14496-3 table (3 = 48000, 4 = 44100).
func ADTS(sampleRateIdx, channels int, payload []byte) []byte {
	frameLen := 7 + len(payload)
	buf := make([]byte, 0, frameLen)
	buf = append(buf, 0xFF, 0xF1) // sync + MPEG-4 + layer 0 + no CRC
	buf = append(buf, 0x40|byte(sampleRateIdx)<<2|byte(channels>>2)&0x01)
	buf = append(buf, byte(channels&0x03)<<6|byte(frameLen>>11)&0x03)
	buf = append(buf, byte(frameLen>>3))
	buf = append(buf, byte(frameLen&0x07)<<5|0x1F)
	buf = append(buf, 0xFC)
	buf = append(buf, payload...)
	return buf
}

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

// CRC32 computes the MPEG-2 CRC (polynomial 0x04C11DB7) over data.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			bit := (b >> (7 - i)) & 1
			msb := byte(crc >> 31)
			crc <<= 1
			if msb^bit != 0 {
				crc ^= 0x04C11DB7
			}
		}
	}
	return crc
}
