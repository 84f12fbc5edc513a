package esparse

import "github.com/zsiec/ccx"

// CaptionPayload is one raw caption fragment lifted from an SEI message:
// a CEA-608 byte pair with its field and channel, or two bytes of a DTVCC
// (CEA-708) packet. Payloads are passed through undecoded; decoding is the
// consumer's concern.
type CaptionPayload struct {
	Data    [2]byte
	Field   int
	Channel int
	DTVCC   bool
}

// ExtractCaptionPayloads pulls caption data out of an H.264 SEI NAL unit
// (user data registered ITU-T T.35). Returns nil when the SEI carries no
// captions.
func ExtractCaptionPayloads(sei []byte) []CaptionPayload {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return nil
	}

	var out []CaptionPayload
	for _, pair := range cd.CC608Pairs {
		out = append(out, CaptionPayload{
			Data:    [2]byte{pair.Data[0], pair.Data[1]},
			Field:   int(pair.Field),
			Channel: int(pair.Channel),
		})
	}
	for _, t := range cd.DTVCC {
		out = append(out, CaptionPayload{
			Data:  [2]byte{t.Data[0], t.Data[1]},
			DTVCC: true,
		})
	}
	return out
}
