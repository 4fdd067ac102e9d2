package protocol

import "errors"

// Frame layout: SYNC SYNC LEN PAYLOAD[LEN] CHECKSUM
const (
	Sync          byte = 0xAA
	HeaderLen          = 3
	MaxPayloadLen      = 0xFF
	minFrameLen        = HeaderLen + 1
)

var ErrPayloadTooLarge = errors.New("protocol: payload too large")

type extractResult int

const (
	needMore extractResult = iota
	extracted
	rejected
)

// nextFrame extracts one validated payload from the front of buf.
//
// Leading bytes are dropped until the buffer starts with two sync bytes. On a
// checksum mismatch only the first sync byte is dropped so an overlapping frame
// is not lost. discarded reports how many bytes were dropped either way.
func nextFrame(buf *buffer) (payload []byte, res extractResult, discarded int) {
	b := buf.bytes()
	for len(b)-discarded >= 2 && (b[discarded] != Sync || b[discarded+1] != Sync) {
		discarded++
	}
	if discarded > 0 {
		buf.discard(discarded)
		b = buf.bytes()
	}

	if len(b) < minFrameLen {
		return nil, needMore, discarded
	}

	length := int(b[2])
	total := HeaderLen + length + 1
	if len(b) < total {
		return nil, needMore, discarded
	}

	payload = b[HeaderLen : HeaderLen+length]
	if sum(payload)+b[HeaderLen+length] != 0xFF {
		buf.discard(1)
		return nil, rejected, discarded + 1
	}

	buf.discard(total)
	return payload, extracted, discarded
}

func sum(p []byte) byte {
	var s byte
	for _, v := range p {
		s += v
	}
	return s
}

// Checksum returns the trailer byte that validates payload.
func Checksum(payload []byte) byte {
	return 0xFF - sum(payload)
}

// EncodeFrame wraps payload in sync bytes, length and checksum.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 0, HeaderLen+len(payload)+1)
	out = append(out, Sync, Sync, byte(len(payload)))
	out = append(out, payload...)
	return append(out, Checksum(payload)), nil
}
