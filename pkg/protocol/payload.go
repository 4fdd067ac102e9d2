package protocol

import "encoding/binary"

// Field codes below LongFieldThreshold carry a single value byte; codes at or
// above it are followed by a length byte and that many data bytes.
const (
	LongFieldThreshold byte = 0x80

	CodeSignal     byte = 0x02
	CodeAttention  byte = 0x04
	CodeMeditation byte = 0x05
	CodeRaw        byte = 0x80
	CodeBandPower  byte = 0x83

	rawLen       = 2
	bandPowerLen = 24
)

// decodePayload walks one validated payload and reports which state records
// changed. Truncated trailing fields are decoded with whatever bytes remain.
func (p *Parser) decodePayload(payload []byte) (cognitive, telemetry bool) {
	for i := 0; i < len(payload); {
		code := payload[i]
		i++
		if i >= len(payload) {
			break
		}

		if code < LongFieldThreshold {
			if p.applyShort(code, payload[i]) {
				cognitive = true
			}
			i++
			continue
		}

		size := int(payload[i])
		i++
		block := payload[i:min(i+size, len(payload))]
		i += size

		switch code {
		case CodeRaw:
			p.applyRaw(block)
		case CodeBandPower:
			if p.applyBandPower(block) {
				cognitive = true
			}
		default:
			if p.classify(code, block) {
				telemetry = true
			}
		}
	}
	return cognitive, telemetry
}

func (p *Parser) applyShort(code, v byte) bool {
	switch code {
	case CodeSignal:
		p.state.Signal = v
	case CodeAttention:
		p.state.Attention = v
	case CodeMeditation:
		p.state.Meditation = v
	default:
		return false
	}
	return true
}

func (p *Parser) applyRaw(block []byte) {
	if len(block) != rawLen {
		return
	}
	p.stats.rawSamples.Add(1)
	if p.onRaw != nil {
		p.onRaw(int16(binary.BigEndian.Uint16(block)))
	}
}

func (p *Parser) applyBandPower(block []byte) bool {
	if len(block) != bandPowerLen {
		return false
	}
	bands := [8]*uint32{
		&p.state.Delta, &p.state.Theta,
		&p.state.LowAlpha, &p.state.HighAlpha,
		&p.state.LowBeta, &p.state.HighBeta,
		&p.state.LowGamma, &p.state.HighGamma,
	}
	for n, dst := range bands {
		*dst = uint24(block[n*3:])
	}
	return true
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// AppendShortField appends a single-byte field.
func AppendShortField(dst []byte, code, value byte) []byte {
	return append(dst, code, value)
}

// AppendLongField appends a length-prefixed field. Blocks longer than 255 bytes
// are cut to fit the length byte.
func AppendLongField(dst []byte, code byte, block []byte) []byte {
	if len(block) > MaxPayloadLen {
		block = block[:MaxPayloadLen]
	}
	dst = append(dst, code, byte(len(block)))
	return append(dst, block...)
}

// EncodeBandPowers renders the band powers of s as a 24-byte block.
func EncodeBandPowers(s CognitiveState) []byte {
	out := make([]byte, 0, bandPowerLen)
	for _, v := range [8]uint32{s.Delta, s.Theta, s.LowAlpha, s.HighAlpha, s.LowBeta, s.HighBeta, s.LowGamma, s.HighGamma} {
		out = append(out, byte(v>>16), byte(v>>8), byte(v))
	}
	return out
}
