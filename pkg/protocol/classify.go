package protocol

import "encoding/binary"

const (
	gyroLen = 6
	rrLen   = 6

	heartMin = 40
	heartMax = 200

	batteryMax = 100

	temperatureMin = 20.0
	temperatureMax = 45.0
)

// classify interprets an extended block. Without a hint the order is fixed:
// gyro by length, heart rate by range, battery, temperature by range, unknown.
func (p *Parser) classify(code byte, block []byte) bool {
	if kind, ok := p.hints[code]; ok {
		if p.applyKind(kind, block) {
			return true
		}
		p.recordUnknown(code, block)
		return false
	}

	switch {
	case p.applyGyro(block),
		p.applyHeart(block),
		p.applyBattery(block),
		p.applyTemperature(block):
		return true
	}
	p.recordUnknown(code, block)
	return false
}

func (p *Parser) applyKind(kind FieldKind, block []byte) bool {
	switch kind {
	case FieldGyro:
		return p.applyGyro(block)
	case FieldHeart:
		return p.applyHeart(block)
	case FieldBattery:
		return p.applyBattery(block)
	case FieldTemperature:
		return p.applyTemperature(block)
	case FieldVersion:
		return p.applyVersion(block)
	case FieldRR:
		return p.applyRR(block)
	default:
		return false
	}
}

func (p *Parser) applyGyro(block []byte) bool {
	if len(block) != gyroLen {
		return false
	}
	g := Gyro{
		X: int16(binary.BigEndian.Uint16(block[0:2])),
		Y: int16(binary.BigEndian.Uint16(block[2:4])),
		Z: int16(binary.BigEndian.Uint16(block[4:6])),
	}
	p.ext.Gyro = &g
	if p.onGyro != nil {
		p.onGyro(g.X, g.Y, g.Z)
	}
	return true
}

// applyRR decodes three unsigned 16-bit intervals. Only reachable through a hint.
func (p *Parser) applyRR(block []byte) bool {
	if len(block) != rrLen {
		return false
	}
	rr := RR{
		int(binary.BigEndian.Uint16(block[0:2])),
		int(binary.BigEndian.Uint16(block[2:4])),
		int(binary.BigEndian.Uint16(block[4:6])),
	}
	p.ext.RR = &rr
	if p.onRR != nil {
		p.onRR(rr[0], rr[1], rr[2])
	}
	return true
}

func (p *Parser) applyHeart(block []byte) bool {
	if len(block) != 2 {
		return false
	}
	v := binary.BigEndian.Uint16(block)
	if v < heartMin || v > heartMax {
		return false
	}
	p.ext.Heart = &v
	return true
}

func (p *Parser) applyBattery(block []byte) bool {
	if len(block) != 1 || block[0] > batteryMax {
		return false
	}
	v := block[0]
	p.ext.Battery = &v
	return true
}

func (p *Parser) applyTemperature(block []byte) bool {
	if len(block) != 2 {
		return false
	}
	t := float64(binary.BigEndian.Uint16(block)) / 10.0
	if t < temperatureMin || t > temperatureMax {
		return false
	}
	p.ext.Temperature = &t
	return true
}

func (p *Parser) applyVersion(block []byte) bool {
	v := ParseText(block)
	if v == "" {
		return false
	}
	p.ext.Version = &v
	return true
}

func (p *Parser) recordUnknown(code byte, block []byte) {
	if !p.unknown.record(code, block) {
		return
	}
	p.stats.unknownFields.Add(1)
	p.log.Debug().
		Str("code", formatCode(code)).
		Int("len", len(block)).
		Hex("block", block).
		Msg("unknown extended field")
}
