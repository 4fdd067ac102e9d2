package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// FieldKind is the interpretation bound to an extended field code.
type FieldKind uint8

const (
	FieldUnknown FieldKind = iota
	FieldGyro
	FieldHeart
	FieldBattery
	FieldTemperature
	FieldVersion
	FieldRR
)

var fieldKindNames = [...]string{
	FieldUnknown:     "unknown",
	FieldGyro:        "gyro",
	FieldHeart:       "heart",
	FieldBattery:     "battery",
	FieldTemperature: "temperature",
	FieldVersion:     "version",
	FieldRR:          "rr",
}

func (k FieldKind) String() string {
	if int(k) < len(fieldKindNames) {
		return fieldKindNames[k]
	}
	return fmt.Sprintf("field(%d)", uint8(k))
}

// ParseFieldKind maps a config name to a FieldKind.
func ParseFieldKind(s string) (FieldKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range fieldKindNames {
		if name == s {
			return FieldKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

// FieldHints binds extended field codes to a fixed interpretation, bypassing
// the length and value-range heuristics for those codes only.
type FieldHints map[byte]FieldKind

// ValidateHint reports whether code can carry a hint.
func ValidateHint(code byte, kind FieldKind) error {
	if code < LongFieldThreshold {
		return fmt.Errorf("field code 0x%02x is a short field", code)
	}
	if code == CodeRaw || code == CodeBandPower {
		return fmt.Errorf("field code 0x%02x is reserved for EEG data", code)
	}
	if int(kind) >= len(fieldKindNames) {
		return fmt.Errorf("field code 0x%02x has invalid kind %d", code, kind)
	}
	return nil
}

// Register binds code to kind.
func (h FieldHints) Register(code byte, kind FieldKind) error {
	if err := ValidateHint(code, kind); err != nil {
		return err
	}
	h[code] = kind
	return nil
}

// ParseText converts a NUL-padded text block into a Go string.
func ParseText(block []byte) string {
	if idx := bytes.IndexByte(block, 0x00); idx >= 0 {
		block = block[:idx]
	}
	return strings.TrimSpace(string(block))
}
