package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which handler produced a Reading.
type Kind uint8

const (
	KindCognitive Kind = iota + 1
	KindTelemetry
	KindGyro
	KindRR
	KindRaw
)

var kindNames = map[Kind]string{
	KindCognitive: "cognitive",
	KindTelemetry: "telemetry",
	KindGyro:      "gyro",
	KindRR:        "rr",
	KindRaw:       "raw",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown reading kind %q", s)
}

// Reading is the normalized event flowing through the pipeline.
type Reading struct {
	Kind      Kind
	Timestamp time.Time
	Data      any
}

// CognitiveState is the compact headset state: signal quality, the two eSense
// scores and the eight EEG band powers. Band powers are 24-bit magnitudes.
type CognitiveState struct {
	Signal     uint8 `json:"signal"`
	Attention  uint8 `json:"attention"`
	Meditation uint8 `json:"meditation"`

	Delta     uint32 `json:"delta"`
	Theta     uint32 `json:"theta"`
	LowAlpha  uint32 `json:"low_alpha"`
	HighAlpha uint32 `json:"high_alpha"`
	LowBeta   uint32 `json:"low_beta"`
	HighBeta  uint32 `json:"high_beta"`
	LowGamma  uint32 `json:"low_gamma"`
	HighGamma uint32 `json:"high_gamma"`
}

// Gyro is one 3-axis gyroscope sample.
type Gyro struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// RR is a triple of R-R intervals.
type RR [3]int

// ExtendedTelemetry holds the optional biometric fields. A nil pointer means the
// value has never been observed; a set value persists until overwritten.
type ExtendedTelemetry struct {
	Battery     *uint8   `json:"battery,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Heart       *uint16  `json:"heart,omitempty"`
	Gyro        *Gyro    `json:"gyro,omitempty"`
	RR          *RR      `json:"rr,omitempty"`
	Version     *string  `json:"version,omitempty"`

	Unknown map[uint8]UnknownFieldStat `json:"unknown,omitempty"`
}

// RawSample is one raw EEG sample.
type RawSample int16

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameTelemetry compares the emitted fields only; Unknown is diagnostic.
func sameTelemetry(a, b ExtendedTelemetry) bool {
	return ptrEqual(a.Battery, b.Battery) &&
		ptrEqual(a.Temperature, b.Temperature) &&
		ptrEqual(a.Heart, b.Heart) &&
		ptrEqual(a.Gyro, b.Gyro) &&
		ptrEqual(a.RR, b.RR) &&
		ptrEqual(a.Version, b.Version)
}
