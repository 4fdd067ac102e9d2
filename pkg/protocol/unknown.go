package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// UnknownFieldStat summarizes an extended field code the classifier could not
// interpret. The record has a fixed layout: lengths is a 256-bit set and the
// last block is kept in a fixed array.
type UnknownFieldStat struct {
	Code  uint8
	Count uint64

	lengths [4]uint64
	last    [MaxPayloadLen]byte
	lastLen uint8
}

// Lengths returns the observed block lengths in ascending order.
func (s UnknownFieldStat) Lengths() []int {
	var out []int
	for n := 0; n < 256; n++ {
		if s.lengths[n/64]&(1<<(n%64)) != 0 {
			out = append(out, n)
		}
	}
	return out
}

// Last returns a copy of the most recent block.
func (s UnknownFieldStat) Last() []byte {
	return append([]byte(nil), s.last[:s.lastLen]...)
}

func (s UnknownFieldStat) LastHex() string {
	return hex.EncodeToString(s.last[:s.lastLen])
}

func (s UnknownFieldStat) MarshalJSON() ([]byte, error) {
	type unknownJSON struct {
		Code    string `json:"code"`
		Count   uint64 `json:"count"`
		Lengths []int  `json:"lengths"`
		Last    string `json:"last"`
	}
	return json.Marshal(unknownJSON{
		Code:    formatCode(s.Code),
		Count:   s.Count,
		Lengths: s.Lengths(),
		Last:    s.LastHex(),
	})
}

func formatCode(code byte) string {
	return fmt.Sprintf("0x%02X", code)
}

const unknownCapacity = 0x100 - int(LongFieldThreshold)

// unknownTracker is indexed by code - LongFieldThreshold; only long fields
// reach the classifier.
type unknownTracker struct {
	stats [unknownCapacity]UnknownFieldStat
	codes int
}

func (t *unknownTracker) record(code byte, block []byte) bool {
	if code < LongFieldThreshold {
		return false
	}
	s := &t.stats[code-LongFieldThreshold]
	if s.Count == 0 {
		s.Code = code
		t.codes++
	}
	s.Count++
	n := len(block)
	s.lengths[n/64] |= 1 << (n % 64)
	s.lastLen = uint8(copy(s.last[:], block))
	return true
}

func (t *unknownTracker) snapshot() map[uint8]UnknownFieldStat {
	if t.codes == 0 {
		return nil
	}
	out := make(map[uint8]UnknownFieldStat, t.codes)
	for _, s := range t.stats {
		if s.Count > 0 {
			out[s.Code] = s
		}
	}
	return out
}

func (t *unknownTracker) list() []UnknownFieldStat {
	out := make([]UnknownFieldStat, 0, t.codes)
	for _, s := range t.stats {
		if s.Count > 0 {
			out = append(out, s)
		}
	}
	return out
}
