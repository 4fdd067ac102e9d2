package protocol_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brainlink/pkg/protocol"
)

type recorder struct {
	cognitive []protocol.CognitiveState
	telemetry []protocol.ExtendedTelemetry
	gyro      [][3]int16
	rr        [][3]int
	raw       []int16
}

func (r *recorder) options() []protocol.Option {
	return []protocol.Option{
		protocol.WithCognitiveHandler(func(s protocol.CognitiveState) {
			r.cognitive = append(r.cognitive, s)
		}),
		protocol.WithTelemetryHandler(func(t protocol.ExtendedTelemetry) {
			r.telemetry = append(r.telemetry, t)
		}),
		protocol.WithGyroHandler(func(x, y, z int16) {
			r.gyro = append(r.gyro, [3]int16{x, y, z})
		}),
		protocol.WithRRHandler(func(a, b, c int) {
			r.rr = append(r.rr, [3]int{a, b, c})
		}),
		protocol.WithRawHandler(func(v int16) {
			r.raw = append(r.raw, v)
		}),
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newParser(t *testing.T, opts ...protocol.Option) (*protocol.Parser, *recorder, *fakeClock) {
	t.Helper()
	rec := &recorder{}
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	all := append(rec.options(), protocol.WithClock(clock.Now))
	return protocol.NewParser(append(all, opts...)...), rec, clock
}

func frame(t *testing.T, payload ...byte) []byte {
	t.Helper()
	out, err := protocol.EncodeFrame(payload)
	require.NoError(t, err)
	return out
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func TestLiteralAttentionFrame(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse([]byte{0xAA, 0xAA, 0x04, 0x04, 0x64, 0x05, 0x32, 0x60})

	require.Len(t, rec.cognitive, 1)
	assert.Equal(t, uint8(100), rec.cognitive[0].Attention)
	assert.Equal(t, uint8(50), rec.cognitive[0].Meditation)
	assert.Equal(t, uint8(100), p.State().Attention)
	assert.Empty(t, rec.telemetry)
}

func TestLiteralFrameWithRawSample(t *testing.T) {
	p, rec, _ := newParser(t)

	// signal=0x1A then raw sample 0xFF38 (-200)
	payload := []byte{0x02, 0x1A, 0x80, 0x02, 0xFF, 0x38}
	p.Parse(concat([]byte{0xAA, 0xAA, byte(len(payload))}, payload, []byte{protocol.Checksum(payload)}))

	assert.Equal(t, []int16{-200}, rec.raw)
	require.Len(t, rec.cognitive, 1)
	assert.Equal(t, uint8(0x1A), rec.cognitive[0].Signal)
	assert.Equal(t, uint64(1), p.Stats().RawSamples)
}

func TestRawSampleDoesNotTouchState(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse(frame(t, 0x80, 0x02, 0x01, 0x00))

	assert.Equal(t, []int16{256}, rec.raw)
	assert.Empty(t, rec.cognitive)
	assert.Equal(t, protocol.CognitiveState{}, p.State())
}

func TestBandPowersDecodeInOrder(t *testing.T) {
	p, rec, _ := newParser(t)
	want := protocol.CognitiveState{
		Delta: 0x0018CF, Theta: 0x003F5E, LowAlpha: 0x001D1A, HighAlpha: 0x000A68,
		LowBeta: 0x0004A1, HighBeta: 0x000B6F, LowGamma: 0x00040D, HighGamma: 0xFFFFFF,
		Attention: 13, Meditation: 61,
	}

	payload := protocol.AppendShortField(nil, protocol.CodeSignal, 0)
	payload = protocol.AppendLongField(payload, protocol.CodeBandPower, protocol.EncodeBandPowers(want))
	payload = protocol.AppendShortField(payload, protocol.CodeAttention, 13)
	payload = protocol.AppendShortField(payload, protocol.CodeMeditation, 61)
	p.Parse(frame(t, payload...))

	require.Len(t, rec.cognitive, 1)
	assert.Equal(t, want, rec.cognitive[0])
}

func TestWrongLengthReservedCodesIgnored(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse(frame(t, 0x83, 0x03, 0x01, 0x02, 0x03, 0x80, 0x01, 0x05))

	assert.Empty(t, rec.cognitive)
	assert.Empty(t, rec.raw)
	assert.Empty(t, p.Unknown())
}

func TestUnchangedCognitiveStateEmitsOnce(t *testing.T) {
	p, rec, _ := newParser(t)
	f := frame(t, 0x04, 0x40, 0x05, 0x20)

	p.Parse(f)
	p.Parse(f)

	assert.Len(t, rec.cognitive, 1)

	p.Parse(frame(t, 0x04, 0x41))
	assert.Len(t, rec.cognitive, 2)
	assert.Equal(t, uint8(0x20), rec.cognitive[1].Meditation)
}

func TestUnknownShortCodeSkipped(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse(frame(t, 0x16, 0x7F, 0x04, 0x0A))

	require.Len(t, rec.cognitive, 1)
	assert.Equal(t, uint8(10), rec.cognitive[0].Attention)
	assert.Equal(t, uint64(1), p.Stats().Frames)
}

func TestUnknownShortCodeAloneDoesNotEmit(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse(frame(t, 0x16, 0x7F))

	assert.Empty(t, rec.cognitive)
}

func TestSixByteBlockIsAlwaysGyro(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse(frame(t, 0xA0, 0x06, 0xFF, 0xFF, 0x00, 0x64, 0x80, 0x00))

	assert.Equal(t, [][3]int16{{-1, 100, -32768}}, rec.gyro)
	require.Len(t, rec.telemetry, 1)
	require.NotNil(t, rec.telemetry[0].Gyro)
	assert.Equal(t, protocol.Gyro{X: -1, Y: 100, Z: -32768}, *rec.telemetry[0].Gyro)
}

func TestBatteryRange(t *testing.T) {
	p, rec, clock := newParser(t)

	p.Parse(frame(t, 0x91, 0x01, 100))
	require.Len(t, rec.telemetry, 1)
	require.NotNil(t, rec.telemetry[0].Battery)
	assert.Equal(t, uint8(100), *rec.telemetry[0].Battery)

	clock.Advance(time.Hour)
	p.Parse(frame(t, 0x91, 0x01, 101))

	assert.Len(t, rec.telemetry, 1)
	assert.Equal(t, uint8(100), *p.Telemetry().Battery)
	unknown := p.Unknown()
	require.Len(t, unknown, 1)
	assert.Equal(t, uint8(0x91), unknown[0].Code)
	assert.Equal(t, uint64(1), unknown[0].Count)
	assert.Equal(t, []int{1}, unknown[0].Lengths())
	assert.Equal(t, "65", unknown[0].LastHex())
}

func TestTwoByteClassification(t *testing.T) {
	cases := []struct {
		name  string
		block []byte
		heart *uint16
		temp  *float64
	}{
		{name: "heart low bound", block: []byte{0x00, 40}, heart: ptr(uint16(40))},
		{name: "heart high bound", block: []byte{0x00, 200}, heart: ptr(uint16(200))},
		{name: "temperature", block: []byte{0x01, 0x6D}, temp: ptr(36.5)},
		{name: "temperature high bound", block: []byte{0x01, 0xC2}, temp: ptr(45.0)},
		{name: "below heart", block: []byte{0x00, 39}},
		{name: "just above heart", block: []byte{0x00, 201}, temp: ptr(20.1)},
		{name: "above temperature", block: []byte{0x01, 0xC3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, _ := newParser(t)
			p.Parse(frame(t, 0x92, 0x02, tc.block[0], tc.block[1]))

			tel := p.Telemetry()
			assert.Equal(t, tc.heart, tel.Heart)
			assert.Equal(t, tc.temp, tel.Temperature)
			if tc.heart == nil && tc.temp == nil {
				require.Len(t, p.Unknown(), 1)
				assert.Equal(t, uint8(0x92), p.Unknown()[0].Code)
			} else {
				assert.Empty(t, p.Unknown())
			}
		})
	}
}

func TestUnknownFieldStatsAccumulate(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse(frame(t, 0xB0, 0x03, 0x01, 0x02, 0x03))
	p.Parse(frame(t, 0xB0, 0x04, 0x0A, 0x0B, 0x0C, 0x0D))
	p.Parse(frame(t, 0xB0, 0x03, 0x01, 0x02, 0x03))

	assert.Empty(t, rec.telemetry)
	unknown := p.Unknown()
	require.Len(t, unknown, 1)
	assert.Equal(t, uint64(3), unknown[0].Count)
	assert.Equal(t, []int{3, 4}, unknown[0].Lengths())
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, unknown[0].Last())
	assert.Equal(t, uint64(3), p.Stats().UnknownFields)

	tel := p.Telemetry()
	require.Contains(t, tel.Unknown, uint8(0xB0))
	assert.Equal(t, uint64(3), tel.Unknown[0xB0].Count)
}

func TestUnknownFieldJSON(t *testing.T) {
	p, _, _ := newParser(t)
	p.Parse(frame(t, 0xB1, 0x02, 0xFF, 0xFF))

	raw, err := p.Unknown()[0].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"0xB1","count":1,"lengths":[2],"last":"ffff"}`, string(raw))
}

func TestTelemetryThrottle(t *testing.T) {
	p, rec, clock := newParser(t)

	p.Parse(frame(t, 0x90, 0x01, 80))
	clock.Advance(time.Second)
	p.Parse(frame(t, 0x90, 0x01, 79))

	require.Len(t, rec.telemetry, 1)
	assert.Equal(t, uint8(80), *rec.telemetry[0].Battery)
	assert.Equal(t, uint8(79), *p.Telemetry().Battery)

	clock.Advance(2 * time.Second)
	p.Parse(frame(t, 0x91, 0x02, 0x00, 72))

	require.Len(t, rec.telemetry, 2)
	assert.Equal(t, uint8(79), *rec.telemetry[1].Battery)
	assert.Equal(t, uint16(72), *rec.telemetry[1].Heart)
}

func TestTelemetryUnchangedSnapshotSuppressed(t *testing.T) {
	p, rec, clock := newParser(t)
	f := frame(t, 0x90, 0x01, 55)

	p.Parse(f)
	clock.Advance(10 * time.Second)
	p.Parse(f)

	assert.Len(t, rec.telemetry, 1)
	assert.Equal(t, uint64(2), p.Stats().Frames)
}

func TestTelemetryIntervalOption(t *testing.T) {
	p, rec, clock := newParser(t, protocol.WithTelemetryInterval(0))

	p.Parse(frame(t, 0x90, 0x01, 1))
	p.Parse(frame(t, 0x90, 0x01, 2))
	clock.Advance(time.Millisecond)
	p.Parse(frame(t, 0x90, 0x01, 3))

	assert.Len(t, rec.telemetry, 3)
}

func TestSplitAtEveryOffsetMatchesWholeStream(t *testing.T) {
	corrupt := frame(t, 0x04, 0x33)
	corrupt[len(corrupt)-1] ^= 0x01

	stream := concat(
		[]byte{0x00, 0xAA, 0x13},
		frame(t, 0x02, 0x00, 0x04, 0x30, 0x05, 0x40),
		frame(t, 0x80, 0x02, 0x12, 0x34),
		corrupt,
		frame(t, 0x90, 0x01, 0x50, 0xA0, 0x06, 0, 1, 0, 2, 0, 3),
		[]byte{0xAA, 0x00},
		frame(t, 0x04, 0x31, 0xB0, 0x01, 0xEE),
		frame(t, 0x83, 0x18, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24),
	)

	whole, wantRec, _ := newParser(t)
	whole.Parse(stream)
	require.NotEmpty(t, wantRec.cognitive)
	require.NotEmpty(t, wantRec.telemetry)

	for cut := 0; cut <= len(stream); cut++ {
		p, rec, _ := newParser(t)
		p.Parse(stream[:cut])
		p.Parse(stream[cut:])

		require.Equal(t, wantRec, rec, "split at %d", cut)
		require.Equal(t, whole.Stats().Frames, p.Stats().Frames, "split at %d", cut)
		require.Equal(t, whole.Buffered(), p.Buffered(), "split at %d", cut)
	}

	bytewise, rec, _ := newParser(t)
	for i := range stream {
		bytewise.Parse(stream[i : i+1])
	}
	assert.Equal(t, wantRec, rec)
}

func TestCorruptedFrameDoesNotSwallowNextFrame(t *testing.T) {
	p, rec, _ := newParser(t)
	bad := frame(t, 0x04, 0x10)
	bad[4] ^= 0xFF

	p.Parse(concat(bad, frame(t, 0x04, 0x20)))

	require.Len(t, rec.cognitive, 1)
	assert.Equal(t, uint8(0x20), rec.cognitive[0].Attention)
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.ChecksumErrors)
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, uint64(len(bad)), stats.Discarded)
	assert.Zero(t, p.Buffered())
}

func TestFrameSpanningChunks(t *testing.T) {
	p, rec, _ := newParser(t)
	f := frame(t, 0x04, 0x22)

	p.Parse(f[:2])
	assert.Equal(t, 2, p.Buffered())
	p.Parse(f[2:5])
	assert.Empty(t, rec.cognitive)
	p.Parse(f[5:])

	require.Len(t, rec.cognitive, 1)
	assert.Zero(t, p.Buffered())
}

func TestTruncatedLongFieldUsesRemainingBytes(t *testing.T) {
	p, rec, _ := newParser(t)

	// declared 6 bytes, 1 present: classified as a 1-byte block
	p.Parse(frame(t, 0x04, 0x07, 0x95, 0x06, 0x30))

	require.Len(t, rec.cognitive, 1)
	assert.Empty(t, rec.gyro)
	require.NotNil(t, p.Telemetry().Battery)
	assert.Equal(t, uint8(0x30), *p.Telemetry().Battery)
}

func TestDanglingFieldCodeEndsWalk(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse(frame(t, 0x05, 0x09, 0x04))
	p.Parse(frame(t, 0x05, 0x0A, 0x95))

	require.Len(t, rec.cognitive, 2)
	assert.Equal(t, uint8(0), rec.cognitive[1].Attention)
	assert.Equal(t, uint8(0x0A), rec.cognitive[1].Meditation)
}

func TestEmptyPayloadFrame(t *testing.T) {
	p, rec, _ := newParser(t)

	p.Parse([]byte{0xAA, 0xAA, 0x00, 0xFF})

	assert.Equal(t, uint64(1), p.Stats().Frames)
	assert.Empty(t, rec.cognitive)
}

func TestHandlersAreOptional(t *testing.T) {
	p := protocol.NewParser()

	p.Parse(concat(
		frame(t, 0x04, 0x10, 0x80, 0x02, 0x00, 0x01),
		frame(t, 0xA0, 0x06, 0, 1, 0, 2, 0, 3, 0x90, 0x01, 0x20),
	))

	assert.Equal(t, uint8(0x10), p.State().Attention)
	assert.Equal(t, uint8(0x20), *p.Telemetry().Battery)
	assert.Equal(t, uint64(0), p.Stats().CognitiveEmits)
}

func TestFieldHintOverridesHeuristics(t *testing.T) {
	p, rec, _ := newParser(t,
		protocol.WithFieldHint(0x92, protocol.FieldTemperature),
		protocol.WithFieldHint(0x97, protocol.FieldVersion),
		protocol.WithFieldHint(0x98, protocol.FieldRR),
		protocol.WithFieldHint(0x99, protocol.FieldUnknown),
	)

	// 200 would be a heart rate without the hint
	payload := protocol.AppendLongField(nil, 0x92, []byte{0x00, 0xC8})
	payload = protocol.AppendLongField(payload, 0x97, []byte("v1.4.2\x00\x00"))
	payload = protocol.AppendLongField(payload, 0x98, []byte{0x03, 0x20, 0x03, 0x21, 0x03, 0x22})
	payload = protocol.AppendLongField(payload, 0x99, []byte{0x00, 0x48})
	p.Parse(frame(t, payload...))

	tel := p.Telemetry()
	require.NotNil(t, tel.Temperature)
	assert.Equal(t, 20.0, *tel.Temperature)
	require.NotNil(t, tel.Version)
	assert.Equal(t, "v1.4.2", *tel.Version)
	assert.Nil(t, tel.Heart)
	assert.Nil(t, tel.Gyro)
	assert.Equal(t, [][3]int{{800, 801, 802}}, rec.rr)
	require.Len(t, p.Unknown(), 1)
	assert.Equal(t, uint8(0x99), p.Unknown()[0].Code)
}

func TestHintedCodeWithWrongShapeIsUnknown(t *testing.T) {
	p, _, _ := newParser(t, protocol.WithFieldHint(0x92, protocol.FieldHeart))

	p.Parse(frame(t, 0x92, 0x02, 0x01, 0x6D))

	assert.Nil(t, p.Telemetry().Heart)
	assert.Nil(t, p.Telemetry().Temperature)
	assert.Len(t, p.Unknown(), 1)
}

func TestInvalidHintIgnored(t *testing.T) {
	p, _, _ := newParser(t, protocol.WithFieldHint(protocol.CodeBandPower, protocol.FieldGyro))
	state := protocol.CognitiveState{Delta: 1}

	p.Parse(frame(t, protocol.AppendLongField(nil, protocol.CodeBandPower, protocol.EncodeBandPowers(state))...))

	assert.Equal(t, uint32(1), p.State().Delta)
	assert.Nil(t, p.Telemetry().Gyro)
}

func TestDeliveredTelemetryIsStable(t *testing.T) {
	p, rec, clock := newParser(t)

	p.Parse(frame(t, 0x90, 0x01, 60))
	require.Len(t, rec.telemetry, 1)
	first := rec.telemetry[0]

	clock.Advance(time.Minute)
	p.Parse(frame(t, 0x90, 0x01, 59))

	require.Len(t, rec.telemetry, 2)
	assert.Equal(t, uint8(60), *first.Battery)
	assert.Equal(t, uint8(59), *rec.telemetry[1].Battery)
}

func ptr[T any](v T) *T {
	return &v
}
