package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferOf(b ...byte) *buffer {
	buf := &buffer{}
	buf.write(b)
	return buf
}

func TestNextFrameWaitsForHeader(t *testing.T) {
	for _, in := range [][]byte{{}, {Sync}, {Sync, Sync}, {Sync, Sync, 0x01}} {
		buf := bufferOf(in...)
		payload, res, discarded := nextFrame(buf)
		assert.Nil(t, payload)
		assert.Equal(t, needMore, res)
		assert.Zero(t, discarded)
		assert.Equal(t, len(in), buf.len())
	}
}

func TestNextFrameWaitsForBody(t *testing.T) {
	buf := bufferOf(Sync, Sync, 0x05, 0x04, 0x01)

	_, res, _ := nextFrame(buf)

	assert.Equal(t, needMore, res)
	assert.Equal(t, 5, buf.len())
}

func TestNextFrameSkipsToSync(t *testing.T) {
	f, err := EncodeFrame([]byte{0x04, 0x01})
	require.NoError(t, err)
	buf := bufferOf(append([]byte{0x01, Sync, 0x02, 0x03}, f...)...)

	payload, res, discarded := nextFrame(buf)

	assert.Equal(t, extracted, res)
	assert.Equal(t, 4, discarded)
	assert.Equal(t, []byte{0x04, 0x01}, payload)
	assert.Zero(t, buf.len())
}

func TestNextFrameKeepsTrailingSync(t *testing.T) {
	buf := bufferOf(0x10, 0x11, Sync)

	_, res, discarded := nextFrame(buf)

	assert.Equal(t, needMore, res)
	assert.Equal(t, 2, discarded)
	assert.Equal(t, []byte{Sync}, buf.bytes())
}

func TestChecksumFailureDiscardsOneByte(t *testing.T) {
	payload := []byte{0x02, 0x00, 0x04, 0x33, 0x05, 0x44, 0x91, 0x01, 0x50}
	good, err := EncodeFrame(payload)
	require.NoError(t, err)

	for i := HeaderLen; i < HeaderLen+len(payload); i++ {
		corrupt := append([]byte(nil), good...)
		corrupt[i] ^= 0x5A
		buf := bufferOf(corrupt...)

		got, res, discarded := nextFrame(buf)

		require.Equal(t, rejected, res, "byte %d", i)
		require.Nil(t, got)
		require.Equal(t, 1, discarded, "byte %d", i)
		require.Equal(t, corrupt[1:], buf.bytes(), "byte %d", i)
	}
}

func TestChecksumFailureRecoversOverlappingFrame(t *testing.T) {
	inner, err := EncodeFrame([]byte{0x04, 0x07})
	require.NoError(t, err)
	// the outer frame claims the inner one as its payload but has a bad trailer
	stream := append([]byte{Sync, Sync, byte(len(inner))}, inner...)
	stream = append(stream, 0x00)
	buf := bufferOf(stream...)

	_, res, _ := nextFrame(buf)
	require.Equal(t, rejected, res)

	payload, res, discarded := nextFrame(buf)
	require.Equal(t, extracted, res)
	assert.Equal(t, 2, discarded)
	assert.Equal(t, []byte{0x04, 0x07}, payload)
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	_, err := EncodeFrame(make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	f, err := EncodeFrame(make([]byte, MaxPayloadLen))
	require.NoError(t, err)
	assert.Len(t, f, HeaderLen+MaxPayloadLen+1)
}

func TestChecksumMatchesComplement(t *testing.T) {
	payload := []byte{0xFF, 0xFF, 0x03}
	assert.Equal(t, byte(0xFF-((0xFF+0xFF+0x03)&0xFF)), Checksum(payload))
	assert.Equal(t, byte(0xFF), sum(payload)+Checksum(payload))
}

func TestBufferCompactsOnlyWhenGrowing(t *testing.T) {
	b := buffer{data: make([]byte, 0, 8)}
	b.write([]byte{1, 2, 3, 4})
	b.discard(3)
	assert.Equal(t, []byte{4}, b.bytes())
	assert.Equal(t, 3, b.off)

	b.write([]byte{5, 6})
	assert.Equal(t, 3, b.off, "fits without growing")

	b.write([]byte{7, 8, 9})
	assert.Zero(t, b.off)
	assert.Equal(t, []byte{4, 5, 6, 7, 8, 9}, b.bytes())
	assert.Equal(t, 8, cap(b.data))

	b.discard(b.len())
	assert.Zero(t, b.len())
	assert.Zero(t, b.off)
}
