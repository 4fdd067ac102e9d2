package engine_test

import (
	"context"
	"testing"
	"time"

	"brainlink/pkg/engine"
	"brainlink/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, payload ...byte) []byte {
	t.Helper()
	f, err := protocol.EncodeFrame(payload)
	require.NoError(t, err)
	return f
}

func collect(t *testing.T, ch <-chan protocol.Reading, n int) []protocol.Reading {
	t.Helper()
	out := make([]protocol.Reading, 0, n)
	timeout := time.After(time.Second)
	for len(out) < n {
		select {
		case r := <-ch:
			out = append(out, r)
		case <-timeout:
			t.Fatalf("got %d of %d readings", len(out), n)
		}
	}
	return out
}

func TestBindPublishesReadings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := engine.NewHub()
	go hub.Run(ctx)
	sub := hub.Subscribe()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	latest := engine.NewLatest()
	p := protocol.NewParser(engine.Bind(hub, engine.BindOptions{
		Raw:    true,
		Latest: latest,
		Now:    func() time.Time { return at },
	})...)

	p.Parse(encode(t, 0x04, 0x40))
	p.Parse(encode(t, 0x80, 0x02, 0xFF, 0xFE))
	p.Parse(encode(t, 0x90, 0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03))

	got := collect(t, sub, 4)
	kinds := make([]protocol.Kind, len(got))
	for i, r := range got {
		kinds[i] = r.Kind
		assert.Equal(t, at, r.Timestamp)
	}
	assert.Equal(t, []protocol.Kind{
		protocol.KindCognitive,
		protocol.KindRaw,
		protocol.KindGyro,
		protocol.KindTelemetry,
	}, kinds)
	assert.Equal(t, protocol.RawSample(-2), got[1].Data)
	assert.Equal(t, protocol.Gyro{X: 1, Y: 2, Z: 3}, got[2].Data)

	snap := latest.Snapshot()
	require.NotNil(t, snap.Cognitive)
	assert.Equal(t, uint8(0x40), snap.Cognitive.Attention)
	require.NotNil(t, snap.Telemetry)
	require.NotNil(t, snap.Telemetry.Gyro)
}

func TestBindSkipsRawByDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := engine.NewHub()
	go hub.Run(ctx)
	sub := hub.Subscribe()
	p := protocol.NewParser(engine.Bind(hub, engine.BindOptions{})...)

	p.Parse(encode(t, 0x80, 0x02, 0x00, 0x01))
	p.Parse(encode(t, 0x05, 0x11))

	got := collect(t, sub, 1)
	assert.Equal(t, protocol.KindCognitive, got[0].Kind)
	assert.Equal(t, uint64(1), p.Stats().RawSamples)
}

func TestBindNeverBlocksDecoder(t *testing.T) {
	hub := engine.NewHub(engine.WithBroadcastBuffer(1))
	p := protocol.NewParser(engine.Bind(hub, engine.BindOptions{Raw: true})...)

	var stream []byte
	for i := 0; i < 100; i++ {
		stream = append(stream, encode(t, 0x80, 0x02, 0x00, byte(i))...)
	}

	done := make(chan struct{})
	go func() {
		p.Parse(stream)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("decoder blocked on a full hub")
	}
	published, _ := hub.Drops()
	assert.Equal(t, uint64(99), published)
}
