package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"brainlink/pkg/protocol"
)

const (
	mockRawRateHz   = 512
	mockTicksPerSec = 64

	mockAlphaHz       = 10.0
	mockAlphaAmpl     = 180.0
	mockBetaHz        = 21.0
	mockBetaAmpl      = 60.0
	mockAttentionHz   = 0.05
	mockMeditationHz  = 0.03
	mockMeditationPhi = math.Pi / 2.0

	// Extended codes the mock uses; the classifier keys on block shape only.
	mockCodeBattery     byte = 0x84
	mockCodeHeart       byte = 0x85
	mockCodeTemperature byte = 0x86
	mockCodeGyro        byte = 0x87
)

func (a *app) newMockCmd() *cobra.Command {
	var (
		addr string
		rate int
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a synthetic headset stream over TCP",
		Long: `Listen on --addr and stream synthetic headset frames to every client:
raw samples at --rate Hz plus one state frame per second with signal,
attention, meditation, band powers and slow telemetry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Device.Addr
			}
			if rate <= 0 {
				return usagef("--rate must be positive")
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("mock: listen %s: %w", addr, err)
			}
			log.Info().Stringer("addr", ln.Addr()).Int("rate", rate).Msg("mock headset listening")
			return serveMock(cmd.Context(), ln, rate, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default device.addr)")
	cmd.Flags().IntVar(&rate, "rate", mockRawRateHz, "raw samples per second")
	return cmd
}

// serveMock accepts clients until ctx is done and streams to each one.
func serveMock(ctx context.Context, ln net.Listener, rate int, log zerolog.Logger) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mock: accept: %w", err)
		}
		go func() {
			defer conn.Close()
			closeConn := context.AfterFunc(ctx, func() {
				_ = conn.Close()
			})
			defer closeConn()

			log.Info().Stringer("remote", conn.RemoteAddr()).Msg("mock client connected")
			err := runMockStream(ctx, conn, rate, time.Now)
			if err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Info().Err(err).Stringer("remote", conn.RemoteAddr()).Msg("mock client gone")
			}
		}()
	}
}

// runMockStream writes frames to w in real time until ctx is done or a write
// fails. Raw samples go out in small batches so the stream looks like a UART
// drained by a bridge.
func runMockStream(ctx context.Context, w io.Writer, rate int, now func() time.Time) error {
	interval := time.Second / mockTicksPerSec
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	bw := bufio.NewWriter(w)
	start := now()
	var sample, second int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			elapsed := now().Sub(start).Seconds()
			due := int64(elapsed * float64(rate))
			for ; sample < due; sample++ {
				t := float64(sample) / float64(rate)
				if _, err := bw.Write(mockRawFrame(mockRaw(t))); err != nil {
					return err
				}
			}
			if int64(elapsed) >= second {
				frame := mockStateFrame(mockState(elapsed), mockTelemetry(second))
				if _, err := bw.Write(frame); err != nil {
					return err
				}
				second++
			}
			if err := bw.Flush(); err != nil {
				return err
			}
		}
	}
}

func mockRaw(t float64) int16 {
	v := mockAlphaAmpl*math.Sin(2.0*math.Pi*mockAlphaHz*t) +
		mockBetaAmpl*math.Sin(2.0*math.Pi*mockBetaHz*t)
	return int16(math.Round(v))
}

func mockRawFrame(v int16) []byte {
	block := binary.BigEndian.AppendUint16(nil, uint16(v))
	frame, _ := protocol.EncodeFrame(protocol.AppendLongField(nil, protocol.CodeRaw, block))
	return frame
}

// mockState drifts attention and meditation slowly between 20 and 80 and
// derives band powers from them.
func mockState(t float64) protocol.CognitiveState {
	attention := 50.0 + 30.0*math.Sin(2.0*math.Pi*mockAttentionHz*t)
	meditation := 50.0 + 30.0*math.Sin(2.0*math.Pi*mockMeditationHz*t+mockMeditationPhi)
	scale := func(base, weight float64) uint32 {
		return uint32(base * (0.5 + weight/100.0))
	}
	return protocol.CognitiveState{
		Signal:     0,
		Attention:  uint8(math.Round(attention)),
		Meditation: uint8(math.Round(meditation)),
		Delta:      scale(900000, 100-attention),
		Theta:      scale(300000, meditation),
		LowAlpha:   scale(60000, meditation),
		HighAlpha:  scale(40000, meditation),
		LowBeta:    scale(30000, attention),
		HighBeta:   scale(25000, attention),
		LowGamma:   scale(12000, attention),
		HighGamma:  scale(6000, attention),
	}
}

type mockTelemetryValues struct {
	battery     uint8
	heart       uint16
	temperature uint16
	gyro        protocol.Gyro
}

func mockTelemetry(second int64) mockTelemetryValues {
	t := float64(second)
	return mockTelemetryValues{
		battery:     uint8(100 - min(second/60, 100)),
		heart:       uint16(70 + 5*math.Sin(t/10.0)),
		temperature: uint16(365 + 2*math.Sin(t/30.0)),
		gyro: protocol.Gyro{
			X: int16(100 * math.Sin(t/5.0)),
			Y: int16(100 * math.Cos(t/5.0)),
			Z: int16(second % 50),
		},
	}
}

func mockStateFrame(s protocol.CognitiveState, tel mockTelemetryValues) []byte {
	payload := protocol.AppendShortField(nil, protocol.CodeSignal, s.Signal)
	payload = protocol.AppendShortField(payload, protocol.CodeAttention, s.Attention)
	payload = protocol.AppendShortField(payload, protocol.CodeMeditation, s.Meditation)
	payload = protocol.AppendLongField(payload, protocol.CodeBandPower, protocol.EncodeBandPowers(s))
	payload = protocol.AppendLongField(payload, mockCodeBattery, []byte{tel.battery})
	payload = protocol.AppendLongField(payload, mockCodeHeart, binary.BigEndian.AppendUint16(nil, tel.heart))
	payload = protocol.AppendLongField(payload, mockCodeTemperature, binary.BigEndian.AppendUint16(nil, tel.temperature))

	gyro := binary.BigEndian.AppendUint16(nil, uint16(tel.gyro.X))
	gyro = binary.BigEndian.AppendUint16(gyro, uint16(tel.gyro.Y))
	gyro = binary.BigEndian.AppendUint16(gyro, uint16(tel.gyro.Z))
	payload = protocol.AppendLongField(payload, mockCodeGyro, gyro)

	frame, _ := protocol.EncodeFrame(payload)
	return frame
}
