package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"brainlink/pkg/metrics"
	"brainlink/pkg/protocol"
	"brainlink/pkg/transport"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats protocol.Stats

func (s fixedStats) Stats() protocol.Stats { return protocol.Stats(s) }

type fixedDrops struct{ published, delivered uint64 }

func (d fixedDrops) Drops() (uint64, uint64) { return d.published, d.delivered }

func TestDecoderCountersScraped(t *testing.T) {
	m := metrics.New(
		fixedStats{BytesIn: 120, Frames: 9, ChecksumErrors: 2, CognitiveEmits: 4, TelemetryEmits: 1},
		fixedDrops{published: 3, delivered: 5},
	)

	expected := `
# HELP brainlink_decoder_frames_total Frames that passed checksum validation.
# TYPE brainlink_decoder_frames_total counter
brainlink_decoder_frames_total 9
# HELP brainlink_decoder_checksum_errors_total Frames rejected by checksum.
# TYPE brainlink_decoder_checksum_errors_total counter
brainlink_decoder_checksum_errors_total 2
# HELP brainlink_decoder_emits_total Handler emissions after change gating.
# TYPE brainlink_decoder_emits_total counter
brainlink_decoder_emits_total{kind="cognitive"} 4
brainlink_decoder_emits_total{kind="telemetry"} 1
# HELP brainlink_hub_drops_total Readings dropped by the fan-out hub.
# TYPE brainlink_hub_drops_total counter
brainlink_hub_drops_total{stage="deliver"} 5
brainlink_hub_drops_total{stage="publish"} 3
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"brainlink_decoder_frames_total",
		"brainlink_decoder_checksum_errors_total",
		"brainlink_decoder_emits_total",
		"brainlink_hub_drops_total",
	)
	require.NoError(t, err)
}

func TestLinkAndChunkMetrics(t *testing.T) {
	m := metrics.New(nil, nil)

	m.ObserveLink(transport.StateConnected)
	m.ObserveLink(transport.StateDisconnected)
	m.ObserveLink(transport.StateConnected)
	m.ObserveChunk(64)
	m.ObserveChunk(900)

	count, err := testutil.GatherAndCount(m.Registry(), "brainlink_link_chunk_bytes")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expected := `
# HELP brainlink_link_connected 1 while the headset link is connected.
# TYPE brainlink_link_connected gauge
brainlink_link_connected 1
# HELP brainlink_link_connects_total Successful connections to the headset link.
# TYPE brainlink_link_connects_total counter
brainlink_link_connects_total 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"brainlink_link_connected", "brainlink_link_connects_total"))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := metrics.New(fixedStats{Frames: 1}, nil)
	m.RecordHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `brainlink_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
	assert.Contains(t, string(body), "brainlink_decoder_frames_total 1")
	assert.NotContains(t, string(body), "brainlink_hub_drops_total")
}
