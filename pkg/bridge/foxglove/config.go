package foxglove

import "strings"

const Subprotocol = "foxglove.websocket.v1"

const (
	cognitiveSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } },
    "signal": { "type": "integer" },
    "attention": { "type": "integer" },
    "meditation": { "type": "integer" },
    "delta": { "type": "integer" },
    "theta": { "type": "integer" },
    "low_alpha": { "type": "integer" },
    "high_alpha": { "type": "integer" },
    "low_beta": { "type": "integer" },
    "high_beta": { "type": "integer" },
    "low_gamma": { "type": "integer" },
    "high_gamma": { "type": "integer" }
  }
}`

	telemetrySchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "battery": { "type": "integer" },
    "temperature": { "type": "number" },
    "heart": { "type": "integer" },
    "gyro": { "type": "object", "properties": { "x": { "type": "integer" }, "y": { "type": "integer" }, "z": { "type": "integer" } } },
    "rr": { "type": "array", "items": { "type": "integer" } },
    "version": { "type": "string" },
    "unknown": { "type": "object", "additionalProperties": true }
  }
}`

	rawSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "value": { "type": "integer" }
  },
  "required": ["value"]
}`

	gyroSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "x": { "type": "integer" },
    "y": { "type": "integer" },
    "z": { "type": "integer" }
  }
}`

	temperatureSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "value": { "type": "number" },
    "unit": { "type": "string" }
  }
}`

	logSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  }
}`
)

// Channel IDs are fixed so layouts saved in Foxglove keep working.
const (
	ChannelCognitive uint64 = iota + 1
	ChannelTelemetry
	ChannelRaw
	ChannelGyro
	ChannelTemperature
	ChannelLog
)

type Config struct {
	WSAddr      string
	Name        string
	TopicPrefix string
	SendBuf     int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:      "127.0.0.1:8765",
		Name:        "brainlink",
		TopicPrefix: "/brainlink",
		SendBuf:     512,
	}
}

func (c Config) topic(name string) string {
	return strings.TrimRight(c.TopicPrefix, "/") + "/" + name
}
