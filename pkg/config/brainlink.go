package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"brainlink/pkg/logging"
	"brainlink/pkg/protocol"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "brainlink.toml"

const (
	EnvAddr     = "BRAINLINK_ADDR"
	EnvLogLevel = logging.EnvLogLevel
	EnvDebug    = "BRAINLINK_DEBUG"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Device   DeviceConfig   `toml:"device" yaml:"device"`
	Decoder  DecoderConfig  `toml:"decoder" yaml:"decoder"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Record   RecordConfig   `toml:"record" yaml:"record"`
	HTTP     HTTPConfig     `toml:"http" yaml:"http"`
	Foxglove FoxgloveConfig `toml:"foxglove" yaml:"foxglove"`

	configPath string `toml:"-" yaml:"-"`
}

type DeviceConfig struct {
	Name         string `toml:"name" yaml:"name"`
	Addr         string `toml:"addr" yaml:"addr"`
	Reconnect    string `toml:"reconnect" yaml:"reconnect"`
	ReconnectMax string `toml:"reconnect_max" yaml:"reconnect_max"`
	ReadBuf      int    `toml:"read_buf" yaml:"read_buf"`
	ChunkBuf     int    `toml:"chunk_buf" yaml:"chunk_buf"`
}

type DecoderConfig struct {
	Debug             bool         `toml:"debug" yaml:"debug"`
	TelemetryInterval string       `toml:"telemetry_interval" yaml:"telemetry_interval"`
	Raw               bool         `toml:"raw" yaml:"raw"`
	Hints             []HintConfig `toml:"hints,omitempty" yaml:"hints,omitempty"`
}

// HintConfig binds an extended field code to a fixed interpretation.
type HintConfig struct {
	Code uint16 `toml:"code" yaml:"code"`
	Kind string `toml:"kind" yaml:"kind"`
}

type LogConfig struct {
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`
	NoColor bool   `toml:"no_color" yaml:"no_color"`
}

type RecordConfig struct {
	JSONL      string `toml:"jsonl" yaml:"jsonl"`
	ArchiveDir string `toml:"archive_dir" yaml:"archive_dir"`
	ArchiveRaw bool   `toml:"archive_raw" yaml:"archive_raw"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

type FoxgloveConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	WSAddr      string `toml:"ws_addr" yaml:"ws_addr"`
	TopicPrefix string `toml:"topic_prefix" yaml:"topic_prefix"`
	SendBuf     int    `toml:"send_buf" yaml:"send_buf"`
}

func Default() Config {
	return Config{
		Device: DeviceConfig{
			Name:         "brainlink",
			Addr:         "127.0.0.1:5331",
			Reconnect:    "1s",
			ReconnectMax: "30s",
			ReadBuf:      4 * 1024,
			ChunkBuf:     256,
		},
		Decoder: DecoderConfig{
			TelemetryInterval: protocol.DefaultTelemetryInterval.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Foxglove: FoxgloveConfig{
			WSAddr:      "127.0.0.1:8765",
			TopicPrefix: "/brainlink",
			SendBuf:     512,
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path if it exists, fills unset values with defaults and
// applies environment overrides. A .env file beside the config is loaded first
// without replacing variables already set.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path
	loadDotEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			cfg.applyEnv()
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := unmarshal(path, data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return toml.Unmarshal(data, cfg)
}

func marshal(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return toml.Marshal(cfg)
}

func loadDotEnv(path string) {
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}
}

func (cfg *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Device.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDebug)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Decoder.Debug = b
		}
	}
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	sort.SliceStable(cfg.Decoder.Hints, func(i, j int) bool {
		return cfg.Decoder.Hints[i].Code < cfg.Decoder.Hints[j].Code
	})

	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	durations := []struct {
		key   string
		value string
	}{
		{"device.reconnect", cfg.Device.Reconnect},
		{"device.reconnect_max", cfg.Device.ReconnectMax},
		{"decoder.telemetry_interval", cfg.Decoder.TelemetryInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
		if v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalid, d.key)
		}
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("%w: log.level %q", ErrInvalid, cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, cfg.Log.Format)
	}
	if _, err := cfg.FieldHints(); err != nil {
		return err
	}
	return nil
}

// FieldHints converts the configured hints for the parser.
func (cfg *Config) FieldHints() (protocol.FieldHints, error) {
	hints := make(protocol.FieldHints, len(cfg.Decoder.Hints))
	for _, h := range cfg.Decoder.Hints {
		if h.Code > 0xFF {
			return nil, fmt.Errorf("%w: hint code out of range: 0x%x", ErrInvalid, h.Code)
		}
		code := byte(h.Code)
		if _, dup := hints[code]; dup {
			return nil, fmt.Errorf("%w: duplicate hint code: 0x%02x", ErrInvalid, code)
		}
		kind, err := protocol.ParseFieldKind(h.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: hint 0x%02x: %v", ErrInvalid, code, err)
		}
		if err := hints.Register(code, kind); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return hints, nil
}

func (cfg *Config) ReconnectInterval() time.Duration {
	return mustDuration(cfg.Device.Reconnect)
}

func (cfg *Config) ReconnectMax() time.Duration {
	return mustDuration(cfg.Device.ReconnectMax)
}

func (cfg *Config) TelemetryInterval() time.Duration {
	return mustDuration(cfg.Decoder.TelemetryInterval)
}

// mustDuration is only called on validated values.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// LoggingOptions maps the [log] section onto the logging package.
func (cfg *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		NoColor: cfg.Log.NoColor,
	}
}

func (cfg *Config) normalize(path string) {
	def := Default()

	if cfg.Device.Name == "" {
		cfg.Device.Name = def.Device.Name
	}
	if cfg.Device.Addr == "" {
		cfg.Device.Addr = def.Device.Addr
	}
	if cfg.Device.Reconnect == "" {
		cfg.Device.Reconnect = def.Device.Reconnect
	}
	if cfg.Device.ReconnectMax == "" {
		cfg.Device.ReconnectMax = def.Device.ReconnectMax
	}
	if cfg.Device.ReadBuf <= 0 {
		cfg.Device.ReadBuf = def.Device.ReadBuf
	}
	if cfg.Device.ChunkBuf <= 0 {
		cfg.Device.ChunkBuf = def.Device.ChunkBuf
	}

	if cfg.Decoder.TelemetryInterval == "" {
		cfg.Decoder.TelemetryInterval = def.Decoder.TelemetryInterval
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = def.HTTP.Addr
	}

	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}
	if cfg.Foxglove.TopicPrefix == "" {
		cfg.Foxglove.TopicPrefix = def.Foxglove.TopicPrefix
	}
	cfg.Foxglove.TopicPrefix = "/" + strings.Trim(cfg.Foxglove.TopicPrefix, "/")
	if cfg.Foxglove.SendBuf <= 0 {
		cfg.Foxglove.SendBuf = def.Foxglove.SendBuf
	}

	for i := range cfg.Decoder.Hints {
		cfg.Decoder.Hints[i].Kind = strings.ToLower(strings.TrimSpace(cfg.Decoder.Hints[i].Kind))
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path
}
