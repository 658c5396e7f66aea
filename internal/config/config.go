package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Replay  ReplayConfig  `yaml:"replay"`
	Sink    SinkConfig    `yaml:"sink"`
	Routes  []RouteConfig `yaml:"routes"`
}

type ServerConfig struct {
	Addr                     string   `yaml:"addr"`
	TrustedProxies           []string `yaml:"trusted_proxies"`
	MaxHeaderBytes           int      `yaml:"max_header_bytes"`
	ReadTimeoutSeconds       int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds      int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int      `yaml:"idle_timeout_seconds"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `yaml:"shutdown_timeout_seconds"`
}

type LoggingConfig struct {
	Mode                   string   `yaml:"mode"` // "centralized" | "scattered"
	ExcludePaths           []string `yaml:"exclude_paths"`
	RecordResponse         *bool    `yaml:"record_response"`
	RecordHeaders          *bool    `yaml:"record_headers"`
	RecordUserAgent        *bool    `yaml:"record_user_agent"`
	HeaderKeys             []string `yaml:"header_keys"`
	RecordTokenSubject     bool     `yaml:"record_token_subject"`
	TraceIDFormat          string   `yaml:"trace_id_format"` // "uuid" | "ulid"
	MaxResponseRecordBytes int      `yaml:"max_response_record_bytes"`
	Level                  string   `yaml:"level"`
	Format                 string   `yaml:"format"` // "json" | "text"
}

type ReplayConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	OnTooLarge   string `yaml:"on_too_large"` // "reject" | "passthrough"
}

type SinkConfig struct {
	Backend string          `yaml:"backend"` // "slog" | "zap"
	Stdout  bool            `yaml:"stdout"`
	File    FileSinkConfig  `yaml:"file"`
	Async   AsyncConfig     `yaml:"async"`
	Redis   RedisSinkConfig `yaml:"redis"`
}

type FileSinkConfig struct {
	Dir         string `yaml:"dir"`
	ProjectSlug string `yaml:"project_slug"`
	RotateAt    string `yaml:"rotate_at"` // "HH:MM", "" disables time rotation
	MaxSizeMB   int    `yaml:"max_size_mb"`
	Retention   int    `yaml:"retention"`
	Compress    *bool  `yaml:"compress"`
}

type AsyncConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

type RedisSinkConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	MaxLen   int64         `yaml:"max_len"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	OpenSeconds      int `yaml:"open_seconds"`
}

type RouteConfig struct {
	Name        string      `yaml:"name"`
	Match       MatchConfig `yaml:"match"`
	Upstream    string      `yaml:"upstream"`
	StripPrefix string      `yaml:"strip_prefix"`
}

type MatchConfig struct {
	PathPrefix string `yaml:"path_prefix"`
}

// envOverlay holds the settings that may come from the environment. Unset
// variables leave the file values alone.
type envOverlay struct {
	Mode           *string  `envconfig:"LOG_MODEL"`
	ProjectSlug    *string  `envconfig:"LOG_PROJECT_SLUG"`
	FilePath       *string  `envconfig:"LOG_FILE_PATH"`
	Rotation       *string  `envconfig:"LOG_FILE_ROTATION"`
	Retention      *int     `envconfig:"LOG_FILE_RETENTION"`
	Level          *string  `envconfig:"LOG_FILE_LEVEL"`
	HeaderKeys     []string `envconfig:"NESS_ACCESS_HEADS_KEYS"`
	RecordResponse *bool    `envconfig:"IS_RECORD_RESPONSE"`
	RecordHeaders  *bool    `envconfig:"IS_RECORD_HEADERS"`
	RecordUA       *bool    `envconfig:"IS_RECORD_UA"`
	ExcludePaths   []string `envconfig:"FLITER_REQUEST_URL"`
	Addr           *string  `envconfig:"SERVER_ADDR"`
	RedisAddr      *string  `envconfig:"REDIS_ADDR"`
}

const EnvPrefix = "REQLOG"

// DefaultExcludePaths are never recorded unless logging.exclude_paths is set.
var DefaultExcludePaths = []string{"/favicon.ico", "/docs", "/", "/openapi.json", "/health_checks"}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20 // 1 MiB
	}
	if cfg.Server.ReadHeaderTimeoutSeconds == 0 {
		cfg.Server.ReadHeaderTimeoutSeconds = 5
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 60
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 60
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}

	l := &cfg.Logging
	if l.Mode == "" {
		l.Mode = "centralized"
	}
	if l.ExcludePaths == nil {
		l.ExcludePaths = append([]string(nil), DefaultExcludePaths...)
	}
	l.RecordResponse = boolDefault(l.RecordResponse, true)
	l.RecordHeaders = boolDefault(l.RecordHeaders, true)
	l.RecordUserAgent = boolDefault(l.RecordUserAgent, true)
	if l.TraceIDFormat == "" {
		l.TraceIDFormat = "uuid"
	}
	if l.MaxResponseRecordBytes == 0 {
		l.MaxResponseRecordBytes = 64 << 10
	}
	if l.Level == "" {
		l.Level = "INFO"
	}
	if l.Format == "" {
		l.Format = "json"
	}

	cfg.Replay.Enabled = boolDefault(cfg.Replay.Enabled, true)
	if cfg.Replay.MaxBodyBytes == 0 {
		cfg.Replay.MaxBodyBytes = 1 << 20 // 1 MiB
	}
	if cfg.Replay.OnTooLarge == "" {
		cfg.Replay.OnTooLarge = "reject"
	}

	s := &cfg.Sink
	if s.Backend == "" {
		s.Backend = "slog"
	}
	if s.File.Dir == "" {
		s.File.Dir = "."
	}
	if s.File.ProjectSlug == "" {
		s.File.ProjectSlug = "info"
	}
	if s.File.RotateAt == "" {
		s.File.RotateAt = "00:00"
	}
	if s.File.MaxSizeMB == 0 {
		s.File.MaxSizeMB = 100
	}
	if s.File.Retention == 0 {
		s.File.Retention = 8
	}
	s.File.Compress = boolDefault(s.File.Compress, true)
	if s.Async.QueueSize == 0 {
		s.Async.QueueSize = 4096
	}
	if s.Async.Workers == 0 {
		s.Async.Workers = 1
	}
	if s.Redis.Key == "" {
		s.Redis.Key = "reqlog:entries"
	}
	if s.Redis.MaxLen == 0 {
		s.Redis.MaxLen = 10000
	}
	if s.Redis.Breaker.FailureThreshold == 0 {
		s.Redis.Breaker.FailureThreshold = 5
	}
	if s.Redis.Breaker.OpenSeconds == 0 {
		s.Redis.Breaker.OpenSeconds = 10
	}
}

func applyEnv(cfg *Config) error {
	var ov envOverlay
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	setString(&cfg.Logging.Mode, ov.Mode)
	setString(&cfg.Sink.File.ProjectSlug, ov.ProjectSlug)
	setString(&cfg.Sink.File.Dir, ov.FilePath)
	setString(&cfg.Sink.File.RotateAt, ov.Rotation)
	setString(&cfg.Logging.Level, ov.Level)
	setString(&cfg.Server.Addr, ov.Addr)
	if ov.Retention != nil {
		cfg.Sink.File.Retention = *ov.Retention
	}
	if ov.HeaderKeys != nil {
		cfg.Logging.HeaderKeys = ov.HeaderKeys
	}
	if ov.ExcludePaths != nil {
		cfg.Logging.ExcludePaths = ov.ExcludePaths
	}
	if ov.RecordResponse != nil {
		cfg.Logging.RecordResponse = ov.RecordResponse
	}
	if ov.RecordHeaders != nil {
		cfg.Logging.RecordHeaders = ov.RecordHeaders
	}
	if ov.RecordUA != nil {
		cfg.Logging.RecordUserAgent = ov.RecordUA
	}
	if ov.RedisAddr != nil {
		cfg.Sink.Redis.Enabled = true
		cfg.Sink.Redis.Addr = *ov.RedisAddr
	}
	return nil
}

func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Mode)) {
	case "centralized", "scattered":
	default:
		return fmt.Errorf("logging.mode must be 'centralized' or 'scattered'")
	}
	switch strings.ToLower(cfg.Logging.TraceIDFormat) {
	case "uuid", "ulid":
	default:
		return fmt.Errorf("logging.trace_id_format must be 'uuid' or 'ulid'")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if cfg.Replay.MaxBodyBytes < 0 {
		return errors.New("replay.max_body_bytes must be >= 0")
	}
	switch strings.ToLower(cfg.Replay.OnTooLarge) {
	case "reject", "passthrough":
	default:
		return fmt.Errorf("replay.on_too_large must be 'reject' or 'passthrough'")
	}

	switch strings.ToLower(cfg.Sink.Backend) {
	case "slog", "zap":
	default:
		return fmt.Errorf("sink.backend must be 'slog' or 'zap'")
	}
	if cfg.Sink.File.RotateAt != "" {
		if _, err := time.Parse("15:04", cfg.Sink.File.RotateAt); err != nil {
			return fmt.Errorf("sink.file.rotate_at must be HH:MM: %v", err)
		}
	}
	if cfg.Sink.Redis.Enabled && strings.TrimSpace(cfg.Sink.Redis.Addr) == "" {
		return errors.New("sink.redis.addr is required when sink.redis.enabled")
	}

	seenNames := map[string]struct{}{}
	for i, r := range cfg.Routes {
		idx := fmt.Sprintf("routes[%d]", i)
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("%s.name is required", idx)
		}
		if _, ok := seenNames[name]; ok {
			return fmt.Errorf("duplicate route name: %q", name)
		}
		seenNames[name] = struct{}{}

		pp := strings.TrimSpace(r.Match.PathPrefix)
		if pp == "" || !strings.HasPrefix(pp, "/") {
			return fmt.Errorf("%s.match.path_prefix must start with '/'", idx)
		}
		if r.Upstream == "" {
			return fmt.Errorf("%s.upstream is required", idx)
		}
		if _, err := url.Parse(r.Upstream); err != nil {
			return fmt.Errorf("%s.upstream invalid: %v", idx, err)
		}
		if r.StripPrefix != "" && !strings.HasPrefix(r.StripPrefix, "/") {
			return fmt.Errorf("%s.strip_prefix must start with '/' if set", idx)
		}
	}
	return nil
}

func boolDefault(p *bool, def bool) *bool {
	if p != nil {
		return p
	}
	return &def
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}
