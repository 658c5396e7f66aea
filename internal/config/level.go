package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// ParseLevel accepts slog level names plus WARNING and CRITICAL.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}

func (l LoggingConfig) ResponseRecorded() bool { return l.RecordResponse == nil || *l.RecordResponse }
func (l LoggingConfig) HeadersRecorded() bool { return l.RecordHeaders == nil || *l.RecordHeaders }
func (l LoggingConfig) UserAgentRecorded() bool { return l.RecordUserAgent == nil || *l.RecordUserAgent }
func (r ReplayConfig) On() bool { return r.Enabled == nil || *r.Enabled }
func (f FileSinkConfig) Compressed() bool { return f.Compress == nil || *f.Compress }
