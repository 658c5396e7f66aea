package sink

import (
	"io"
	"log/slog"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapOptions struct {
	Level    slog.Level
	Buffered bool
	Notifier *Notifier
	Metrics  *Metrics
}

// ZapSink renders entries with zap's JSON encoder.
type ZapSink struct {
	logger   *zap.Logger
	buffered *zapcore.BufferedWriteSyncer
	metrics  *Metrics
}

func NewZap(w io.Writer, opts ZapOptions) *ZapSink {
	var ws zapcore.WriteSyncer = zapcore.AddSync(w)
	s := &ZapSink{metrics: opts.Metrics}
	if opts.Buffered {
		s.buffered = &zapcore.BufferedWriteSyncer{WS: ws, Size: 256 << 10, FlushInterval: time.Second}
		ws = s.buffered
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  zapcore.OmitKey,
		CallerKey:      zapcore.OmitKey,
		FunctionKey:    zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	})
	core := zapcore.NewCore(enc, ws, zapLevel(opts.Level))

	var errOut zapcore.WriteSyncer = zapcore.AddSync(io.Discard)
	if opts.Notifier != nil {
		errOut = zapcore.AddSync(failureWriter{sink: "zap", metrics: opts.Metrics, notifier: opts.Notifier})
	}
	s.logger = zap.New(core, zap.ErrorOutput(errOut))
	return s
}

func (s *ZapSink) Write(e Entry) {
	ce := s.logger.Check(zapLevel(e.Level), e.Message)
	if ce == nil {
		return
	}
	s.metrics.entry("zap")
	fields := make([]zap.Field, 0, len(e.Attrs))
	for _, a := range e.Attrs {
		fields = append(fields, zap.Any(a.Key, attrValue(a.Value)))
	}
	ce.Write(fields...)
}

func (s *ZapSink) Close() error {
	err := s.logger.Sync()
	if s.buffered != nil {
		if serr := s.buffered.Stop(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// attrValue flattens a slog value into plain Go values, groups into maps.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		m := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			m[a.Key] = attrValue(a.Value)
		}
		return m
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().Seconds()
	default:
		return v.Any()
	}
}
