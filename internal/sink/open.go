package sink

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/3xpluto/go-reqlog/internal/config"
)

// Stack is the sink assembled from configuration, with the resources it owns.
type Stack struct {
	Sink     Sink
	File     *RotatingFile
	Redis    *RedisSink
	Notifier *Notifier

	closers []io.Closer
}

// Open builds the configured sink. reg may be nil; notices receives the
// rate-limited failure notices and defaults to stderr.
func Open(cfg config.SinkConfig, lc config.LoggingConfig, reg prometheus.Registerer, notices io.Writer) (*Stack, error) {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	st := &Stack{Notifier: NewNotifier(notices, time.Second)}
	var metrics *Metrics
	if reg != nil {
		metrics = NewMetrics(reg)
	}

	file, err := NewRotatingFile(FileOptions{
		Dir:         cfg.File.Dir,
		ProjectSlug: cfg.File.ProjectSlug,
		RotateAt:    cfg.File.RotateAt,
		MaxSizeMB:   cfg.File.MaxSizeMB,
		Retention:   cfg.File.Retention,
		Compress:    cfg.File.Compressed(),
	}, st.Notifier)
	if err != nil {
		return nil, err
	}
	st.File = file

	var w io.Writer = file
	if cfg.Stdout {
		w = io.MultiWriter(os.Stdout, file)
	}

	var primary Sink
	switch strings.ToLower(cfg.Backend) {
	case "zap":
		primary = NewZap(w, ZapOptions{Level: level, Buffered: true, Notifier: st.Notifier, Metrics: metrics})
	default:
		primary = NewSlog(w, SlogOptions{
			Format:    lc.Format,
			Level:     level,
			QueueSize: cfg.Async.QueueSize,
			Workers:   cfg.Async.Workers,
			Notifier:  st.Notifier,
			Metrics:   metrics,
		})
	}

	sinks := []Sink{primary}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		st.Redis = NewRedis(client, RedisOptions{
			Key:    cfg.Redis.Key,
			MaxLen: cfg.Redis.MaxLen,
			Breaker: NewBreaker(BreakerConfig{
				FailureThreshold: cfg.Redis.Breaker.FailureThreshold,
				OpenDuration:     time.Duration(cfg.Redis.Breaker.OpenSeconds) * time.Second,
			}),
			Notifier: st.Notifier,
			Metrics:  metrics,
		})
		sinks = append(sinks, st.Redis)
		st.closers = append(st.closers, client)
	}
	st.Sink = Tee(sinks...)
	st.closers = append(st.closers, file)
	return st, nil
}

// Close drains the sinks, then releases clients and files.
func (st *Stack) Close() error {
	errs := []error{st.Sink.Close()}
	for _, c := range st.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
