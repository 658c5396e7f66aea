package sink

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// listPusher is the part of a redis client the mirror needs.
type listPusher interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

type RedisOptions struct {
	Key       string
	MaxLen    int64 // list is trimmed to this many newest entries; 0 keeps all
	QueueSize int
	Timeout   time.Duration
	Breaker   *Breaker
	Notifier  *Notifier
	Metrics   *Metrics
}

// RedisSink mirrors entries into a capped redis list. Entries are queued and
// pushed by one worker; a full queue drops, and an open breaker skips the
// round-trip entirely.
type RedisSink struct {
	client listPusher
	opts   RedisOptions

	queue chan []byte
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewRedis(client listPusher, opts RedisOptions) *RedisSink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Breaker == nil {
		opts.Breaker = NewBreaker(BreakerConfig{})
	}
	s := &RedisSink{
		client: client,
		opts:   opts,
		queue:  make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// redisRecord is the JSON shape stored in the list.
type redisRecord struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (s *RedisSink) Write(e Entry) {
	rec := redisRecord{
		Time:    time.Now().Format(time.RFC3339Nano),
		Level:   e.Level.String(),
		Message: e.Message,
	}
	if len(e.Attrs) > 0 {
		rec.Attrs = make(map[string]any, len(e.Attrs))
		for _, a := range e.Attrs {
			rec.Attrs[a.Key] = attrValue(a.Value)
		}
	}
	payload, err := sonic.Marshal(rec)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.opts.Metrics.drop("redis")
		return
	}
	select {
	case s.queue <- payload:
		s.opts.Metrics.entry("redis")
	default:
		s.opts.Metrics.drop("redis")
		s.opts.Notifier.Notify(&SinkError{Sink: "redis", Err: errQueueFull})
	}
}

func (s *RedisSink) Breaker() *Breaker { return s.opts.Breaker }

// Close stops accepting entries and waits for the queued ones.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *RedisSink) run() {
	defer close(s.done)
	for payload := range s.queue {
		if !s.opts.Breaker.Allow() {
			s.opts.Metrics.drop("redis")
			continue
		}
		err := s.push(payload)
		s.opts.Breaker.Done(err == nil)
		if err != nil {
			s.fail(err)
		}
	}
}

func (s *RedisSink) push(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	if err := s.client.LPush(ctx, s.opts.Key, payload).Err(); err != nil {
		return err
	}
	if s.opts.MaxLen > 0 {
		return s.client.LTrim(ctx, s.opts.Key, 0, s.opts.MaxLen-1).Err()
	}
	return nil
}

func (s *RedisSink) fail(err error) {
	s.opts.Metrics.failure("redis")
	s.opts.Notifier.Notify(&SinkError{Sink: "redis", Err: err})
}
