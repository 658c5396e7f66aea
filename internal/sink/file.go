package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type FileOptions struct {
	Dir         string
	ProjectSlug string
	RotateAt    string // "HH:MM"; empty disables the daily rotation
	MaxSizeMB   int
	Retention   int // rotated files kept
	Compress    bool
}

// RotatingFile is <Dir>/<ProjectSlug>.log. It rotates when it reaches
// MaxSizeMB and once a day at RotateAt, local time.
type RotatingFile struct {
	lj       *lumberjack.Logger
	notifier *Notifier

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewRotatingFile(opts FileOptions, n *Notifier) (*RotatingFile, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.ProjectSlug == "" {
		opts.ProjectSlug = "info"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	f := &RotatingFile{
		lj: &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, opts.ProjectSlug+".log"),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.Retention,
			LocalTime:  true,
			Compress:   opts.Compress,
		},
		notifier: n,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if opts.RotateAt == "" {
		close(f.done)
		return f, nil
	}
	at, err := time.Parse("15:04", opts.RotateAt)
	if err != nil {
		return nil, fmt.Errorf("rotate_at %q: %w", opts.RotateAt, err)
	}
	go f.rotateDaily(at.Hour(), at.Minute())
	return f, nil
}

func (f *RotatingFile) Filename() string { return f.lj.Filename }

func (f *RotatingFile) Write(p []byte) (int, error) { return f.lj.Write(p) }

func (f *RotatingFile) Rotate() error { return f.lj.Rotate() }

func (f *RotatingFile) Close() error {
	f.once.Do(func() { close(f.stop) })
	<-f.done
	return f.lj.Close()
}

func (f *RotatingFile) rotateDaily(hour, min int) {
	defer close(f.done)
	for {
		now := time.Now()
		t := time.NewTimer(nextRotation(now, hour, min).Sub(now))
		select {
		case <-f.stop:
			t.Stop()
			return
		case <-t.C:
			if err := f.lj.Rotate(); err != nil {
				f.notifier.Notify(&SinkError{Sink: "file", Err: err})
			}
		}
	}
}

// nextRotation returns the first hour:min strictly after now, in now's zone.
func nextRotation(now time.Time, hour, min int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
