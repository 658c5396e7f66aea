package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Notifier writes fallback notices about sink failures, at most one per
// interval. Notices over the limit are counted and summarized in the next
// one that gets through.
type Notifier struct {
	mu         sync.Mutex
	w          io.Writer
	lim        *rate.Limiter
	suppressed int
}

func NewNotifier(w io.Writer, every time.Duration) *Notifier {
	if w == nil {
		w = os.Stderr
	}
	if every <= 0 {
		every = time.Second
	}
	return &Notifier{w: w, lim: rate.NewLimiter(rate.Every(every), 1)}
}

func (n *Notifier) Notify(err error) {
	if n == nil || err == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.lim.Allow() {
		n.suppressed++
		return
	}
	if n.suppressed > 0 {
		fmt.Fprintf(n.w, "reqlog: %v (%d similar notices suppressed)\n", err, n.suppressed)
		n.suppressed = 0
		return
	}
	fmt.Fprintf(n.w, "reqlog: %v\n", err)
}

// Write lets the notifier serve as an error writer for handlers that report
// failures as text.
func (n *Notifier) Write(p []byte) (int, error) {
	msg := string(p)
	for len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	n.Notify(errors.New(msg))
	return len(p), nil
}
