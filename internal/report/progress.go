package report

import (
	"io"
	"sync"
	"time"

	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/schollz/progressbar/v3"
)

// DefaultEvery is how many processed items separate two progress ticks
const DefaultEvery = 10

// Tick is a progress event: how many items are done and the latest one
type Tick struct {
	Label     string
	Processed int
	Current   string
}

// Progress consumes progress events. The engine never formats output
// itself; adapters decide how ticks are shown.
type Progress interface {
	Tick(Tick)
	Finish(Summary)
}

// Nop discards progress
type Nop struct{}

func (Nop) Tick(Tick)       {}
func (Nop) Finish(Summary) {}

// Ticker counts processed items and emits a Tick every N of them
type Ticker struct {
	label   string
	every   int
	out     Progress
	clock   clockwork.Clock
	start   time.Time
	count   int
	last    string
	emitted int
}

// NewTicker creates a ticker. every <= 0 means DefaultEvery; a nil out
// discards ticks; a nil clock uses the real one.
func NewTicker(label string, every int, out Progress, clock clockwork.Clock) *Ticker {
	if every <= 0 {
		every = DefaultEvery
	}
	if out == nil {
		out = Nop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ticker{label: label, every: every, out: out, clock: clock, start: clock.Now()}
}

// Add records one processed item
func (t *Ticker) Add(current string) {
	t.count++
	t.last = current
	if t.count%t.every == 0 {
		t.emitted = t.count
		t.out.Tick(Tick{Label: t.label, Processed: t.count, Current: current})
	}
}

// Count returns the number of processed items
func (t *Ticker) Count() int {
	return t.count
}

// Finish emits a trailing tick for items since the last one, then the
// summary, and returns it
func (t *Ticker) Finish() Summary {
	if t.count > t.emitted {
		t.emitted = t.count
		t.out.Tick(Tick{Label: t.label, Processed: t.count, Current: t.last})
	}
	s := NewSummary(t.count, t.clock.Since(t.start))
	t.out.Finish(s)
	return s
}

// Async forwards progress on a goroutine so slow presenters never block a
// run. Ticks are dropped when the buffer is full; the summary never is.
type Async struct {
	next   Progress
	ch     chan Tick
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	fin    Summary
}

// NewAsync starts the forwarding goroutine. Finish must be called to stop it.
func NewAsync(next Progress, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{
		next: next,
		ch:   make(chan Tick, buffer),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for t := range a.ch {
		a.next.Tick(t)
	}
	a.next.Finish(a.fin)
}

// Tick queues a tick without blocking; ticks after Finish are ignored
func (a *Async) Tick(t Tick) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- t:
	default:
	}
}

// Finish drains queued ticks, delivers the summary and waits for the
// forwarding goroutine to exit
func (a *Async) Finish(s Summary) {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		a.fin = s
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

// LogProgress reports through the leveled console logger
type LogProgress struct{}

func (LogProgress) Tick(t Tick) {
	util.InfoLog("%s: %d processed (%s)", t.Label, t.Processed, t.Current)
}

func (LogProgress) Finish(s Summary) {
	util.SuccessLog("%s", s.String())
}

// BarProgress renders ticks as an indeterminate progress bar
type BarProgress struct {
	bar *progressbar.ProgressBar
}

// NewBarProgress creates a bar writing to w
func NewBarProgress(w io.Writer, description string) *BarProgress {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &BarProgress{bar: bar}
}

func (b *BarProgress) Tick(t Tick) {
	b.bar.Set(t.Processed)
}

func (b *BarProgress) Finish(s Summary) {
	b.bar.Set(s.TotalProcessed)
	b.bar.Finish()
}

// Multi fans progress out to several presenters
type Multi []Progress

func (m Multi) Tick(t Tick) {
	for _, p := range m {
		p.Tick(t)
	}
}

func (m Multi) Finish(s Summary) {
	for _, p := range m {
		p.Finish(s)
	}
}
