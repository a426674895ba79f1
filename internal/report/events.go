package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of event
type EventType string

const (
	EventScan      EventType = "scan"
	EventInsert    EventType = "insert"
	EventSkip      EventType = "skip"
	EventUpdate    EventType = "update"
	EventDisable   EventType = "disable"
	EventDelete    EventType = "delete"
	EventClean     EventType = "clean"
	EventDuplicate EventType = "duplicate"
	EventRemote    EventType = "remote"
	EventPlaylist  EventType = "playlist"
	EventError     EventType = "error"
	EventSummary   EventType = "summary"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is one line of the audit log
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	CatalogID int64             `json:"catalog_id,omitempty"`
	SongID    int64             `json:"song_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Action    string            `json:"action,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Count     int64             `json:"count,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// sink is the writer shared by a logger and every run-scoped copy of it
type sink struct {
	mu       sync.Mutex
	w        io.WriteCloser
	encoder  *json.Encoder
	path     string
	minLevel EventLevel
	clock    clockwork.Clock
}

// EventLogger writes events as JSON lines. A nil *EventLogger is a valid
// no-op logger.
type EventLogger struct {
	sink      *sink
	runID     string
	catalogID int64
}

// Options configures log rotation of the event file
type Options struct {
	MaxSizeMB  int // rotate after this many megabytes; 0 means 100
	MaxBackups int // rotated files to keep; 0 keeps all
	Clock      clockwork.Clock
}

// NewEventLogger creates a rotating event log in outputDir with a minimum
// level; minLevel determines which events are written (e.g., LevelInfo
// skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel, opts *Options) (*EventLogger, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	timestamp := clock.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		LocalTime:  true,
	}

	return newLogger(w, path, minLevel, clock), nil
}

// NewWriterLogger writes events to an arbitrary writer
func NewWriterLogger(w io.Writer, minLevel EventLevel, clock clockwork.Clock) *EventLogger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	wc, ok := w.(io.WriteCloser)
	if !ok {
		wc = nopCloser{w}
	}
	return newLogger(wc, "", minLevel, clock)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newLogger(w io.WriteCloser, path string, minLevel EventLevel, clock clockwork.Clock) *EventLogger {
	return &EventLogger{sink: &sink{
		w:        w,
		encoder:  json.NewEncoder(w),
		path:     path,
		minLevel: minLevel,
		clock:    clock,
	}}
}

// WithRun returns a logger that tags every event with a run ID and catalog
func (l *EventLogger) WithRun(runID string, catalogID int64) *EventLogger {
	if l == nil {
		return nil
	}
	return &EventLogger{sink: l.sink, runID: runID, catalogID: catalogID}
}

// RunID returns the run this logger is scoped to
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.sink == nil {
		return nil
	}
	s := l.sink

	if levelPriority[event.Level] < levelPriority[s.minLevel] {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}
	if event.CatalogID == 0 {
		event.CatalogID = l.catalogID
	}

	if err := s.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// kindName returns the short name of an error's kind for the log
func kindName(err error) string {
	if kind := util.KindOf(err); kind != nil {
		return kind.Error()
	}
	return ""
}

// LogInsert logs a newly cataloged song
func (l *EventLogger) LogInsert(songID int64, path string) error {
	return l.Log(&Event{Level: LevelInfo, Event: EventInsert, SongID: songID, Path: path})
}

// LogSkip logs a file skipped during a crawl; err carries the reason
func (l *EventLogger) LogSkip(path string, err error) error {
	return l.Log(&Event{
		Level: LevelWarning,
		Event: EventSkip,
		Path:  path,
		Kind:  kindName(err),
		Error: err.Error(),
	})
}

// LogUpdate logs a reconciled song with its diff summary
func (l *EventLogger) LogUpdate(songID int64, path, diff string) error {
	return l.Log(&Event{Level: LevelInfo, Event: EventUpdate, SongID: songID, Path: path, Reason: diff})
}

// LogDisable logs a song disabled by the file-existence sweep
func (l *EventLogger) LogDisable(songID int64, path string, err error) error {
	return l.Log(&Event{
		Level:  LevelWarning,
		Event:  EventDisable,
		SongID: songID,
		Path:   path,
		Kind:   kindName(err),
		Error:  err.Error(),
	})
}

// LogDelete logs removed songs
func (l *EventLogger) LogDelete(reason string, count int64) error {
	return l.Log(&Event{Level: LevelInfo, Event: EventDelete, Reason: reason, Count: count})
}

// LogClean logs one cleanup step
func (l *EventLogger) LogClean(step string, removed int64, elapsed time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventClean,
		Action:   step,
		Count:    removed,
		Duration: elapsed.Milliseconds(),
	})
}

// LogDuplicate logs a duplicate group and its ranked candidates
func (l *EventLogger) LogDuplicate(title string, count int, candidates []int64) error {
	extra := map[string]string{"title": title}
	for i, id := range candidates {
		extra[fmt.Sprintf("candidate_%d", i)] = fmt.Sprintf("%d", id)
	}
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventDuplicate,
		Count: int64(count),
		Extra: extra,
	})
}

// LogRemote logs a remote sync state transition
func (l *EventLogger) LogRemote(state, detail string, err error) error {
	event := &Event{Level: LevelInfo, Event: EventRemote, Action: state, Reason: detail}
	if err != nil {
		event.Level = LevelError
		event.Kind = kindName(err)
		event.Error = err.Error()
	}
	return l.Log(event)
}

// LogPlaylist logs an imported playlist
func (l *EventLogger) LogPlaylist(path string, playlistID int64, resolved, missing int) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventPlaylist,
		Path:   path,
		Count:  int64(resolved),
		Extra:  map[string]string{"playlist_id": fmt.Sprintf("%d", playlistID), "missing": fmt.Sprintf("%d", missing)},
		Action: "import",
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, path string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Path:  path,
		Kind:  kindName(err),
		Error: err.Error(),
	})
}

// LogSummary logs the final summary of a run
func (l *EventLogger) LogSummary(s Summary) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventSummary,
		Count:    int64(s.TotalProcessed),
		Duration: s.Elapsed.Milliseconds(),
		Extra:    map[string]string{"rate": fmt.Sprintf("%.2f", s.Rate)},
	})
}

// Close flushes and closes the event log
func (l *EventLogger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	err := l.sink.w.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil || l.sink == nil {
		return ""
	}
	return l.sink.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
