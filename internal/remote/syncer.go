package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
)

// State is a step of a replication run
type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateListing
	StatePaging
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateListing:
		return "listing"
	case StatePaging:
		return "paging"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RPC is the client side of the protocol
type RPC interface {
	Handshake(ctx context.Context) (string, error)
	ListCatalogs(ctx context.Context, token, baseURL string) ([]CatalogInfo, error)
	GetSongs(ctx context.Context, token string, offset, limit int) ([]*Song, error)
}

// Merger stores one replicated song under its rewritten file path and
// reports whether it was new
type Merger interface {
	MergeRemote(ctx context.Context, song *Song, file string) (int64, bool, error)
}

// Store is what the syncer needs from local storage
type Store interface {
	SongFilesByCatalog(ctx context.Context, catalogID int64) ([]store.SongFile, error)
	DeleteSongs(ctx context.Context, ids []int64) (int64, error)
	TouchLastUpdate(ctx context.Context, id int64, at time.Time) error
}

// SyncerConfig configures a Syncer
type SyncerConfig struct {
	RPC           RPC
	Store         Store
	PageSize      int
	BaseURL       string // this instance's address, sent when listing
	Logger        *report.EventLogger
	Progress      report.Progress
	ProgressEvery int
	Clock         clockwork.Clock
}

// SyncResult summarizes a replication run
type SyncResult struct {
	Total    int
	Offsets  []int // page offsets requested, in order
	Inserted int
	Known    int
	Deleted  int64
	Errors   []error
	Complete bool // every page merged; only then are absent songs deleted
	Summary  report.Summary
}

// Syncer runs the replication state machine for one catalog at a time
type Syncer struct {
	rpc      RPC
	store    Store
	pageSize int
	baseURL  string
	logger   *report.EventLogger
	progress report.Progress
	every    int
	clock    clockwork.Clock

	mu          sync.Mutex
	state       State
	transitions []State
}

// NewSyncer creates a syncer in the idle state
func NewSyncer(cfg *SyncerConfig) *Syncer {
	s := &Syncer{
		rpc:      cfg.RPC,
		store:    cfg.Store,
		pageSize: cfg.PageSize,
		baseURL:  cfg.BaseURL,
		logger:   cfg.Logger,
		progress: cfg.Progress,
		every:    cfg.ProgressEvery,
		clock:    cfg.Clock,
		state:    StateIdle,
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// State returns the current state
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns every state entered by the last Sync, in order
func (s *Syncer) Transitions() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.transitions...)
}

func (s *Syncer) enter(state State, detail string, err error) {
	s.mu.Lock()
	s.state = state
	s.transitions = append(s.transitions, state)
	s.mu.Unlock()
	s.logger.LogRemote(state.String(), detail, err)
}

func (s *Syncer) fail(detail string, err error) error {
	s.enter(StateFailed, detail, err)
	return err
}

// Sync replicates the peer at cat.Path into cat. A failed handshake or
// listing aborts the run. A failed page is recorded and skipped; pages
// already merged stay committed. Local songs absent upstream are deleted
// only when every page was merged.
func (s *Syncer) Sync(ctx context.Context, cat *store.Catalog, m Merger) (*SyncResult, error) {
	s.mu.Lock()
	s.state = StateIdle
	s.transitions = []State{StateIdle}
	s.mu.Unlock()

	result := &SyncResult{}

	s.enter(StateHandshaking, cat.Path, nil)
	token, err := s.rpc.Handshake(ctx)
	if err != nil {
		return result, s.fail("handshake", err)
	}

	s.enter(StateListing, cat.Path, nil)
	catalogs, err := s.rpc.ListCatalogs(ctx, token, s.baseURL)
	if err != nil {
		return result, s.fail("list catalogs", err)
	}
	for _, c := range catalogs {
		util.InfoLog("Reading remote catalog %s (%d songs) [%s]", c.Name, c.Count, cat.Path)
		result.Total += c.Count
	}

	s.enter(StatePaging, fmt.Sprintf("%d songs", result.Total), nil)
	ticker := report.NewTicker("remote", s.every, s.progress, s.clock)
	seen := make(map[string]bool, result.Total)
	pagesFailed := 0

	for offset := 0; offset < result.Total; offset += s.pageSize {
		if err := ctx.Err(); err != nil {
			result.Summary = ticker.Finish()
			return result, s.fail("canceled", err)
		}

		result.Offsets = append(result.Offsets, offset)
		songs, err := s.rpc.GetSongs(ctx, token, offset, s.pageSize)
		if err != nil {
			pagesFailed++
			result.Errors = append(result.Errors, err)
			s.logger.LogRemote(StatePaging.String(), fmt.Sprintf("page at offset %d", offset), err)
			util.WarnLog("Remote page at offset %d failed: %v", offset, err)
			continue
		}

		if err := s.merge(ctx, cat, m, songs, seen, result, ticker); err != nil {
			result.Summary = ticker.Finish()
			return result, s.fail("merge", err)
		}
	}
	result.Summary = ticker.Finish()
	result.Complete = pagesFailed == 0

	if result.Complete {
		if err := s.deleteAbsent(ctx, cat, seen, result); err != nil {
			result.Errors = append(result.Errors, err)
		}
	} else {
		util.WarnLog("%d remote pages failed; keeping songs not seen in this run", pagesFailed)
	}

	if err := s.store.TouchLastUpdate(ctx, cat.ID, s.clock.Now()); err != nil {
		result.Errors = append(result.Errors, util.StorageError("touch last update", err))
	}

	s.enter(StateDone, fmt.Sprintf("%d inserted, %d deleted", result.Inserted, result.Deleted), nil)
	return result, nil
}

// merge stores one page. Only an unusable database stops the run.
func (s *Syncer) merge(ctx context.Context, cat *store.Catalog, m Merger, songs []*Song, seen map[string]bool, result *SyncResult, ticker *report.Ticker) error {
	for _, song := range songs {
		file := StreamURL(cat.Path, song.ID)
		seen[file] = true

		id, inserted, err := m.MergeRemote(ctx, song, file)
		ticker.Add(file)
		if err != nil {
			if util.IsFatalStorageError(err) {
				return err
			}
			result.Errors = append(result.Errors, err)
			s.logger.LogError(report.EventRemote, file, err)
			continue
		}
		if inserted {
			result.Inserted++
			s.logger.LogInsert(id, file)
		} else {
			result.Known++
		}
	}
	return nil
}

func (s *Syncer) deleteAbsent(ctx context.Context, cat *store.Catalog, seen map[string]bool, result *SyncResult) error {
	files, err := s.store.SongFilesByCatalog(ctx, cat.ID)
	if err != nil {
		return util.StorageError("list replicated songs", err)
	}

	var gone []int64
	for _, f := range files {
		if !seen[f.File] {
			gone = append(gone, f.ID)
		}
	}
	if len(gone) == 0 {
		return nil
	}

	n, err := s.store.DeleteSongs(ctx, gone)
	if err != nil {
		return util.StorageError("delete absent songs", err)
	}
	result.Deleted = n
	s.logger.LogDelete("absent upstream", n)
	util.InfoLog("Deleted %d songs no longer present upstream", n)
	return nil
}

// IsFault reports whether err carries a server fault with the given code
func IsFault(err error, code int) bool {
	var f *Fault
	return errors.As(err, &f) && f.Code == code
}
