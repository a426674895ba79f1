package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/franz/media-catalog/internal/clean"
	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/remote"
	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/scan"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

// ErrNotFound is returned for unknown catalog, song, album or artist IDs
var ErrNotFound = errors.New("not found")

// Options tune how runs crawl, replicate and report
type Options struct {
	Extensions         []string // audio extensions; scan.AudioExtensions when empty
	PlaylistExtensions []string
	ParsePlaylists     bool
	NoSymlinks         bool
	Charset            string // site charset filenames must be representable in
	PrefixTokens       []string
	ProgressEvery      int

	PageSize         int    // remote page size
	BaseURL          string // this instance's address, sent to peers
	HandshakeTimeout time.Duration
	PageTimeout      time.Duration
}

// Config holds engine configuration
type Config struct {
	Store      *store.Store
	Fs         afero.Fs
	Extractor  meta.Extractor // defaults to a TagExtractor over Fs
	Logger     *report.EventLogger
	Progress   report.Progress
	HTTPClient *http.Client
	Retry      *util.RetryConfig
	Clock      clockwork.Clock
	Options    Options
}

// Engine runs catalog operations against one store
type Engine struct {
	store      *store.Store
	fs         afero.Fs
	extractor  meta.Extractor
	logger     *report.EventLogger
	progress   report.Progress
	httpClient *http.Client
	retry      *util.RetryConfig
	clock      clockwork.Clock
	opts       Options
	prefixes   *meta.PrefixMatcher
	charset    *meta.CharsetValidator
}

// New creates a new Engine
func New(cfg *Config) (*Engine, error) {
	e := &Engine{
		store:      cfg.Store,
		fs:         cfg.Fs,
		extractor:  cfg.Extractor,
		logger:     cfg.Logger,
		progress:   cfg.Progress,
		httpClient: cfg.HTTPClient,
		retry:      cfg.Retry,
		clock:      cfg.Clock,
		opts:       cfg.Options,
	}
	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}
	if e.extractor == nil {
		e.extractor = meta.NewTagExtractor(e.fs)
	}
	if e.progress == nil {
		e.progress = report.Nop{}
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}

	tokens := e.opts.PrefixTokens
	if tokens == nil {
		tokens = meta.DefaultPrefixTokens
	}
	e.prefixes = meta.NewPrefixMatcher(tokens)

	charset, err := meta.NewCharsetValidator(e.opts.Charset)
	if err != nil {
		return nil, err
	}
	e.charset = charset
	return e, nil
}

// run is the per-run state: its own resolver, logger scope and report
type run struct {
	cat      *store.Catalog
	logger   *report.EventLogger
	resolver *Resolver
	report   *report.RunReport
	start    time.Time
}

func (e *Engine) newRun(cat *store.Catalog, mode string) *run {
	id := uuid.NewString()
	return &run{
		cat:      cat,
		logger:   e.logger.WithRun(id, cat.ID),
		resolver: NewResolver(e.store, e.prefixes),
		report:   &report.RunReport{RunID: id, CatalogID: cat.ID, CatalogName: cat.Name, Mode: mode},
		start:    e.clock.Now(),
	}
}

// finish closes out a run report. A canceled run keeps everything it
// committed and is reported as such.
func (e *Engine) finish(r *run, processed int, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.report.Canceled = true
	}
	r.report.Summary = report.NewSummary(processed, e.clock.Since(r.start))
	r.logger.LogSummary(r.report.Summary)

	if n := len(r.resolver.NeedsArt()); n > 0 {
		util.InfoLog("%d albums need art", n)
	}
	util.InfoLog("%s %q: %d inserted, %d updated, %d disabled, %d deleted, %d errors (%s)",
		r.report.Mode, r.cat.Name, r.report.Inserted, r.report.Updated, r.report.Disabled,
		r.report.Deleted, len(r.report.Errors), r.report.Summary)
}

func (e *Engine) catalog(ctx context.Context, id int64) (*store.Catalog, error) {
	cat, err := e.store.GetCatalog(ctx, id)
	if err != nil {
		return nil, util.StorageError("get catalog", err)
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog %d: %w", id, ErrNotFound)
	}
	return cat, nil
}

// Create validates and stores a new catalog. Trailing separators are
// trimmed from the root; local roots must be readable directories and
// remote roots absolute http(s) URLs with a key.
func (e *Engine) Create(ctx context.Context, cat *store.Catalog) error {
	cat.Name = strings.TrimSpace(cat.Name)
	if cat.Name == "" {
		return errors.New("catalog name is required")
	}
	if cat.Type == "" {
		cat.Type = store.CatalogLocal
	}

	switch cat.Type {
	case store.CatalogLocal:
		cat.Path = util.TrimRoot(cat.Path)
		info, err := e.fs.Stat(cat.Path)
		if err != nil {
			return util.NewSyncError(util.ErrPath, cat.Path, err)
		}
		if !info.IsDir() {
			return util.NewSyncError(util.ErrPath, cat.Path, errors.New("not a directory"))
		}
	case store.CatalogRemote:
		cat.Path = strings.TrimRight(cat.Path, "/")
		u, err := url.Parse(cat.Path)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote catalog path %q is not an http(s) URL", cat.Path)
		}
		if cat.RemoteKey == "" {
			return errors.New("remote catalog requires a key")
		}
	default:
		return fmt.Errorf("%w: catalog type %q", util.ErrUnsupported, cat.Type)
	}

	existing, err := e.store.GetCatalogByPath(ctx, cat.Path)
	if err != nil {
		return util.StorageError("check catalog path", err)
	}
	if existing != nil {
		return fmt.Errorf("catalog %q already uses %s", existing.Name, cat.Path)
	}

	cat.Enabled = true
	cat.CreatedAt = e.clock.Now()
	if err := e.store.InsertCatalog(ctx, cat); err != nil {
		return util.StorageError("insert catalog", err)
	}
	util.SuccessLog("Created %s catalog %q (%d) at %s", cat.Type, cat.Name, cat.ID, cat.Path)
	return nil
}

// Delete removes a catalog and its songs, then sweeps everything that
// referenced them
func (e *Engine) Delete(ctx context.Context, id int64) (*report.RunReport, error) {
	cat, err := e.catalog(ctx, id)
	if err != nil {
		return nil, err
	}
	r := e.newRun(cat, "delete")

	removed, err := e.store.DeleteCatalog(ctx, id)
	if err != nil {
		return r.report, util.StorageError("delete catalog", err)
	}
	r.report.Deleted = int(removed)
	r.logger.LogDelete("catalog deleted", removed)

	steps, err := e.cleaner(r).Clean(ctx, nil)
	r.report.Clean = steps
	if err != nil {
		r.report.AddError(err)
	}
	e.finish(r, int(removed), err)
	return r.report, nil
}

func (e *Engine) cleaner(r *run) *clean.Cleaner {
	return clean.New(&clean.Config{
		Store:         e.store,
		Fs:            e.fs,
		Logger:        r.logger,
		Progress:      e.progress,
		ProgressEvery: e.opts.ProgressEvery,
		Clock:         e.clock,
	})
}

// Add brings new content into a catalog: a crawl of a local root, or a
// replication pass for a remote one
func (e *Engine) Add(ctx context.Context, id int64) (*report.RunReport, error) {
	cat, err := e.catalog(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cat.Enabled {
		return nil, fmt.Errorf("catalog %q is disabled", cat.Name)
	}

	if cat.IsRemote() {
		return e.syncRemote(ctx, cat)
	}
	return e.addLocal(ctx, cat)
}

func (e *Engine) addLocal(ctx context.Context, cat *store.Catalog) (*report.RunReport, error) {
	r := e.newRun(cat, "add")
	util.InfoLog("Adding to catalog %q (run %s)", cat.Name, r.report.RunID)

	cache := scan.NewFileCache(e.store, cat.ID)
	ins := NewInserter(e.store, e.extractor, r.resolver, cat.ID, e.clock)
	crawler := scan.New(&scan.Config{
		Fs:                 e.fs,
		Cache:              cache,
		Extensions:         e.opts.Extensions,
		PlaylistExtensions: e.opts.PlaylistExtensions,
		ParsePlaylists:     e.opts.ParsePlaylists,
		NoSymlinks:         e.opts.NoSymlinks,
		Charset:            e.charset,
		Progress:           e.progress,
		ProgressEvery:      e.opts.ProgressEvery,
		Logger:             r.logger,
		Clock:              e.clock,
	})

	res, err := crawler.Crawl(ctx, cat.Path, scan.HandlerFunc(ins.InsertLocal))
	r.report.Inserted = res.Inserted
	r.report.Skipped = len(res.Errors)
	r.report.PlaylistsQueued = len(res.Queued)
	r.report.Errors = append(r.report.Errors, res.Errors...)
	if err != nil {
		e.finish(r, res.Processed, err)
		return r.report, err
	}

	if len(res.Queued) > 0 {
		importer := NewPlaylistImporter(e.store, e.fs, cache, cat.ID, r.logger, e.clock)
		imported, errs, err := importer.ImportAll(ctx, res.Queued)
		r.report.PlaylistsImported = imported
		r.report.Errors = append(r.report.Errors, errs...)
		if err != nil {
			e.finish(r, res.Processed, err)
			return r.report, err
		}
	}

	steps, err := e.cleaner(r).Clean(ctx, &cat.ID)
	r.report.Clean = steps
	if err != nil {
		r.report.AddError(err)
		if util.IsFatalStorageError(err) || ctx.Err() != nil {
			e.finish(r, res.Processed, err)
			return r.report, err
		}
	}

	if err := e.store.TouchLastAdd(ctx, cat.ID, e.clock.Now()); err != nil {
		return r.report, util.StorageError("touch last_add", err)
	}
	e.finish(r, res.Processed, nil)
	return r.report, nil
}

// syncRemote replicates a peer's catalog and then sweeps orphans
func (e *Engine) syncRemote(ctx context.Context, cat *store.Catalog) (*report.RunReport, error) {
	r := e.newRun(cat, "remote")
	util.InfoLog("Replicating %s into %q (run %s)", cat.Path, cat.Name, r.report.RunID)

	client := remote.NewClient(&remote.ClientConfig{
		Root:             cat.Path,
		Key:              cat.RemoteKey,
		HTTPClient:       e.httpClient,
		HandshakeTimeout: e.opts.HandshakeTimeout,
		PageTimeout:      e.opts.PageTimeout,
		Retry:            e.retry,
		Clock:            e.clock,
	})
	syncer := remote.NewSyncer(&remote.SyncerConfig{
		RPC:           client,
		Store:         e.store,
		PageSize:      e.opts.PageSize,
		BaseURL:       e.opts.BaseURL,
		Logger:        r.logger,
		Progress:      e.progress,
		ProgressEvery: e.opts.ProgressEvery,
		Clock:         e.clock,
	})
	ins := NewInserter(e.store, e.extractor, r.resolver, cat.ID, e.clock)

	res, err := syncer.Sync(ctx, cat, ins)
	processed := 0
	if res != nil {
		processed = res.Summary.TotalProcessed
		r.report.Inserted = res.Inserted
		r.report.Deleted = int(res.Deleted)
		r.report.Errors = append(r.report.Errors, res.Errors...)
	}
	if err != nil {
		r.report.AddError(err)
		e.finish(r, processed, err)
		return r.report, err
	}

	steps, err := e.cleaner(r).Clean(ctx, &cat.ID)
	r.report.Clean = steps
	if err != nil {
		r.report.AddError(err)
		if util.IsFatalStorageError(err) || ctx.Err() != nil {
			e.finish(r, processed, err)
			return r.report, err
		}
	}

	if err := e.store.TouchLastAdd(ctx, cat.ID, e.clock.Now()); err != nil {
		return r.report, util.StorageError("touch last_add", err)
	}
	e.finish(r, processed, nil)
	return r.report, nil
}

// Verify re-reads every enabled song of a local catalog, disabling songs
// whose files are gone and updating rows whose tags changed, then sweeps
// orphans. A remote catalog is verified by replicating it again.
func (e *Engine) Verify(ctx context.Context, id int64) (*report.RunReport, error) {
	cat, err := e.catalog(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat.IsRemote() {
		return e.syncRemote(ctx, cat)
	}

	r := e.newRun(cat, "verify")
	util.InfoLog("Verifying catalog %q (run %s)", cat.Name, r.report.RunID)
	cleaner := e.cleaner(r)

	sweep, err := cleaner.SweepFiles(ctx, cat)
	if err != nil {
		r.report.AddError(err)
		e.finish(r, 0, err)
		return r.report, err
	}
	r.report.Disabled = len(sweep.Disabled)
	r.report.Errors = append(r.report.Errors, sweep.Errors...)

	songs, err := e.store.EnabledSongsByCatalog(ctx, cat.ID)
	if err != nil {
		return r.report, util.StorageError("list enabled songs", err)
	}

	rec := NewReconciler(e.store, e.extractor, r.resolver, e.clock)
	ticker := report.NewTicker("verify", e.opts.ProgressEvery, e.progress, e.clock)
	for _, song := range songs {
		if err = ctx.Err(); err != nil {
			break
		}
		ticker.Add(song.File)

		res, rerr := rec.Reconcile(ctx, song)
		if rerr != nil {
			if util.IsFatalStorageError(rerr) {
				err = rerr
				break
			}
			r.report.AddError(rerr)
			r.report.Skipped++
			r.logger.LogSkip(song.File, rerr)
			continue
		}
		if res.Changed {
			r.report.Updated++
			r.logger.LogUpdate(song.ID, song.File, res.Diff)
			util.DebugLog("Updated %s: %s", song.File, res.Diff)
		}
	}
	summary := ticker.Finish()
	if err != nil {
		r.report.Canceled = ctx.Err() != nil
		e.finish(r, summary.TotalProcessed, err)
		return r.report, err
	}

	steps, err := cleaner.Clean(ctx, &cat.ID)
	r.report.Clean = steps
	if err != nil {
		r.report.AddError(err)
		if util.IsFatalStorageError(err) || ctx.Err() != nil {
			e.finish(r, summary.TotalProcessed, err)
			return r.report, err
		}
	}

	if err := e.store.TouchLastUpdate(ctx, cat.ID, e.clock.Now()); err != nil {
		return r.report, util.StorageError("touch last_update", err)
	}
	e.finish(r, summary.TotalProcessed, nil)
	return r.report, nil
}

// Clean runs the file-existence sweep of a local catalog and then the
// referential sweep. Remote catalogs only get the referential sweep.
func (e *Engine) Clean(ctx context.Context, id int64) (*report.RunReport, error) {
	cat, err := e.catalog(ctx, id)
	if err != nil {
		return nil, err
	}
	r := e.newRun(cat, "clean")
	cleaner := e.cleaner(r)

	processed := 0
	if !cat.IsRemote() {
		sweep, err := cleaner.SweepFiles(ctx, cat)
		if err != nil {
			r.report.AddError(err)
			e.finish(r, 0, err)
			return r.report, err
		}
		processed = sweep.Checked
		r.report.Disabled = len(sweep.Disabled)
		r.report.Errors = append(r.report.Errors, sweep.Errors...)
	}

	steps, err := cleaner.Clean(ctx, &cat.ID)
	r.report.Clean = steps
	if err != nil {
		r.report.AddError(err)
		if util.IsFatalStorageError(err) || ctx.Err() != nil {
			e.finish(r, processed, err)
			return r.report, err
		}
	}

	if err := e.store.TouchLastClean(ctx, cat.ID, e.clock.Now()); err != nil {
		return r.report, util.StorageError("touch last_clean", err)
	}
	e.finish(r, processed, nil)
	return r.report, nil
}

// Stats summarizes one catalog, or all of them when id is nil
func (e *Engine) Stats(ctx context.Context, id *int64) (*store.SongStats, error) {
	if id != nil {
		if _, err := e.catalog(ctx, *id); err != nil {
			return nil, err
		}
	}
	stats, err := e.store.CountSongs(ctx, id)
	if err != nil {
		return nil, util.StorageError("count songs", err)
	}
	return stats, nil
}

// Item kinds accepted by UpdateSingleItem
const (
	ItemSong   = store.ObjectSong
	ItemAlbum  = store.ObjectAlbum
	ItemArtist = store.ObjectArtist
)

// UpdateSingleItem reconciles one song, or every song of an album or
// artist, and then sweeps entities the changes orphaned. Songs of remote
// catalogs have no local file and are skipped.
func (e *Engine) UpdateSingleItem(ctx context.Context, kind string, id int64) ([]*ReconcileResult, error) {
	var ids []int64
	var err error
	switch kind {
	case ItemSong:
		ids = []int64{id}
	case ItemAlbum:
		ids, err = e.store.SongIDsByAlbum(ctx, id)
	case ItemArtist:
		ids, err = e.store.SongIDsByArtist(ctx, id)
	default:
		return nil, fmt.Errorf("%w: item kind %q", util.ErrUnsupported, kind)
	}
	if err != nil {
		return nil, util.StorageError("list "+kind+" songs", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}

	resolver := NewResolver(e.store, e.prefixes)
	rec := NewReconciler(e.store, e.extractor, resolver, e.clock)
	remoteCatalogs := make(map[int64]bool)

	var results []*ReconcileResult
	var errs []error
	for _, songID := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		song, err := e.store.GetSong(ctx, songID)
		if err != nil {
			return results, util.StorageError("get song", err)
		}
		if song == nil {
			errs = append(errs, fmt.Errorf("song %d: %w", songID, ErrNotFound))
			continue
		}

		isRemote, seen := remoteCatalogs[song.CatalogID]
		if !seen {
			cat, err := e.catalog(ctx, song.CatalogID)
			if err != nil {
				return results, err
			}
			isRemote = cat.IsRemote()
			remoteCatalogs[song.CatalogID] = isRemote
		}
		if isRemote {
			util.DebugLog("Skipping remote song %d", songID)
			continue
		}

		res, err := rec.Reconcile(ctx, song)
		if err != nil {
			if util.IsFatalStorageError(err) {
				return results, err
			}
			errs = append(errs, err)
			continue
		}
		if res.Changed {
			e.logger.LogUpdate(song.ID, song.File, res.Diff)
			util.InfoLog("Updated %s: %s", song.File, res.Diff)
		}
		results = append(results, res)
	}

	if _, err := clean.New(&clean.Config{Store: e.store, Fs: e.fs, Logger: e.logger, Clock: e.clock}).Clean(ctx, nil); err != nil {
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}

// SyncAll adds to every listed catalog with at most concurrency runs at
// once. Each run has its own resolver and file cache. Reports are returned
// in the order of ids; a failed run leaves a nil report or a partial one,
// and its error is joined into the result.
func (e *Engine) SyncAll(ctx context.Context, ids []int64, concurrency int) ([]*report.RunReport, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	reports := make([]*report.RunReport, len(ids))

	p := pool.New().WithMaxGoroutines(concurrency).WithContext(ctx)
	for i, id := range ids {
		p.Go(func(ctx context.Context) error {
			rep, err := e.Add(ctx, id)
			reports[i] = rep
			if err != nil {
				return fmt.Errorf("catalog %d: %w", id, err)
			}
			return nil
		})
	}
	err := p.Wait()
	return reports, err
}
