package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// AudioExtensions are the default supported audio file extensions
var AudioExtensions = []string{
	".mp3",
	".flac",
	".m4a",
	".aac",
	".ogg",
	".opus",
	".wav",
	".aiff",
	".aif",
	".wma",
	".ape",
	".wv",  // WavPack
	".mpc", // Musepack
}

// PlaylistExtensions are queued for the playlist import pass
var PlaylistExtensions = []string{".m3u"}

// maxDepth bounds recursion through followed symlinks
const maxDepth = 128

// Handler catalogs one audio file and returns the new song ID
type Handler interface {
	Handle(ctx context.Context, path string) (int64, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, path string) (int64, error)

func (f HandlerFunc) Handle(ctx context.Context, path string) (int64, error) {
	return f(ctx, path)
}

// Config holds crawler configuration
type Config struct {
	Fs    afero.Fs
	Cache *FileCache

	// Extensions replaces AudioExtensions when set
	Extensions         []string
	PlaylistExtensions []string
	ParsePlaylists     bool
	NoSymlinks         bool

	Charset       *meta.CharsetValidator
	Progress      report.Progress
	ProgressEvery int
	Logger        *report.EventLogger
	Clock         clockwork.Clock
}

// Crawler walks a catalog root depth-first and hands new audio files to a
// Handler
type Crawler struct {
	fs         afero.Fs
	cache      *FileCache
	extensions map[string]bool
	playlists  map[string]bool
	noSymlinks bool
	charset    *meta.CharsetValidator
	progress   report.Progress
	every      int
	logger     *report.EventLogger
	clock      clockwork.Clock
}

// Result represents a crawl result
type Result struct {
	Inserted  int
	Known     int      // skipped because the file cache already had them
	Queued    []string // playlists for the import pass
	Errors    []error
	Processed int
	Summary   report.Summary
}

// New creates a new Crawler
func New(cfg *Config) *Crawler {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewFileCache(nil, 0)
	}
	charset := cfg.Charset
	if charset == nil {
		charset, _ = meta.NewCharsetValidator("")
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = AudioExtensions
	}
	playlistExts := cfg.PlaylistExtensions
	if len(playlistExts) == 0 {
		playlistExts = PlaylistExtensions
	}

	c := &Crawler{
		fs:         fs,
		cache:      cache,
		extensions: extensionSet(exts),
		playlists:  make(map[string]bool),
		noSymlinks: cfg.NoSymlinks,
		charset:    charset,
		progress:   cfg.Progress,
		every:      cfg.ProgressEvery,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if cfg.ParsePlaylists {
		c.playlists = extensionSet(playlistExts)
	}
	return c
}

func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// crawl is the state of a single Crawl call
type crawl struct {
	*Crawler
	handler Handler
	result  *Result
	ticker  *report.Ticker

	// directories on the current descent path, for symlink loop detection
	ancestors []os.FileInfo
}

// Crawl walks root and hands every new audio file to h. Per-file and
// per-directory problems are collected in Result.Errors; the returned error
// is non-nil only when the run stops early (cancellation, file cache
// failure or an unusable database connection).
func (c *Crawler) Crawl(ctx context.Context, root string, h Handler) (*Result, error) {
	result := &Result{}
	if err := c.cache.Load(ctx); err != nil {
		return result, err
	}

	root = util.TrimRoot(root)
	util.InfoLog("Crawling %s (%d files already cataloged)", root, c.cache.Len())

	cr := &crawl{
		Crawler: c,
		handler: h,
		result:  result,
		ticker:  report.NewTicker("crawl", c.every, c.progress, c.clock),
	}
	if info, err := c.fs.Stat(root); err == nil {
		cr.ancestors = append(cr.ancestors, info)
	}
	err := cr.walk(ctx, root, 0)

	result.Processed = cr.ticker.Count()
	result.Summary = cr.ticker.Finish()

	if err != nil {
		return result, err
	}
	util.SuccessLog("Crawl complete: %d inserted, %d known, %d playlists queued, %d errors",
		result.Inserted, result.Known, len(result.Queued), len(result.Errors))
	return result, nil
}

func (cr *crawl) fail(err error) {
	cr.result.Errors = append(cr.result.Errors, err)
	cr.logger.LogSkip(pathOf(err), err)
}

func pathOf(err error) string {
	var se *util.SyncError
	if errors.As(err, &se) {
		return se.Path
	}
	return ""
}

func (cr *crawl) walk(ctx context.Context, dir string, depth int) error {
	if depth > maxDepth {
		cr.fail(util.NewSyncError(util.ErrPath, dir, fmt.Errorf("directory nesting deeper than %d", maxDepth)))
		return nil
	}

	entries, err := afero.ReadDir(cr.fs, dir)
	if err != nil {
		util.WarnLog("Cannot read directory %s: %v", dir, err)
		cr.fail(util.NewSyncError(util.ErrPath, dir, err))
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}

		path := filepath.Join(dir, name)

		if cr.cache.Contains(path) {
			cr.result.Known++
			continue
		}

		info := entry
		if entry.Mode()&os.ModeSymlink != 0 {
			if cr.noSymlinks {
				util.TraceLog("Skipping symlink %s", path)
				continue
			}
			info, err = cr.fs.Stat(path)
			if err != nil {
				cr.fail(util.NewSyncError(util.ErrPath, path, fmt.Errorf("broken symlink: %w", err)))
				continue
			}
		}

		if info.IsDir() {
			if cr.isAncestor(info) {
				cr.fail(util.NewSyncError(util.ErrPath, path, errors.New("symlink loops back to a parent directory")))
				continue
			}
			cr.ancestors = append(cr.ancestors, info)
			err := cr.walk(ctx, path, depth+1)
			cr.ancestors = cr.ancestors[:len(cr.ancestors)-1]
			if err != nil {
				return err
			}
			continue
		}

		if err := cr.visitFile(ctx, path, info); err != nil {
			return err
		}
	}
	return nil
}

// isAncestor reports whether dir is one of the directories being walked.
// Entries from afero.ReadDir are lstat results, so a plain subdirectory
// never matches its parent; only a followed symlink can.
func (cr *crawl) isAncestor(dir os.FileInfo) bool {
	for _, a := range cr.ancestors {
		if os.SameFile(a, dir) {
			return true
		}
	}
	return false
}

// visitFile applies the extension, size, readability and charset checks,
// then queues playlists or inserts audio. Only fatal errors are returned.
func (cr *crawl) visitFile(ctx context.Context, path string, info os.FileInfo) error {
	ext := strings.ToLower(filepath.Ext(path))
	playlist := cr.playlists[ext]
	if !playlist && !cr.extensions[ext] {
		util.TraceLog("Skipping %s: extension not cataloged", path)
		return nil
	}

	defer cr.ticker.Add(path)

	if info.Size() == 0 {
		cr.fail(util.NewSyncError(util.ErrPath, path, errors.New("file is empty")))
		return nil
	}
	if err := cr.readable(path); err != nil {
		cr.fail(util.NewSyncError(util.ErrPath, path, err))
		return nil
	}
	if err := cr.charset.Validate(path); err != nil {
		cr.fail(err)
		return nil
	}

	if playlist {
		cr.result.Queued = append(cr.result.Queued, path)
		return nil
	}

	id, err := cr.handler.Handle(ctx, path)
	if err != nil {
		if util.IsFatalStorageError(err) {
			return fmt.Errorf("aborting crawl at %s: %w", path, err)
		}
		util.DebugLog("Skipping %s: %v", path, err)
		if util.KindOf(err) == nil {
			err = util.NewSyncError(util.ErrStorage, path, err)
		}
		cr.fail(err)
		return nil
	}

	cr.cache.Add(path, id)
	cr.result.Inserted++
	cr.logger.LogInsert(id, path)
	return nil
}

func (cr *crawl) readable(path string) error {
	f, err := cr.fs.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
