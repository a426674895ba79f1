package catalog

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/scan"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// PlaylistPrefix names playlists created from imported M3U files
const PlaylistPrefix = "M3U - "

// PlaylistStore is the part of the store the import pass needs
type PlaylistStore interface {
	SongIDByFile(ctx context.Context, catalogID int64, file string) (int64, bool, error)
	FindSongIDByFileSuffix(ctx context.Context, catalogID int64, suffix string) (int64, bool, error)
	FindPlaylist(ctx context.Context, name string) (*store.Playlist, error)
	CreatePlaylist(ctx context.Context, p *store.Playlist) error
	AddPlaylistSongs(ctx context.Context, playlistID int64, songIDs []int64) error
}

// PlaylistImport is the outcome of importing one playlist file
type PlaylistImport struct {
	Path       string
	PlaylistID int64
	Resolved   int
	Missing    []string
	Existing   bool // a playlist of the same name was already there
}

// PlaylistImporter turns queued M3U files into public playlists of the
// catalog's songs
type PlaylistImporter struct {
	store     PlaylistStore
	fs        afero.Fs
	cache     *scan.FileCache
	catalogID int64
	logger    *report.EventLogger
	clock     clockwork.Clock
}

// NewPlaylistImporter creates an importer. cache may be nil.
func NewPlaylistImporter(st PlaylistStore, fs afero.Fs, cache *scan.FileCache, catalogID int64, logger *report.EventLogger, clock clockwork.Clock) *PlaylistImporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PlaylistImporter{store: st, fs: fs, cache: cache, catalogID: catalogID, logger: logger, clock: clock}
}

// PlaylistName returns the playlist name for an M3U file
func PlaylistName(path string) string {
	base := filepath.Base(path)
	return PlaylistPrefix + strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseM3U returns the entries of an M3U or extended M3U file in order.
// Relative entries are resolved against the playlist's directory.
func ParseM3U(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dir := filepath.Dir(path)
	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.ReplaceAll(line, "\\", "/")
		if strings.Contains(line, "://") {
			entries = append(entries, line)
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(dir, line)
		}
		entries = append(entries, filepath.Clean(line))
	}
	return entries, scanner.Err()
}

// resolve finds the song for a playlist entry: exact path first, then any
// cataloged file with the entry's file name, this catalog's first
func (p *PlaylistImporter) resolve(ctx context.Context, entry string) (int64, bool, error) {
	if p.cache != nil {
		if id, ok := p.cache.Lookup(entry); ok {
			return id, true, nil
		}
	}
	id, found, err := p.store.SongIDByFile(ctx, p.catalogID, entry)
	if err != nil || found {
		return id, found, err
	}
	return p.store.FindSongIDByFileSuffix(ctx, p.catalogID, "/"+filepath.Base(entry))
}

// Import parses one playlist file and creates its playlist. A file whose
// playlist already exists is left alone, so re-adding a catalog does not
// duplicate playlists.
func (p *PlaylistImporter) Import(ctx context.Context, path string) (*PlaylistImport, error) {
	result := &PlaylistImport{Path: path}
	name := PlaylistName(path)

	existing, err := p.store.FindPlaylist(ctx, name)
	if err != nil {
		return nil, util.StorageError("find playlist", err)
	}
	if existing != nil {
		result.PlaylistID = existing.ID
		result.Existing = true
		util.DebugLog("Playlist %q already imported", name)
		return result, nil
	}

	entries, err := ParseM3U(p.fs, path)
	if err != nil {
		return nil, util.NewSyncError(util.ErrPath, path, err)
	}

	var ids []int64
	for _, entry := range entries {
		id, found, err := p.resolve(ctx, entry)
		if err != nil {
			return nil, util.StorageError("resolve playlist entry", err)
		}
		if !found {
			result.Missing = append(result.Missing, entry)
			continue
		}
		ids = append(ids, id)
	}
	result.Resolved = len(ids)

	if len(ids) == 0 {
		p.logger.LogPlaylist(path, 0, 0, len(result.Missing))
		return result, util.NewSyncError(util.ErrIntegrity, path,
			fmt.Errorf("none of %d entries matched a cataloged song", len(entries)))
	}

	pl := &store.Playlist{Name: name, Type: "public", Date: p.clock.Now().Unix()}
	if err := p.store.CreatePlaylist(ctx, pl); err != nil {
		return nil, util.StorageError("create playlist", err)
	}
	if err := p.store.AddPlaylistSongs(ctx, pl.ID, ids); err != nil {
		return nil, util.StorageError("add playlist songs", err)
	}
	result.PlaylistID = pl.ID

	p.logger.LogPlaylist(path, pl.ID, result.Resolved, len(result.Missing))
	util.InfoLog("Imported playlist %q: %d songs, %d not found", name, result.Resolved, len(result.Missing))
	return result, nil
}

// ImportAll imports every queued playlist. Per-file problems are returned
// as report entries; only fatal storage errors stop the pass.
func (p *PlaylistImporter) ImportAll(ctx context.Context, paths []string) (imported int, errs []error, err error) {
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return imported, errs, err
		}
		res, ierr := p.Import(ctx, path)
		if ierr != nil {
			if util.IsFatalStorageError(ierr) {
				return imported, errs, ierr
			}
			errs = append(errs, ierr)
			continue
		}
		if !res.Existing {
			imported++
		}
	}
	return imported, errs, nil
}
