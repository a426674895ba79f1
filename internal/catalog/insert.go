package catalog

import (
	"context"
	"errors"

	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/remote"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
)

// Inserter turns extracted or replicated metadata into song rows
type Inserter struct {
	store     *store.Store
	extractor meta.Extractor
	resolver  *Resolver
	catalogID int64
	clock     clockwork.Clock
}

// NewInserter creates an inserter for one catalog and one run
func NewInserter(st *store.Store, extractor meta.Extractor, resolver *Resolver, catalogID int64, clock clockwork.Clock) *Inserter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Inserter{
		store:     st,
		extractor: extractor,
		resolver:  resolver,
		catalogID: catalogID,
		clock:     clock,
	}
}

// candidate builds a song from a tag record the same way for inserts and
// reconciliation: resolved artist and album, non-empty title
func candidate(ctx context.Context, r *Resolver, rec *meta.TagRecord, path string) (*store.Song, error) {
	artistID, err := r.Artist(ctx, rec.Artist)
	if err != nil {
		return nil, err
	}
	albumID, err := r.Album(ctx, rec.Album, rec.Year, rec.Disk)
	if err != nil {
		return nil, err
	}

	return &store.Song{
		File:       path,
		Title:      meta.CheckTitle(rec.Title, path),
		ArtistID:   artistID,
		AlbumID:    albumID,
		Track:      rec.Track,
		Disk:       rec.Disk,
		Year:       rec.Year,
		Bitrate:    rec.Bitrate,
		SampleRate: rec.SampleRate,
		Mode:       rec.Mode,
		Size:       rec.Size,
		Duration:   rec.Duration,
		Mime:       rec.Mime,
		Comment:    rec.Comment,
		Lyrics:     rec.Lyrics,
	}, nil
}

// InsertLocal extracts the file's tags and catalogs it. It satisfies
// scan.HandlerFunc.
func (i *Inserter) InsertLocal(ctx context.Context, path string) (int64, error) {
	rec, err := i.extractor.Extract(path)
	if err != nil {
		if util.KindOf(err) == nil {
			err = util.NewSyncError(util.ErrExtraction, path, err)
		}
		return 0, err
	}

	song, err := candidate(ctx, i.resolver, rec, path)
	if err != nil {
		return 0, err
	}
	if err := i.insert(ctx, song); err != nil {
		return 0, err
	}
	if err := i.mapTags(ctx, song.ID, rec.Genres); err != nil {
		util.WarnLog("Tags for %s not mapped: %v", path, err)
	}

	util.DebugLog("Inserted %s (%d)", path, song.ID)
	return song.ID, nil
}

func (i *Inserter) insert(ctx context.Context, song *store.Song) error {
	now := i.clock.Now()
	song.CatalogID = i.catalogID
	song.AdditionTime = now
	song.UpdateTime = now
	song.Enabled = true

	if err := i.store.InsertSong(ctx, song); err != nil {
		return util.NewSyncError(util.ErrStorage, song.File, err)
	}
	return nil
}

// mapTags resolves each tag name and maps it to the song. All names are
// attempted; the failures are joined.
func (i *Inserter) mapTags(ctx context.Context, songID int64, names []string) error {
	var errs []error
	for _, name := range names {
		if meta.NormalizeName(name) == "" {
			continue
		}
		tagID, err := i.resolver.Tag(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := i.store.MapTag(ctx, tagID, store.ObjectSong, songID); err != nil {
			errs = append(errs, util.StorageError("map tag", err))
		}
	}
	return errors.Join(errs...)
}

// MergeRemote stores a replicated song under its rewritten stream URL.
// Songs already replicated under the same URL are not inserted again.
func (i *Inserter) MergeRemote(ctx context.Context, rs *remote.Song, file string) (int64, bool, error) {
	id, found, err := i.store.SongIDByFile(ctx, i.catalogID, file)
	if err != nil {
		return 0, false, util.NewSyncError(util.ErrStorage, file, err)
	}
	if found {
		return id, false, nil
	}

	rec := &meta.TagRecord{
		Title:      rs.Title,
		Artist:     rs.Artist,
		Album:      rs.Album,
		Year:       rs.Year,
		Track:      rs.Track,
		Disk:       rs.Disk,
		Genres:     rs.Tags,
		Comment:    rs.Comment,
		Bitrate:    rs.Bitrate,
		SampleRate: rs.SampleRate,
		Mode:       rs.Mode,
		Size:       rs.Size,
		Duration:   rs.Duration,
		Mime:       rs.Mime,
	}
	song, err := candidate(ctx, i.resolver, rec, file)
	if err != nil {
		return 0, false, err
	}
	if err := i.insert(ctx, song); err != nil {
		return 0, false, err
	}
	if err := i.mapTags(ctx, song.ID, rs.Tags); err != nil {
		util.WarnLog("Tags for remote song %d not mapped: %v", rs.ID, err)
	}
	return song.ID, true, nil
}
