package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
)

// SongStore is the part of the store reconciliation writes through
type SongStore interface {
	IsFlagged(ctx context.Context, songID int64) (bool, error)
	UpdateSong(ctx context.Context, song *store.Song) error
	TagsFor(ctx context.Context, objectType string, objectID int64) ([]string, error)
	MapTag(ctx context.Context, tagID int64, objectType string, objectID int64) error
}

// ReconcileResult describes what reconciling one song did
type ReconcileResult struct {
	SongID  int64
	Path    string
	Changed bool
	Flagged bool // skipped: metadata is pinned by an administrator
	Fields  []string
	Diff    string
}

// Reconciler re-reads a song's tags and updates the row only when
// something differs
type Reconciler struct {
	store     SongStore
	extractor meta.Extractor
	resolver  *Resolver
	clock     clockwork.Clock
}

// NewReconciler creates a reconciler sharing a run's resolver
func NewReconciler(st SongStore, extractor meta.Extractor, resolver *Resolver, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{store: st, extractor: extractor, resolver: resolver, clock: clock}
}

type fieldDiff struct {
	name     string
	old, new any
}

func compareSongs(old, cand *store.Song) []fieldDiff {
	var diffs []fieldDiff
	add := func(name string, o, n any) {
		if o != n {
			diffs = append(diffs, fieldDiff{name: name, old: o, new: n})
		}
	}
	add("title", old.Title, cand.Title)
	add("artist", old.ArtistID, cand.ArtistID)
	add("album", old.AlbumID, cand.AlbumID)
	add("track", old.Track, cand.Track)
	add("disk", old.Disk, cand.Disk)
	add("year", old.Year, cand.Year)
	add("bitrate", old.Bitrate, cand.Bitrate)
	add("rate", old.SampleRate, cand.SampleRate)
	add("mode", old.Mode, cand.Mode)
	add("size", old.Size, cand.Size)
	add("time", old.Duration, cand.Duration)
	add("comment", old.Comment, cand.Comment)
	return diffs
}

// missingTags returns the names not already mapped, ignoring case
func missingTags(existing, names []string) []string {
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[strings.ToLower(t)] = true
	}
	var missing []string
	for _, n := range names {
		n = meta.NormalizeName(n)
		if n == "" || have[strings.ToLower(n)] {
			continue
		}
		have[strings.ToLower(n)] = true
		missing = append(missing, n)
	}
	return missing
}

func formatDiff(diffs []fieldDiff, tags []string) string {
	parts := make([]string, 0, len(diffs)+1)
	for _, d := range diffs {
		switch d.old.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s: %q -> %q", d.name, d.old, d.new))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v -> %v", d.name, d.old, d.new))
		}
	}
	if len(tags) > 0 {
		parts = append(parts, "tags: +"+strings.Join(tags, ", +"))
	}
	return strings.Join(parts, "; ")
}

// Reconcile compares the song's current tags with the stored row. Nothing
// is written when every compared field matches.
func (r *Reconciler) Reconcile(ctx context.Context, song *store.Song) (*ReconcileResult, error) {
	result := &ReconcileResult{SongID: song.ID, Path: song.File}

	flagged, err := r.store.IsFlagged(ctx, song.ID)
	if err != nil {
		return nil, util.StorageError("check flagged", err)
	}
	if flagged {
		result.Flagged = true
		return result, nil
	}

	rec, err := r.extractor.Extract(song.File)
	if err != nil {
		if util.KindOf(err) == nil {
			err = util.NewSyncError(util.ErrExtraction, song.File, err)
		}
		return nil, err
	}

	cand, err := candidate(ctx, r.resolver, rec, song.File)
	if err != nil {
		return nil, err
	}

	existing, err := r.store.TagsFor(ctx, store.ObjectSong, song.ID)
	if err != nil {
		return nil, util.StorageError("load tags", err)
	}

	diffs := compareSongs(song, cand)
	tags := missingTags(existing, rec.Genres)
	if len(diffs) == 0 && len(tags) == 0 {
		return result, nil
	}

	for _, d := range diffs {
		result.Fields = append(result.Fields, d.name)
	}
	if len(tags) > 0 {
		result.Fields = append(result.Fields, "tags")
	}
	result.Diff = formatDiff(diffs, tags)
	result.Changed = true

	if len(diffs) > 0 {
		cand.ID = song.ID
		cand.CatalogID = song.CatalogID
		cand.AdditionTime = song.AdditionTime
		cand.Enabled = song.Enabled
		cand.UpdateTime = r.clock.Now()
		if err := r.store.UpdateSong(ctx, cand); err != nil {
			return nil, util.NewSyncError(util.ErrStorage, song.File, err)
		}
		*song = *cand
	}

	for _, name := range tags {
		tagID, err := r.resolver.Tag(ctx, name)
		if err != nil {
			return result, err
		}
		if err := r.store.MapTag(ctx, tagID, store.ObjectSong, song.ID); err != nil {
			return result, util.StorageError("map tag", err)
		}
	}

	return result, nil
}
