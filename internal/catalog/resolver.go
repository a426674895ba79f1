package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/util"
)

// UnknownName replaces blank artist and album names
const UnknownName = "Unknown (Orphaned)"

// EntityStore is the part of the store the resolver reads and writes
type EntityStore interface {
	FindArtist(ctx context.Context, name string) (int64, bool, error)
	InsertArtist(ctx context.Context, name, prefix string) (int64, error)
	FindAlbum(ctx context.Context, name string, year, disk int, prefix string) (int64, bool, error)
	InsertAlbum(ctx context.Context, name string, year, disk int, prefix string) (int64, error)
	AlbumHasArt(ctx context.Context, albumID int64) (bool, error)
	FindTag(ctx context.Context, name string) (int64, bool, error)
	InsertTag(ctx context.Context, name string) (int64, error)
}

type albumKey struct {
	name   string
	prefix string
	year   int
	disk   int
}

// Resolver maps artist, album and tag names to IDs, creating rows on first
// sight. One Resolver belongs to one synchronization run and is not safe
// for concurrent use; concurrent runs each build their own.
type Resolver struct {
	store    EntityStore
	prefixes *meta.PrefixMatcher

	artists  map[string]int64
	albums   map[albumKey]int64
	tags     map[string]int64
	needsArt map[int64]bool
}

// NewResolver creates a resolver with empty caches. A nil matcher strips
// no prefixes.
func NewResolver(st EntityStore, prefixes *meta.PrefixMatcher) *Resolver {
	return &Resolver{
		store:    st,
		prefixes: prefixes,
		artists:  make(map[string]int64),
		albums:   make(map[albumKey]int64),
		tags:     make(map[string]int64),
		needsArt: make(map[int64]bool),
	}
}

func (r *Resolver) split(name string) (prefix, rest string) {
	prefix, rest = r.prefixes.Split(name)
	if rest == "" {
		rest = UnknownName
	}
	return prefix, rest
}

// Artist resolves an artist name. Case, surrounding and repeated
// whitespace, and a configured prefix do not change the result.
func (r *Resolver) Artist(ctx context.Context, name string) (int64, error) {
	prefix, rest := r.split(name)
	key := meta.NameKey(rest)
	if id, ok := r.artists[key]; ok {
		return id, nil
	}

	id, found, err := r.store.FindArtist(ctx, rest)
	if err != nil {
		return 0, util.StorageError("find artist", err)
	}
	if !found {
		if id, err = r.store.InsertArtist(ctx, rest, prefix); err != nil {
			return 0, util.StorageError("insert artist", err)
		}
		util.DebugLog("New artist %q (%d)", rest, id)
	}

	r.artists[key] = id
	return id, nil
}

// Album resolves an album. Two albums are the same only when name, year,
// disk and prefix all match. Albums without art are remembered for a later
// art pass.
func (r *Resolver) Album(ctx context.Context, name string, year, disk int) (int64, error) {
	prefix, rest := r.split(name)
	key := albumKey{name: meta.NameKey(rest), prefix: strings.ToLower(prefix), year: year, disk: disk}
	if id, ok := r.albums[key]; ok {
		return id, nil
	}

	id, found, err := r.store.FindAlbum(ctx, rest, year, disk, prefix)
	if err != nil {
		return 0, util.StorageError("find album", err)
	}
	if found {
		hasArt, err := r.store.AlbumHasArt(ctx, id)
		if err != nil {
			return 0, util.StorageError("check album art", err)
		}
		if !hasArt {
			r.needsArt[id] = true
		}
	} else {
		if id, err = r.store.InsertAlbum(ctx, rest, year, disk, prefix); err != nil {
			return 0, util.StorageError("insert album", err)
		}
		r.needsArt[id] = true
		util.DebugLog("New album %q (%d)", rest, id)
	}

	r.albums[key] = id
	return id, nil
}

// Tag resolves a tag name; tags are matched exactly after normalization
func (r *Resolver) Tag(ctx context.Context, name string) (int64, error) {
	name = meta.NormalizeName(name)
	if id, ok := r.tags[name]; ok {
		return id, nil
	}

	id, found, err := r.store.FindTag(ctx, name)
	if err != nil {
		return 0, util.StorageError("find tag", err)
	}
	if !found {
		if id, err = r.store.InsertTag(ctx, name); err != nil {
			return 0, util.StorageError("insert tag", err)
		}
	}

	r.tags[name] = id
	return id, nil
}

// NeedsArt returns the albums seen this run that have no art, ascending
func (r *Resolver) NeedsArt() []int64 {
	ids := make([]int64, 0, len(r.needsArt))
	for id := range r.needsArt {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
