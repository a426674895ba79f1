package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/franz/media-catalog/internal/report"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
)

// Key selects which song attributes make two songs duplicates. Titles are
// always compared without regard to case.
type Key string

const (
	KeyTitle            Key = "title"
	KeyArtistTitle      Key = "artist_title"
	KeyArtistAlbumTitle Key = "artist_album_title"
)

// candidateLimit is how many songs of a group are offered for review
const candidateLimit = 2

// ParseKey converts a command-line value into a Key
func ParseKey(s string) (Key, error) {
	switch k := Key(strings.ToLower(strings.TrimSpace(s))); k {
	case KeyTitle, KeyArtistTitle, KeyArtistAlbumTitle:
		return k, nil
	case "":
		return KeyTitle, nil
	default:
		return "", fmt.Errorf("unknown duplicate key %q (want title, artist_title or artist_album_title)", s)
	}
}

func (k Key) query(includeDisabled bool) store.DuplicateQuery {
	return store.DuplicateQuery{
		ByArtist:        k == KeyArtistTitle || k == KeyArtistAlbumTitle,
		ByAlbum:         k == KeyArtistAlbumTitle,
		IncludeDisabled: includeDisabled,
	}
}

// Group is a set of songs sharing a key
type Group struct {
	Key      Key
	Title    string
	ArtistID int64
	Artist   string
	AlbumID  int64
	Album    string
	Count    int

	group *store.DuplicateGroup
}

// Store is the slice of the catalog store the detector reads
type Store interface {
	DuplicateGroups(ctx context.Context, q store.DuplicateQuery) ([]*store.DuplicateGroup, error)
	DuplicateCandidates(ctx context.Context, q store.DuplicateQuery, g *store.DuplicateGroup, limit int) ([]int64, error)
}

// Config holds detector configuration
type Config struct {
	Store           Store
	Logger          *report.EventLogger
	IncludeDisabled bool
}

// Detector finds songs that look like duplicates of each other. It only
// reports; nothing is modified.
type Detector struct {
	store           Store
	logger          *report.EventLogger
	includeDisabled bool
}

// New creates a new Detector
func New(cfg *Config) *Detector {
	return &Detector{
		store:           cfg.Store,
		logger:          cfg.Logger,
		includeDisabled: cfg.IncludeDisabled,
	}
}

// Find returns every group of more than one song sharing key, smallest
// groups first
func (d *Detector) Find(ctx context.Context, key Key) ([]*Group, error) {
	rows, err := d.store.DuplicateGroups(ctx, key.query(d.includeDisabled))
	if err != nil {
		return nil, util.StorageError("find duplicates", err)
	}

	groups := make([]*Group, len(rows))
	for i, g := range rows {
		groups[i] = &Group{
			Key:      key,
			Title:    g.Title,
			ArtistID: g.ArtistID,
			Artist:   g.Artist,
			AlbumID:  g.AlbumID,
			Album:    g.Album,
			Count:    g.Count,
			group:    g,
		}
	}
	util.DebugLog("Found %d duplicate groups by %s", len(groups), key)
	return groups, nil
}

// Candidates returns at most two song IDs of a group, shortest duration
// first, then lowest bitrate, then smallest file
func (d *Detector) Candidates(ctx context.Context, g *Group) ([]int64, error) {
	dg := g.group
	if dg == nil {
		dg = &store.DuplicateGroup{Title: g.Title, ArtistID: g.ArtistID, AlbumID: g.AlbumID}
	}

	ids, err := d.store.DuplicateCandidates(ctx, g.Key.query(d.includeDisabled), dg, candidateLimit)
	if err != nil {
		return nil, util.StorageError("duplicate candidates", err)
	}
	d.logger.LogDuplicate(g.Title, g.Count, ids)
	return ids, nil
}

// Label describes the group for display
func (g *Group) Label() string {
	parts := []string{g.Title}
	if g.Key == KeyArtistTitle || g.Key == KeyArtistAlbumTitle {
		parts = append(parts, g.Artist)
	}
	if g.Key == KeyArtistAlbumTitle {
		parts = append(parts, g.Album)
	}
	return strings.Join(parts, " / ")
}
