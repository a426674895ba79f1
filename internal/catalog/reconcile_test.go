package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor serves tag records by path
type fakeExtractor struct {
	mu      sync.Mutex
	records map[string]*meta.TagRecord
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{records: make(map[string]*meta.TagRecord)}
}

func (f *fakeExtractor) set(path string, rec *meta.TagRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[path] = rec
}

func (f *fakeExtractor) Extract(path string) (*meta.TagRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[path]
	if !ok {
		return nil, util.NewSyncError(util.ErrExtraction, path, errors.New("no tags"))
	}
	cp := *rec
	cp.Genres = append([]string(nil), rec.Genres...)
	return &cp, nil
}

// countingStore records writes passing through to a real store
type countingStore struct {
	*store.Store
	updates int
	mapped  int
}

func (c *countingStore) UpdateSong(ctx context.Context, song *store.Song) error {
	c.updates++
	return c.Store.UpdateSong(ctx, song)
}

func (c *countingStore) MapTag(ctx context.Context, tagID int64, objectType string, objectID int64) error {
	c.mapped++
	return c.Store.MapTag(ctx, tagID, objectType, objectID)
}

func sampleRecord() *meta.TagRecord {
	return &meta.TagRecord{
		Title:      "Come Together",
		Artist:     "The Beatles",
		Album:      "Abbey Road",
		Year:       1969,
		Track:      1,
		Disk:       1,
		Genres:     []string{"Rock"},
		Bitrate:    320000,
		SampleRate: 44100,
		Mode:       "stereo",
		Size:       5_000_000,
		Duration:   259,
		Mime:       "audio/mpeg",
	}
}

type reconcileFixture struct {
	store     *countingStore
	extractor *fakeExtractor
	clock     *clockwork.FakeClock
	song      *store.Song
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	ctx := context.Background()
	st := openStore(t)

	cat := &store.Catalog{Name: "music", Path: "/music", Type: store.CatalogLocal, Enabled: true}
	require.NoError(t, st.InsertCatalog(ctx, cat))

	f := &reconcileFixture{
		store:     &countingStore{Store: st},
		extractor: newFakeExtractor(),
		clock:     clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	path := "/music/come_together.mp3"
	f.extractor.set(path, sampleRecord())

	prefixes := meta.NewPrefixMatcher(meta.DefaultPrefixTokens)
	ins := NewInserter(st, f.extractor, NewResolver(st, prefixes), cat.ID, f.clock)
	id, err := ins.InsertLocal(ctx, path)
	require.NoError(t, err)

	f.song, err = st.GetSong(ctx, id)
	require.NoError(t, err)
	return f
}

func (f *reconcileFixture) reconciler() *Reconciler {
	prefixes := meta.NewPrefixMatcher(meta.DefaultPrefixTokens)
	return NewReconciler(f.store, f.extractor, NewResolver(f.store.Store, prefixes), f.clock)
}

func TestReconcileUnchangedWritesNothing(t *testing.T) {
	f := newReconcileFixture(t)

	res, err := f.reconciler().Reconcile(context.Background(), f.song)
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.Empty(t, res.Diff)
	assert.Zero(t, f.store.updates)
	assert.Zero(t, f.store.mapped)
}

func TestReconcileUpdatesChangedFields(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	rec := sampleRecord()
	rec.Title = "Something"
	rec.Track = 2
	f.extractor.set(f.song.File, rec)
	f.clock.Advance(time.Hour)

	res, err := f.reconciler().Reconcile(ctx, f.song)
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, []string{"title", "track"}, res.Fields)
	assert.Contains(t, res.Diff, `title: "Come Together" -> "Something"`)
	assert.Equal(t, 1, f.store.updates)

	stored, err := f.store.GetSong(ctx, f.song.ID)
	require.NoError(t, err)
	assert.Equal(t, "Something", stored.Title)
	assert.Equal(t, 2, stored.Track)
	assert.True(t, stored.Enabled)
	assert.Equal(t, f.clock.Now().Unix(), stored.UpdateTime.Unix())

	// A second pass finds nothing left to do
	res, err = f.reconciler().Reconcile(ctx, stored)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, f.store.updates)
}

func TestReconcileAddsMissingTags(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	rec := sampleRecord()
	rec.Genres = []string{"rock", "Blues"}
	f.extractor.set(f.song.File, rec)

	res, err := f.reconciler().Reconcile(ctx, f.song)
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, []string{"tags"}, res.Fields)
	assert.Equal(t, "tags: +Blues", res.Diff)
	assert.Zero(t, f.store.updates, "only the tag map changes")
	assert.Equal(t, 1, f.store.mapped)

	tags, err := f.store.TagsFor(ctx, store.ObjectSong, f.song.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Rock", "Blues"}, tags)
}

func TestReconcileSkipsFlaggedSongs(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.FlagSong(ctx, f.song.ID, "hand-edited", f.clock.Now().Unix()))

	rec := sampleRecord()
	rec.Title = "Overwritten"
	f.extractor.set(f.song.File, rec)

	res, err := f.reconciler().Reconcile(ctx, f.song)
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.False(t, res.Changed)
	assert.Zero(t, f.store.updates)

	require.NoError(t, f.store.UnflagSong(ctx, f.song.ID))
	res, err = f.reconciler().Reconcile(ctx, f.song)
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

func TestReconcileExtractionFailure(t *testing.T) {
	f := newReconcileFixture(t)
	f.song.File = "/music/gone.mp3"

	_, err := f.reconciler().Reconcile(context.Background(), f.song)
	require.ErrorIs(t, err, util.ErrExtraction)
	assert.Zero(t, f.store.updates)
}
