package catalog

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/franz/media-catalog/internal/meta"
	"github.com/franz/media-catalog/internal/remote"
	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine    *Engine
	store     *store.Store
	fs        afero.Fs
	extractor *fakeExtractor
	clock     *clockwork.FakeClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:     openStore(t),
		fs:        afero.NewMemMapFs(),
		extractor: newFakeExtractor(),
		clock:     clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	e, err := New(&Config{
		Store:     f.store,
		Fs:        f.fs,
		Extractor: f.extractor,
		Clock:     f.clock,
		Retry:     &util.RetryConfig{MaxAttempts: 1},
		Options:   Options{ParsePlaylists: true, ProgressEvery: 10},
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

// addFile writes an audio file with the given tags
func (f *engineFixture) addFile(t *testing.T, path, title, artist, album string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, []byte("audio:"+title), 0644))
	f.extractor.set(path, &meta.TagRecord{
		Title: title, Artist: artist, Album: album, Year: 2001, Disk: 1,
		Genres: []string{"Rock"}, Bitrate: 192000, Size: int64(len("audio:" + title)), Duration: 200,
		Mime: "audio/mpeg",
	})
}

func (f *engineFixture) createLocal(t *testing.T, name, root string) *store.Catalog {
	t.Helper()
	require.NoError(t, f.fs.MkdirAll(root, 0755))
	cat := &store.Catalog{Name: name, Path: root + "/", Type: store.CatalogLocal}
	require.NoError(t, f.engine.Create(context.Background(), cat))
	return cat
}

func (f *engineFixture) songID(t *testing.T, catalogID int64, path string) int64 {
	t.Helper()
	id, found, err := f.store.SongIDByFile(context.Background(), catalogID, path)
	require.NoError(t, err)
	require.True(t, found, "song for %s", path)
	return id
}

func TestCreateValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	cat := f.createLocal(t, "Main", "/music")
	assert.Equal(t, "/music", cat.Path, "trailing separator trimmed")
	assert.True(t, cat.Enabled)

	err := f.engine.Create(ctx, &store.Catalog{Name: "Again", Path: "/music//"})
	assert.ErrorContains(t, err, "already uses /music")

	err = f.engine.Create(ctx, &store.Catalog{Name: "Missing", Path: "/nowhere"})
	assert.ErrorIs(t, err, util.ErrPath)

	err = f.engine.Create(ctx, &store.Catalog{Name: "Peer", Path: "ftp://peer", Type: store.CatalogRemote, RemoteKey: "k"})
	assert.Error(t, err)

	err = f.engine.Create(ctx, &store.Catalog{Name: "Peer", Path: "http://peer.example", Type: store.CatalogRemote})
	assert.ErrorContains(t, err, "requires a key")

	err = f.engine.Create(ctx, &store.Catalog{Name: "  ", Path: "/music"})
	assert.Error(t, err)
}

func TestAddLocalCatalogAndPlaylists(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	cat := f.createLocal(t, "Main", "/music")
	f.addFile(t, "/music/a/one.mp3", "One", "The Band", "First")
	f.addFile(t, "/music/b/two.mp3", "Two", "The Band", "First")
	f.addFile(t, "/music/b/three.mp3", "Three", "Solo", "B-Sides")
	require.NoError(t, afero.WriteFile(f.fs, "/music/b/notes.txt", []byte("ignored"), 0644))
	require.NoError(t, afero.WriteFile(f.fs, "/music/lists/mix.m3u", []byte(
		"#EXTM3U\n#EXTINF:200,One\n../a/one.mp3\n/elsewhere/two.mp3\nmissing.mp3\n"), 0644))

	rep, err := f.engine.Add(ctx, cat.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Inserted)
	assert.Equal(t, 1, rep.PlaylistsQueued)
	assert.Equal(t, 1, rep.PlaylistsImported)
	assert.Empty(t, rep.Errors)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "add", rep.Mode)

	pl, err := f.store.FindPlaylist(ctx, "M3U - mix")
	require.NoError(t, err)
	require.NotNil(t, pl)
	ids, err := f.store.PlaylistSongIDs(ctx, pl.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{
		f.songID(t, cat.ID, "/music/a/one.mp3"),
		f.songID(t, cat.ID, "/music/b/two.mp3"),
	}, ids)

	stored, err := f.store.GetCatalog(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Unix(), stored.LastAdd.Unix())

	// Nothing new on the second pass, and the playlist is not duplicated
	rep, err = f.engine.Add(ctx, cat.ID)
	require.NoError(t, err)
	assert.Zero(t, rep.Inserted)
	assert.Zero(t, rep.PlaylistsImported)

	stats, err := f.engine.Stats(ctx, &cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Songs)
	assert.Equal(t, 2, stats.Artists)
	assert.Equal(t, 2, stats.Albums)
}

func TestAddLocalSweepsOrphans(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	cat := f.createLocal(t, "Main", "/music")
	f.addFile(t, "/music/one.mp3", "One", "The Band", "First")

	// Left behind by an earlier run
	artistID, err := f.store.InsertArtist(ctx, "Nobody", "")
	require.NoError(t, err)
	albumID, err := f.store.InsertAlbum(ctx, "Nothing", 1990, 1, "")
	require.NoError(t, err)

	rep, err := f.engine.Add(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	require.NotEmpty(t, rep.Clean)
	assert.GreaterOrEqual(t, rep.CleanRemoved(), int64(2))

	artist, err := f.store.GetArtist(ctx, artistID)
	require.NoError(t, err)
	assert.Nil(t, artist)
	album, err := f.store.GetAlbum(ctx, albumID)
	require.NoError(t, err)
	assert.Nil(t, album)

	id := f.songID(t, cat.ID, "/music/one.mp3")
	song, err := f.store.GetSong(ctx, id)
	require.NoError(t, err)
	kept, err := f.store.GetArtist(ctx, song.ArtistID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "The Band", kept.Name)
}

func TestAddReportsExtractionFailures(t *testing.T) {
	f := newEngineFixture(t)
	cat := f.createLocal(t, "Main", "/music")
	f.addFile(t, "/music/good.mp3", "Good", "A", "B")
	require.NoError(t, afero.WriteFile(f.fs, "/music/untagged.mp3", []byte("x"), 0644))

	rep, err := f.engine.Add(context.Background(), cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], util.ErrExtraction)
	assert.True(t, rep.HasKind(util.ErrExtraction))
}

func TestVerifyDisablesUpdatesAndCleans(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	cat := f.createLocal(t, "Main", "/music")
	f.addFile(t, "/music/one.mp3", "One", "The Band", "First")
	f.addFile(t, "/music/two.mp3", "Two", "The Band", "First")
	f.addFile(t, "/music/three.mp3", "Three", "Solo", "B-Sides")
	_, err := f.engine.Add(ctx, cat.ID)
	require.NoError(t, err)

	three, err := f.store.GetSong(ctx, f.songID(t, cat.ID, "/music/three.mp3"))
	require.NoError(t, err)

	require.NoError(t, f.fs.Remove("/music/three.mp3"))
	rec, err := f.extractor.Extract("/music/one.mp3")
	require.NoError(t, err)
	rec.Title = "One (Remastered)"
	f.extractor.set("/music/one.mp3", rec)
	f.clock.Advance(time.Hour)

	rep, err := f.engine.Verify(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, "verify", rep.Mode)
	assert.Equal(t, 1, rep.Disabled)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, int64(2), rep.CleanRemoved(), "the disabled song's artist and album")

	artist, err := f.store.GetArtist(ctx, three.ArtistID)
	require.NoError(t, err)
	assert.Nil(t, artist)

	one, err := f.store.GetSong(ctx, f.songID(t, cat.ID, "/music/one.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "One (Remastered)", one.Title)

	stored, err := f.store.GetCatalog(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Unix(), stored.LastUpdate.Unix())

	// Verification converges
	rep, err = f.engine.Verify(ctx, cat.ID)
	require.NoError(t, err)
	assert.Zero(t, rep.Updated)
	assert.Zero(t, rep.Disabled)
	assert.Zero(t, rep.CleanRemoved())
}

func TestVerifyRefusesUnmountedRoot(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	cat := f.createLocal(t, "Main", "/music")
	f.addFile(t, "/music/one.mp3", "One", "A", "B")
	_, err := f.engine.Add(ctx, cat.ID)
	require.NoError(t, err)

	require.NoError(t, f.fs.RemoveAll("/music"))
	rep, err := f.engine.Verify(ctx, cat.ID)
	require.ErrorIs(t, err, util.ErrPath)
	assert.Zero(t, rep.Disabled)

	stats, err := f.engine.Stats(ctx, &cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enabled)
}

func TestCleanAndDelete(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	cat := f.createLocal(t, "Main", "/music")
	f.addFile(t, "/music/one.mp3", "One", "A", "B")
	f.addFile(t, "/music/empty.mp3", "Empty", "C", "D")
	_, err := f.engine.Add(ctx, cat.ID)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(f.fs, "/music/empty.mp3", nil, 0644))
	rep, err := f.engine.Clean(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Disabled)
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], util.ErrIntegrity)

	stored, err := f.store.GetCatalog(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Unix(), stored.LastClean.Unix())

	rep, err = f.engine.Delete(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deleted)

	_, err = f.engine.Add(ctx, cat.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := f.engine.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Songs)
	assert.Zero(t, stats.Tags, "tags of deleted songs are swept")
}

func TestUpdateSingleItem(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	cat := f.createLocal(t, "Main", "/music")
	f.addFile(t, "/music/one.mp3", "One", "A", "Album")
	f.addFile(t, "/music/two.mp3", "Two", "A", "Album")
	_, err := f.engine.Add(ctx, cat.ID)
	require.NoError(t, err)

	one, err := f.store.GetSong(ctx, f.songID(t, cat.ID, "/music/one.mp3"))
	require.NoError(t, err)

	rec, err := f.extractor.Extract("/music/two.mp3")
	require.NoError(t, err)
	rec.Track = 7
	f.extractor.set("/music/two.mp3", rec)

	results, err := f.engine.UpdateSingleItem(ctx, ItemAlbum, one.AlbumID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	changed := 0
	for _, r := range results {
		if r.Changed {
			changed++
			assert.Equal(t, []string{"track"}, r.Fields)
		}
	}
	assert.Equal(t, 1, changed)

	results, err = f.engine.UpdateSingleItem(ctx, ItemSong, one.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Changed)

	_, err = f.engine.UpdateSingleItem(ctx, ItemArtist, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.UpdateSingleItem(ctx, "playlist", 1)
	assert.ErrorIs(t, err, util.ErrUnsupported)
}

func TestSyncAll(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	first := f.createLocal(t, "First", "/first")
	second := f.createLocal(t, "Second", "/second")
	for i, name := range []string{"a", "b", "c"} {
		f.addFile(t, "/first/"+name+".mp3", strings.ToUpper(name), "Artist One", "Album One")
		if i < 2 {
			f.addFile(t, "/second/"+name+".mp3", strings.ToUpper(name), "Artist Two", "Album Two")
		}
	}

	reports, err := f.engine.SyncAll(ctx, []int64{first.ID, second.ID, 9999}, 2)
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, reports, 3)

	assert.Equal(t, 3, reports[0].Inserted)
	assert.Equal(t, 2, reports[1].Inserted)
	assert.Nil(t, reports[2])
	assert.NotEqual(t, reports[0].RunID, reports[1].RunID)
}

func TestRemoteReplication(t *testing.T) {
	ctx := context.Background()

	upstream := newEngineFixture(t)
	src := upstream.createLocal(t, "Upstream", "/music")
	upstream.addFile(t, "/music/one.mp3", "One", "The Band", "First")
	upstream.addFile(t, "/music/two.mp3", "Two", "The Band", "First")
	upstream.addFile(t, "/music/three.mp3", "Three", "Solo", "B-Sides")
	_, err := upstream.engine.Add(ctx, src.ID)
	require.NoError(t, err)

	server := remote.NewServer(&remote.ServerConfig{Store: upstream.store, Key: "shared", Fs: upstream.fs, Clock: upstream.clock})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	local := newEngineFixture(t)
	peer := &store.Catalog{Name: "Peer", Path: srv.URL + "/", Type: store.CatalogRemote, RemoteKey: "shared"}
	require.NoError(t, local.engine.Create(ctx, peer))
	assert.Equal(t, srv.URL, peer.Path)

	rep, err := local.engine.Add(ctx, peer.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote", rep.Mode)
	assert.Equal(t, 3, rep.Inserted)
	assert.Empty(t, rep.Errors)

	oneID := upstream.songID(t, src.ID, "/music/one.mp3")
	replicated := local.songID(t, peer.ID, remote.StreamURL(srv.URL, oneID))
	song, err := local.store.GetSong(ctx, replicated)
	require.NoError(t, err)
	assert.Equal(t, "One", song.Title)
	artist, err := local.store.GetArtist(ctx, song.ArtistID)
	require.NoError(t, err)
	assert.Equal(t, "Band", artist.Name)
	assert.Equal(t, "The", artist.Prefix)

	// Re-sync is idempotent; songs already replicated are skipped, even
	// when their upstream tags changed
	upSong, err := upstream.store.GetSong(ctx, oneID)
	require.NoError(t, err)
	upSong.Title = "One (Remaster)"
	require.NoError(t, upstream.store.UpdateSong(ctx, upSong))

	rep, err = local.engine.Add(ctx, peer.ID)
	require.NoError(t, err)
	assert.Zero(t, rep.Inserted)
	assert.Zero(t, rep.Updated)
	assert.Zero(t, rep.Deleted)
	song, err = local.store.GetSong(ctx, replicated)
	require.NoError(t, err)
	assert.Equal(t, "One", song.Title)

	// A song disabled upstream disappears downstream, along with its artist
	threeID := upstream.songID(t, src.ID, "/music/three.mp3")
	require.NoError(t, upstream.store.SetSongEnabled(ctx, threeID, false))

	rep, err = local.engine.Add(ctx, peer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Positive(t, rep.CleanRemoved())

	stats, err := local.engine.Stats(ctx, &peer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Songs)
	assert.Equal(t, 1, stats.Artists)

	// Verify on a remote catalog replicates again
	rep, err = local.engine.Verify(ctx, peer.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote", rep.Mode)
	assert.Zero(t, rep.Inserted)
}

func TestRemoteReplicationBadKey(t *testing.T) {
	ctx := context.Background()

	upstream := newEngineFixture(t)
	server := remote.NewServer(&remote.ServerConfig{Store: upstream.store, Key: "shared", Fs: upstream.fs, Clock: upstream.clock})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	local := newEngineFixture(t)
	peer := &store.Catalog{Name: "Peer", Path: srv.URL, Type: store.CatalogRemote, RemoteKey: "wrong"}
	require.NoError(t, local.engine.Create(ctx, peer))

	rep, err := local.engine.Add(ctx, peer.ID)
	require.ErrorIs(t, err, util.ErrRemoteProtocol)
	assert.True(t, remote.IsFault(err, remote.FaultBadKey))
	require.NotNil(t, rep)
	assert.Zero(t, rep.Inserted)
}
