package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCatalog(t *testing.T, s *Store, path string) *Catalog {
	t.Helper()
	c := &Catalog{Name: filepath.Base(path), Path: path, Type: CatalogLocal, Enabled: true}
	if err := s.InsertCatalog(context.Background(), c); err != nil {
		t.Fatalf("failed to insert catalog: %v", err)
	}
	return c
}

func mustSong(t *testing.T, s *Store, song *Song) *Song {
	t.Helper()
	song.Enabled = true
	if err := s.InsertSong(context.Background(), song); err != nil {
		t.Fatalf("failed to insert song %s: %v", song.File, err)
	}
	return song
}

func count(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}

func TestStoreOpenAndMigrate(t *testing.T) {
	store := newTestStore(t)

	version, err := store.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{
		"catalog", "song", "song_data", "artist", "album", "album_data", "tag", "tag_map",
		"flagged", "object_count", "rating", "playlist", "playlist_data",
		"tmp_playlist", "tmp_playlist_data", "user_shout", "schema_version",
	}
	for _, table := range tables {
		var n int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	for _, index := range []string{"idx_song_catalog", "idx_song_title", "idx_tag_map_object"} {
		var n int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&n)
		if err != nil {
			t.Fatalf("failed to query index %s: %v", index, err)
		}
		if n != 1 {
			t.Errorf("expected index %s to exist (schema v2)", index)
		}
	}

	if err := store.CheckIntegrity(); err != nil {
		t.Errorf("integrity check failed: %v", err)
	}
}

func TestReopenDoesNotRemigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	mustCatalog(t, s, "/music")
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	if n := count(t, s, "schema_version"); n != currentSchemaVersion {
		t.Errorf("expected %d schema_version rows, got %d", currentSchemaVersion, n)
	}
	if n := count(t, s, "catalog"); n != 1 {
		t.Errorf("expected catalog to survive reopen, got %d rows", n)
	}
}

func TestCatalogCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mustCatalog(t, s, "/music")
	if c.ID == 0 {
		t.Fatal("expected catalog ID to be set after insert")
	}

	got, err := s.GetCatalogByPath(ctx, "/music")
	if err != nil {
		t.Fatalf("failed to get catalog: %v", err)
	}
	if got == nil || got.ID != c.ID || got.Type != CatalogLocal {
		t.Fatalf("unexpected catalog: %+v", got)
	}

	dup := &Catalog{Name: "again", Path: "/music"}
	if err := s.InsertCatalog(ctx, dup); err == nil {
		t.Error("expected unique path violation")
	}

	at := time.Unix(1700000000, 0)
	if err := s.TouchLastAdd(ctx, c.ID, at); err != nil {
		t.Fatalf("failed to touch last_add: %v", err)
	}
	if err := s.TouchLastUpdate(ctx, c.ID, at.Add(time.Hour)); err != nil {
		t.Fatalf("failed to touch last_update: %v", err)
	}

	c.Name = "Main"
	c.SortPattern = "%a/%A"
	if err := s.UpdateCatalogSettings(ctx, c); err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}

	got, err = s.GetCatalog(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to get catalog: %v", err)
	}
	if got.Name != "Main" || got.SortPattern != "%a/%A" {
		t.Errorf("settings not saved: %+v", got)
	}
	if !got.LastAdd.Equal(at) || !got.LastUpdate.Equal(at.Add(time.Hour)) {
		t.Errorf("timestamps not saved: add=%v update=%v", got.LastAdd, got.LastUpdate)
	}
	if !got.LastClean.IsZero() {
		t.Errorf("expected zero last_clean, got %v", got.LastClean)
	}

	missing, err := s.GetCatalog(ctx, 999)
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing catalog, got %v, %v", missing, err)
	}
}

func TestSongInsertUpdateAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustCatalog(t, s, "/music")

	song := mustSong(t, s, &Song{
		CatalogID:  c.ID,
		File:       "/music/a/01.mp3",
		Title:      "One",
		Track:      1,
		Bitrate:    320000,
		SampleRate: 44100,
		Mode:       "stereo",
		Size:       4096,
		Duration:   200,
		Comment:    "rip",
		Lyrics:     "la la",
	})
	if song.ID == 0 {
		t.Fatal("expected song ID to be set after insert")
	}

	got, err := s.GetSong(ctx, song.ID)
	if err != nil {
		t.Fatalf("failed to get song: %v", err)
	}
	if got.Title != "One" || got.Comment != "rip" || got.Lyrics != "la la" || !got.Enabled {
		t.Errorf("unexpected song: %+v", got)
	}

	got.Title = "Uno"
	got.Comment = "remaster"
	if err := s.UpdateSong(ctx, got); err != nil {
		t.Fatalf("failed to update song: %v", err)
	}
	again, _ := s.GetSong(ctx, song.ID)
	if again.Title != "Uno" || again.Comment != "remaster" {
		t.Errorf("update not applied: %+v", again)
	}

	if err := s.InsertSong(ctx, &Song{CatalogID: c.ID, File: "/music/a/01.mp3", Title: "x"}); err == nil {
		t.Error("expected duplicate file in one catalog to fail")
	}
	if n := count(t, s, "song_data"); n != 1 {
		t.Errorf("failed insert must not leave song_data behind, got %d rows", n)
	}

	if err := s.SetSongEnabled(ctx, song.ID, false); err != nil {
		t.Fatalf("failed to disable song: %v", err)
	}
	enabled, err := s.EnabledSongsByCatalog(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to list enabled songs: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("expected no enabled songs, got %d", len(enabled))
	}

	files, err := s.SongFilesByCatalog(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to list files: %v", err)
	}
	if len(files) != 1 || files[0].File != "/music/a/01.mp3" {
		t.Errorf("disabled songs must stay in the file listing, got %+v", files)
	}
}

func TestEntityLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	artistID, err := s.InsertArtist(ctx, "Beatles", "The")
	if err != nil {
		t.Fatalf("failed to insert artist: %v", err)
	}
	id, found, err := s.FindArtist(ctx, "beatles")
	if err != nil || !found || id != artistID {
		t.Errorf("FindArtist(beatles) = %d, %v, %v; want %d", id, found, err, artistID)
	}

	albumID, err := s.InsertAlbum(ctx, "Abbey Road", 1969, 1, "")
	if err != nil {
		t.Fatalf("failed to insert album: %v", err)
	}

	tests := []struct {
		name   string
		album  string
		year   int
		disk   int
		prefix string
		found  bool
	}{
		{"exact", "Abbey Road", 1969, 1, "", true},
		{"case", "ABBEY ROAD", 1969, 1, "", true},
		{"other year", "Abbey Road", 2019, 1, "", false},
		{"other disk", "Abbey Road", 1969, 2, "", false},
		{"other prefix", "Abbey Road", 1969, 1, "The", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, found, err := s.FindAlbum(ctx, tt.album, tt.year, tt.disk, tt.prefix)
			if err != nil {
				t.Fatalf("FindAlbum failed: %v", err)
			}
			if found != tt.found || (found && id != albumID) {
				t.Errorf("FindAlbum = %d, %v; want found=%v", id, found, tt.found)
			}
		})
	}

	hasArt, err := s.AlbumHasArt(ctx, albumID)
	if err != nil || hasArt {
		t.Errorf("expected no art, got %v, %v", hasArt, err)
	}
	if err := s.SetAlbumArt(ctx, albumID, []byte{0xff, 0xd8}, "image/jpeg"); err != nil {
		t.Fatalf("failed to set art: %v", err)
	}
	if hasArt, _ = s.AlbumHasArt(ctx, albumID); !hasArt {
		t.Error("expected art after SetAlbumArt")
	}
}

func TestMapTagIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tagID, err := s.InsertTag(ctx, "Rock")
	if err != nil {
		t.Fatalf("failed to insert tag: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.MapTag(ctx, tagID, ObjectSong, 7); err != nil {
			t.Fatalf("failed to map tag: %v", err)
		}
	}
	if n := count(t, s, "tag_map"); n != 1 {
		t.Errorf("expected 1 tag_map row, got %d", n)
	}

	tags, err := s.TagsFor(ctx, ObjectSong, 7)
	if err != nil || len(tags) != 1 || tags[0] != "Rock" {
		t.Errorf("TagsFor = %v, %v", tags, err)
	}
}

// seedDependents attaches one row of every dependent table to a song and
// its album and artist
func seedDependents(t *testing.T, s *Store, song *Song) {
	t.Helper()
	ctx := context.Background()
	stmts := []struct {
		q    string
		args []any
	}{
		{"INSERT INTO flagged (object_type, object_id) VALUES ('song', ?)", []any{song.ID}},
		{"INSERT INTO rating (object_type, object_id, rating) VALUES ('song', ?, 5)", []any{song.ID}},
		{"INSERT INTO rating (object_type, object_id, rating) VALUES ('album', ?, 4)", []any{song.AlbumID}},
		{"INSERT INTO user_shout (object_type, object_id, text) VALUES ('artist', ?, 'hi')", []any{song.ArtistID}},
		{"INSERT INTO playlist_data (playlist_id, object_id, track) VALUES (1, ?, 1)", []any{song.ID}},
		{"INSERT INTO tmp_playlist_data (tmp_playlist_id, object_id) VALUES (1, ?)", []any{song.ID}},
		{"INSERT INTO album_data (album_id, art) VALUES (?, x'00')", []any{song.AlbumID}},
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st.q, st.args...); err != nil {
			t.Fatalf("failed to seed %q: %v", st.q, err)
		}
	}
	if err := s.RecordPlay(ctx, song, 1, "test"); err != nil {
		t.Fatalf("failed to record play: %v", err)
	}
	tagID, err := s.InsertTag(ctx, "Jazz")
	if err != nil {
		t.Fatalf("failed to insert tag: %v", err)
	}
	if err := s.MapTag(ctx, tagID, ObjectSong, song.ID); err != nil {
		t.Fatalf("failed to map tag: %v", err)
	}
}

func runCleanup(t *testing.T, s *Store) int64 {
	t.Helper()
	var total int64
	for _, step := range CleanupSteps {
		n, err := s.RunCleanupStep(context.Background(), step)
		if err != nil {
			t.Fatalf("cleanup step %s failed: %v", step.Name, err)
		}
		total += n
	}
	return total
}

func TestCleanupRemovesOrphansOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustCatalog(t, s, "/music")

	artistID, _ := s.InsertArtist(ctx, "Miles Davis", "")
	albumID, _ := s.InsertAlbum(ctx, "Kind of Blue", 1959, 0, "")
	song := mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/so-what.flac", Title: "So What",
		ArtistID: artistID, AlbumID: albumID, Comment: "x"})
	seedDependents(t, s, song)

	if n := runCleanup(t, s); n != 0 {
		t.Fatalf("nothing is orphaned yet, but cleanup removed %d rows", n)
	}

	if _, err := s.DeleteSongs(ctx, []int64{song.ID}); err != nil {
		t.Fatalf("failed to delete song: %v", err)
	}

	if n := runCleanup(t, s); n == 0 {
		t.Fatal("expected cleanup to remove orphaned rows")
	}
	for _, table := range []string{"album", "album_data", "artist", "flagged", "object_count",
		"rating", "song_data", "playlist_data", "tmp_playlist_data", "user_shout", "tag_map", "tag"} {
		if n := count(t, s, table); n != 0 {
			t.Errorf("expected %s to be empty after cleanup, got %d rows", table, n)
		}
	}

	if n := runCleanup(t, s); n != 0 {
		t.Errorf("second cleanup must be a no-op, removed %d rows", n)
	}
}

func TestCleanupKeepsDisabledSongReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustCatalog(t, s, "/music")

	artistID, _ := s.InsertArtist(ctx, "Nico", "")
	albumID, _ := s.InsertAlbum(ctx, "Chelsea Girl", 1967, 0, "")
	song := mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/nico.mp3", Title: "These Days",
		ArtistID: artistID, AlbumID: albumID})
	seedDependents(t, s, song)

	if err := s.SetSongEnabled(ctx, song.ID, false); err != nil {
		t.Fatalf("failed to disable song: %v", err)
	}
	runCleanup(t, s)

	if n := count(t, s, "album"); n != 0 {
		t.Errorf("album with only disabled songs should be removed, got %d", n)
	}
	if n := count(t, s, "artist"); n != 0 {
		t.Errorf("artist with only disabled songs should be removed, got %d", n)
	}
	if n := count(t, s, "song"); n != 1 {
		t.Errorf("disabled song row must survive cleanup, got %d", n)
	}
	plays, _ := s.PlayCount(ctx, ObjectSong, song.ID)
	if plays != 1 {
		t.Errorf("disabled song should keep its play count, got %d", plays)
	}
	flagged, _ := s.IsFlagged(ctx, song.ID)
	if !flagged {
		t.Error("disabled song should keep its flag")
	}
}

func TestDuplicateGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustCatalog(t, s, "/music")

	mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/1.mp3", Title: "Rain", ArtistID: 1})
	mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/2.mp3", Title: "Rain", ArtistID: 2})
	mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/3.mp3", Title: "Sun", ArtistID: 1})

	groups, err := s.DuplicateGroups(ctx, DuplicateQuery{})
	if err != nil {
		t.Fatalf("DuplicateGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Title != "Rain" || groups[0].Count != 2 {
		t.Errorf("title key: unexpected groups %+v", groups)
	}

	groups, err = s.DuplicateGroups(ctx, DuplicateQuery{ByArtist: true})
	if err != nil {
		t.Fatalf("DuplicateGroups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("artist_title key: expected no groups, got %+v", groups)
	}
}

func TestDuplicateCandidatesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustCatalog(t, s, "/music")

	long := mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/a.flac", Title: "Song", Duration: 300, Bitrate: 900000, Size: 30})
	short := mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/b.mp3", Title: "song", Duration: 200, Bitrate: 128000, Size: 10})
	mid := mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/c.mp3", Title: "SONG", Duration: 200, Bitrate: 320000, Size: 20})
	_ = long

	q := DuplicateQuery{}
	groups, err := s.DuplicateGroups(ctx, q)
	if err != nil || len(groups) != 1 || groups[0].Count != 3 {
		t.Fatalf("expected one group of 3, got %+v, %v", groups, err)
	}

	ids, err := s.DuplicateCandidates(ctx, q, groups[0], 2)
	if err != nil {
		t.Fatalf("DuplicateCandidates failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != short.ID || ids[1] != mid.ID {
		t.Errorf("candidates = %v, want [%d %d]", ids, short.ID, mid.ID)
	}

	if err := s.SetSongEnabled(ctx, short.ID, false); err != nil {
		t.Fatal(err)
	}
	ids, _ = s.DuplicateCandidates(ctx, q, groups[0], 2)
	if len(ids) == 0 || ids[0] != mid.ID {
		t.Errorf("disabled songs must be excluded by default, got %v", ids)
	}
	ids, _ = s.DuplicateCandidates(ctx, DuplicateQuery{IncludeDisabled: true}, groups[0], 2)
	if len(ids) == 0 || ids[0] != short.ID {
		t.Errorf("IncludeDisabled should consider disabled songs, got %v", ids)
	}
}

func TestDeleteCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	keep := mustCatalog(t, s, "/keep")
	drop := mustCatalog(t, s, "/drop")
	mustSong(t, s, &Song{CatalogID: keep.ID, File: "/keep/a.mp3", Title: "a"})
	mustSong(t, s, &Song{CatalogID: drop.ID, File: "/drop/a.mp3", Title: "a"})
	mustSong(t, s, &Song{CatalogID: drop.ID, File: "/drop/b.mp3", Title: "b"})

	removed, err := s.DeleteCatalog(ctx, drop.ID)
	if err != nil {
		t.Fatalf("failed to delete catalog: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 songs removed, got %d", removed)
	}
	if n := count(t, s, "song"); n != 1 {
		t.Errorf("expected 1 remaining song, got %d", n)
	}
	if got, _ := s.GetCatalog(ctx, drop.ID); got != nil {
		t.Error("expected catalog to be gone")
	}
}

func TestSongsPageAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustCatalog(t, s, "/music")
	artistID, _ := s.InsertArtist(ctx, "Smiths", "The")
	albumID, _ := s.InsertAlbum(ctx, "Strangeways", 1987, 0, "")

	for _, f := range []string{"a", "b", "c"} {
		mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/" + f + ".mp3", Title: f,
			ArtistID: artistID, AlbumID: albumID, Size: 100, Duration: 60})
	}

	page, err := s.SongsPage(ctx, []int64{c.ID}, 1, 5)
	if err != nil {
		t.Fatalf("SongsPage failed: %v", err)
	}
	if len(page) != 2 || page[0].Title != "b" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page[0].ArtistName != "Smiths" || page[0].ArtistPrefix != "The" || page[0].AlbumName != "Strangeways" {
		t.Errorf("names not joined: %+v", page[0])
	}

	stats, err := s.CountSongs(ctx, &c.ID)
	if err != nil {
		t.Fatalf("CountSongs failed: %v", err)
	}
	if stats.Songs != 3 || stats.Enabled != 3 || stats.Size != 300 || stats.Duration != 180 || stats.Albums != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFindSongIDByFileSuffix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustCatalog(t, s, "/music")
	want := mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/x/01_intro.mp3", Title: "Intro"})
	mustSong(t, s, &Song{CatalogID: c.ID, File: "/music/x/01-intro.mp3", Title: "Other"})

	id, found, err := s.FindSongIDByFileSuffix(ctx, c.ID, "01_intro.mp3")
	if err != nil || !found || id != want.ID {
		t.Errorf("FindSongIDByFileSuffix = %d, %v, %v; want %d", id, found, err, want.ID)
	}

	_, found, _ = s.FindSongIDByFileSuffix(ctx, c.ID, "missing.mp3")
	if found {
		t.Error("expected no match")
	}
}

func TestPlaylists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Playlist{Name: "M3U - road"}
	if err := s.CreatePlaylist(ctx, p); err != nil {
		t.Fatalf("failed to create playlist: %v", err)
	}
	if err := s.AddPlaylistSongs(ctx, p.ID, []int64{3, 1}); err != nil {
		t.Fatalf("failed to add songs: %v", err)
	}
	if err := s.AddPlaylistSongs(ctx, p.ID, []int64{2}); err != nil {
		t.Fatalf("failed to add songs: %v", err)
	}
	ids, err := s.PlaylistSongIDs(ctx, p.ID)
	if err != nil {
		t.Fatalf("failed to list songs: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 1 || ids[2] != 2 {
		t.Errorf("unexpected playlist order %v", ids)
	}

	found, err := s.FindPlaylist(ctx, "M3U - road")
	if err != nil || found == nil || found.ID != p.ID {
		t.Errorf("FindPlaylist = %+v, %v", found, err)
	}

	first, err := s.AddToWorkingPlaylist(ctx, "session-1", []int64{1})
	if err != nil {
		t.Fatalf("failed to queue: %v", err)
	}
	second, _ := s.AddToWorkingPlaylist(ctx, "session-1", []int64{2})
	if first != second {
		t.Errorf("expected one working playlist per session, got %d and %d", first, second)
	}
}

func TestInsertSongRollsBackOnSongDataFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	diskErr := errors.New("disk I/O error")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO song \\(").WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec("INSERT INTO song_data").WillReturnError(diskErr)
	mock.ExpectRollback()

	s := New(db)
	song := &Song{CatalogID: 1, File: "/music/a.mp3", Title: "a"}
	err = s.InsertSong(context.Background(), song)
	if !errors.Is(err, diskErr) {
		t.Errorf("expected wrapped disk error, got %v", err)
	}
	if song.ID != 0 {
		t.Errorf("song ID must stay unset on failure, got %d", song.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCleanupStepRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	step := CleanupSteps[0]
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM album WHERE").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM album_data").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	n, err := New(db).RunCleanupStep(context.Background(), step)
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Errorf("a failed step reports no removals, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
