package store

// Schema v1 - catalog, songs, entities and the dependent tables swept by
// the cleaner. Dependent tables reference their parent through
// (object_type, object_id) pairs and carry no foreign keys; orphans are
// removed by the cleanup sweep.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS catalog (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  path TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL DEFAULT 'local',
  rename_pattern TEXT NOT NULL DEFAULT '',
  sort_pattern TEXT NOT NULL DEFAULT '',
  remote_key TEXT NOT NULL DEFAULT '',
  enabled INTEGER NOT NULL DEFAULT 1,
  last_update INTEGER NOT NULL DEFAULT 0,
  last_add INTEGER NOT NULL DEFAULT 0,
  last_clean INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS artist (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  prefix TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS album (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  prefix TEXT NOT NULL DEFAULT '',
  year INTEGER NOT NULL DEFAULT 0,
  disk INTEGER NOT NULL DEFAULT 0
);

-- Album art blobs; removed with their album
CREATE TABLE IF NOT EXISTS album_data (
  album_id INTEGER PRIMARY KEY,
  art BLOB,
  art_mime TEXT
);

CREATE TABLE IF NOT EXISTS song (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  catalog_id INTEGER NOT NULL,
  file TEXT NOT NULL,
  title TEXT NOT NULL,
  artist_id INTEGER NOT NULL DEFAULT 0,
  album_id INTEGER NOT NULL DEFAULT 0,
  track INTEGER NOT NULL DEFAULT 0,
  disk INTEGER NOT NULL DEFAULT 0,
  year INTEGER NOT NULL DEFAULT 0,
  bitrate INTEGER NOT NULL DEFAULT 0,
  rate INTEGER NOT NULL DEFAULT 0,
  mode TEXT NOT NULL DEFAULT '',
  size INTEGER NOT NULL DEFAULT 0,
  time INTEGER NOT NULL DEFAULT 0,
  mime TEXT NOT NULL DEFAULT '',
  addition_time INTEGER NOT NULL DEFAULT 0,
  update_time INTEGER NOT NULL DEFAULT 0,
  enabled INTEGER NOT NULL DEFAULT 1,
  UNIQUE (catalog_id, file)
);

-- Extended song metadata
CREATE TABLE IF NOT EXISTS song_data (
  song_id INTEGER PRIMARY KEY,
  comment TEXT NOT NULL DEFAULT '',
  lyrics TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tag (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS tag_map (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tag_id INTEGER NOT NULL,
  object_type TEXT NOT NULL,
  object_id INTEGER NOT NULL,
  UNIQUE (tag_id, object_type, object_id)
);

-- Administrator-pinned songs, excluded from reconciliation
CREATE TABLE IF NOT EXISTS flagged (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  object_type TEXT NOT NULL DEFAULT 'song',
  object_id INTEGER NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  date INTEGER NOT NULL DEFAULT 0
);

-- Play counts
CREATE TABLE IF NOT EXISTS object_count (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  object_type TEXT NOT NULL,
  object_id INTEGER NOT NULL,
  date INTEGER NOT NULL DEFAULT 0,
  agent TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rating (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  object_type TEXT NOT NULL,
  object_id INTEGER NOT NULL,
  rating INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS playlist (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  owner TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL DEFAULT 'public',
  date INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS playlist_data (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  playlist_id INTEGER NOT NULL,
  object_type TEXT NOT NULL DEFAULT 'song',
  object_id INTEGER NOT NULL,
  track INTEGER NOT NULL DEFAULT 0
);

-- Working playlists (per session queue)
CREATE TABLE IF NOT EXISTS tmp_playlist (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'song'
);

CREATE TABLE IF NOT EXISTS tmp_playlist_data (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tmp_playlist_id INTEGER NOT NULL,
  object_type TEXT NOT NULL DEFAULT 'song',
  object_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_shout (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  object_type TEXT NOT NULL,
  object_id INTEGER NOT NULL,
  text TEXT NOT NULL DEFAULT '',
  date INTEGER NOT NULL DEFAULT 0
);
`

// Schema v2 - indexes for the orphan sweep, FileCache build and duplicate
// grouping
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_song_catalog ON song(catalog_id, enabled);
CREATE INDEX IF NOT EXISTS idx_song_album ON song(album_id, enabled);
CREATE INDEX IF NOT EXISTS idx_song_artist ON song(artist_id, enabled);
CREATE INDEX IF NOT EXISTS idx_song_title ON song(title COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_artist_name ON artist(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_album_name ON album(name COLLATE NOCASE, year, disk);
CREATE INDEX IF NOT EXISTS idx_tag_map_object ON tag_map(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_object_count_object ON object_count(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_rating_object ON rating(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_flagged_object ON flagged(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_playlist_data_object ON playlist_data(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_tmp_playlist_data_object ON tmp_playlist_data(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_user_shout_object ON user_shout(object_type, object_id);
`
