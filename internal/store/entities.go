package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FindArtist looks an artist up by name, ignoring case
func (s *Store) FindArtist(ctx context.Context, name string) (int64, bool, error) {
	return s.findID(ctx, "artist",
		"SELECT id FROM artist WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1", name)
}

// InsertArtist creates an artist, storing the stripped prefix separately
func (s *Store) InsertArtist(ctx context.Context, name, prefix string) (int64, error) {
	return s.insertID(ctx, "artist", "INSERT INTO artist (name, prefix) VALUES (?, ?)", name, prefix)
}

// GetArtist retrieves an artist; nil when it does not exist
func (s *Store) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	a := &Artist{}
	err := s.db.QueryRowContext(ctx, "SELECT id, name, prefix FROM artist WHERE id = ?", id).
		Scan(&a.ID, &a.Name, &a.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist: %w", err)
	}
	return a, nil
}

// FindAlbum looks an album up by its full identity: name (ignoring case),
// year, disk and prefix must all match
func (s *Store) FindAlbum(ctx context.Context, name string, year, disk int, prefix string) (int64, bool, error) {
	return s.findID(ctx, "album", `
		SELECT id FROM album
		WHERE name = ? COLLATE NOCASE AND year = ? AND disk = ? AND prefix = ? COLLATE NOCASE
		ORDER BY id LIMIT 1
	`, name, year, disk, prefix)
}

// InsertAlbum creates an album
func (s *Store) InsertAlbum(ctx context.Context, name string, year, disk int, prefix string) (int64, error) {
	return s.insertID(ctx, "album",
		"INSERT INTO album (name, prefix, year, disk) VALUES (?, ?, ?, ?)", name, prefix, year, disk)
}

// GetAlbum retrieves an album; nil when it does not exist
func (s *Store) GetAlbum(ctx context.Context, id int64) (*Album, error) {
	a := &Album{}
	err := s.db.QueryRowContext(ctx, "SELECT id, name, prefix, year, disk FROM album WHERE id = ?", id).
		Scan(&a.ID, &a.Name, &a.Prefix, &a.Year, &a.Disk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get album: %w", err)
	}
	return a, nil
}

// AlbumHasArt reports whether album art is stored for the album
func (s *Store) AlbumHasArt(ctx context.Context, albumID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM album_data WHERE album_id = ? AND art IS NOT NULL", albumID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check album art: %w", err)
	}
	return n > 0, nil
}

// SetAlbumArt stores album art
func (s *Store) SetAlbumArt(ctx context.Context, albumID int64, art []byte, mime string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO album_data (album_id, art, art_mime) VALUES (?, ?, ?)
		ON CONFLICT(album_id) DO UPDATE SET art = excluded.art, art_mime = excluded.art_mime
	`, albumID, art, mime)
	if err != nil {
		return fmt.Errorf("failed to set album art: %w", err)
	}
	return nil
}

// FindTag looks a tag up by exact name
func (s *Store) FindTag(ctx context.Context, name string) (int64, bool, error) {
	return s.findID(ctx, "tag", "SELECT id FROM tag WHERE name = ?", name)
}

// InsertTag creates a tag
func (s *Store) InsertTag(ctx context.Context, name string) (int64, error) {
	return s.insertID(ctx, "tag", "INSERT INTO tag (name) VALUES (?)", name)
}

// MapTag associates a tag with an object; mapping twice is a no-op
func (s *Store) MapTag(ctx context.Context, tagID int64, objectType string, objectID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tag_map (tag_id, object_type, object_id) VALUES (?, ?, ?)
	`, tagID, objectType, objectID)
	if err != nil {
		return fmt.Errorf("failed to map tag: %w", err)
	}
	return nil
}

// TagsFor returns the tag names mapped to an object, sorted
func (s *Store) TagsFor(ctx context.Context, objectType string, objectID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name FROM tag t
		JOIN tag_map m ON m.tag_id = t.id
		WHERE m.object_type = ? AND m.object_id = ?
		ORDER BY t.name
	`, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// IsFlagged reports whether a song is administrator-pinned
func (s *Store) IsFlagged(ctx context.Context, songID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM flagged WHERE object_type = 'song' AND object_id = ?", songID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check flag: %w", err)
	}
	return n > 0, nil
}

// FlagSong pins a song's metadata against reconciliation
func (s *Store) FlagSong(ctx context.Context, songID int64, reason string, at int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flagged (object_type, object_id, reason, date) VALUES ('song', ?, ?, ?)
	`, songID, reason, at)
	if err != nil {
		return fmt.Errorf("failed to flag song: %w", err)
	}
	return nil
}

// UnflagSong removes every flag on a song
func (s *Store) UnflagSong(ctx context.Context, songID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM flagged WHERE object_type = 'song' AND object_id = ?", songID)
	if err != nil {
		return fmt.Errorf("failed to unflag song: %w", err)
	}
	return nil
}

func (s *Store) findID(ctx context.Context, what, query string, args ...any) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find %s: %w", what, err)
	}
	return id, true, nil
}

func (s *Store) insertID(ctx context.Context, what, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", what, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get %s ID: %w", what, err)
	}
	return id, nil
}
