package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const songColumns = `s.id, s.catalog_id, s.file, s.title, s.artist_id, s.album_id,
	s.track, s.disk, s.year, s.bitrate, s.rate, s.mode, s.size, s.time, s.mime,
	s.addition_time, s.update_time, s.enabled,
	COALESCE(d.comment, ''), COALESCE(d.lyrics, '')`

const songFrom = ` FROM song s LEFT JOIN song_data d ON d.song_id = s.id`

func scanSong(row interface{ Scan(...any) error }) (*Song, error) {
	song := &Song{}
	var added, updated int64
	var enabled int
	err := row.Scan(&song.ID, &song.CatalogID, &song.File, &song.Title,
		&song.ArtistID, &song.AlbumID, &song.Track, &song.Disk, &song.Year,
		&song.Bitrate, &song.SampleRate, &song.Mode, &song.Size, &song.Duration, &song.Mime,
		&added, &updated, &enabled, &song.Comment, &song.Lyrics)
	if err != nil {
		return nil, err
	}
	song.AdditionTime = unixTime(added)
	song.UpdateTime = unixTime(updated)
	song.Enabled = enabled != 0
	return song, nil
}

// InsertSong writes the song row and its extended metadata atomically and
// sets song.ID
func (s *Store) InsertSong(ctx context.Context, song *Song) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO song (catalog_id, file, title, artist_id, album_id, track, disk, year,
			                  bitrate, rate, mode, size, time, mime, addition_time, update_time, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, song.CatalogID, song.File, song.Title, song.ArtistID, song.AlbumID,
			song.Track, song.Disk, song.Year, song.Bitrate, song.SampleRate, song.Mode,
			song.Size, song.Duration, song.Mime,
			unixOf(song.AdditionTime), unixOf(song.UpdateTime), boolInt(song.Enabled))
		if err != nil {
			return fmt.Errorf("failed to insert song: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get song ID: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO song_data (song_id, comment, lyrics) VALUES (?, ?, ?)
		`, id, song.Comment, song.Lyrics); err != nil {
			return fmt.Errorf("failed to insert song data: %w", err)
		}

		song.ID = id
		return nil
	})
}

// UpdateSong replaces the stored fields of an existing song with song's
func (s *Store) UpdateSong(ctx context.Context, song *Song) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE song SET file = ?, title = ?, artist_id = ?, album_id = ?, track = ?, disk = ?,
			       year = ?, bitrate = ?, rate = ?, mode = ?, size = ?, time = ?, mime = ?,
			       update_time = ?
			WHERE id = ?
		`, song.File, song.Title, song.ArtistID, song.AlbumID, song.Track, song.Disk,
			song.Year, song.Bitrate, song.SampleRate, song.Mode, song.Size, song.Duration, song.Mime,
			unixOf(song.UpdateTime), song.ID)
		if err != nil {
			return fmt.Errorf("failed to update song: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO song_data (song_id, comment, lyrics) VALUES (?, ?, ?)
			ON CONFLICT(song_id) DO UPDATE SET
				comment = excluded.comment,
				lyrics = excluded.lyrics
		`, song.ID, song.Comment, song.Lyrics); err != nil {
			return fmt.Errorf("failed to update song data: %w", err)
		}
		return nil
	})
}

// GetSong retrieves a song by ID; nil when it does not exist
func (s *Store) GetSong(ctx context.Context, id int64) (*Song, error) {
	song, err := scanSong(s.db.QueryRowContext(ctx,
		"SELECT "+songColumns+songFrom+" WHERE s.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get song: %w", err)
	}
	return song, nil
}

// SongFilesByCatalog returns the file path of every song in the catalog,
// enabled or not, in one scan
func (s *Store) SongFilesByCatalog(ctx context.Context, catalogID int64) ([]SongFile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, file FROM song WHERE catalog_id = ?", catalogID)
	if err != nil {
		return nil, fmt.Errorf("failed to query song files: %w", err)
	}
	defer rows.Close()

	var files []SongFile
	for rows.Next() {
		var f SongFile
		if err := rows.Scan(&f.ID, &f.File); err != nil {
			return nil, fmt.Errorf("failed to scan song file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// EnabledSongsByCatalog returns the enabled songs of a catalog ordered by ID
func (s *Store) EnabledSongsByCatalog(ctx context.Context, catalogID int64) ([]*Song, error) {
	return s.querySongs(ctx, "SELECT "+songColumns+songFrom+
		" WHERE s.catalog_id = ? AND s.enabled = 1 ORDER BY s.id", catalogID)
}

func (s *Store) querySongs(ctx context.Context, query string, args ...any) ([]*Song, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	var songs []*Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// SetSongEnabled flips a song's enabled flag without touching anything else
func (s *Store) SetSongEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx, "UPDATE song SET enabled = ? WHERE id = ?", boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to set song enabled: %w", err)
	}
	return nil
}

// SongIDByFile finds a song in a catalog by exact file path
func (s *Store) SongIDByFile(ctx context.Context, catalogID int64, file string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM song WHERE catalog_id = ? AND file = ?", catalogID, file).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find song by file: %w", err)
	}
	return id, true, nil
}

// SongIDsByAlbum returns the songs on an album
func (s *Store) SongIDsByAlbum(ctx context.Context, albumID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT id FROM song WHERE album_id = ? ORDER BY id", albumID)
}

// SongIDsByArtist returns the songs by an artist
func (s *Store) SongIDsByArtist(ctx context.Context, artistID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT id FROM song WHERE artist_id = ? ORDER BY id", artistID)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSongs hard-deletes songs and their extended metadata. Dependent
// rows are left for the cleanup sweep.
func (s *Store) DeleteSongs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var removed int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		// Keep well under SQLite's host parameter limit
		const chunk = 500
		for start := 0; start < len(ids); start += chunk {
			end := min(start+chunk, len(ids))
			part := ids[start:end]

			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")
			args := make([]any, len(part))
			for i, id := range part {
				args[i] = id
			}

			result, err := tx.ExecContext(ctx, "DELETE FROM song WHERE id IN ("+placeholders+")", args...)
			if err != nil {
				return fmt.Errorf("failed to delete songs: %w", err)
			}
			n, _ := result.RowsAffected()
			removed += n

			if _, err := tx.ExecContext(ctx, "DELETE FROM song_data WHERE song_id IN ("+placeholders+")", args...); err != nil {
				return fmt.Errorf("failed to delete song data: %w", err)
			}
		}
		return nil
	})
	return removed, err
}

// SongsPage returns enabled songs from the given catalogs ordered by ID,
// with artist and album names and tags, for serving to peers
func (s *Store) SongsPage(ctx context.Context, catalogIDs []int64, offset, limit int) ([]*SongDetail, error) {
	if len(catalogIDs) == 0 || limit <= 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(catalogIDs)), ",")
	args := make([]any, 0, len(catalogIDs)+2)
	for _, id := range catalogIDs {
		args = append(args, id)
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, "SELECT "+songColumns+`,
		       COALESCE(ar.name, ''), COALESCE(ar.prefix, ''),
		       COALESCE(al.name, ''), COALESCE(al.prefix, '')
		`+songFrom+`
		LEFT JOIN artist ar ON ar.id = s.artist_id
		LEFT JOIN album al ON al.id = s.album_id
		WHERE s.enabled = 1 AND s.catalog_id IN (`+placeholders+`)
		ORDER BY s.id
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs page: %w", err)
	}

	var page []*SongDetail
	for rows.Next() {
		d := &SongDetail{}
		var added, updated int64
		var enabled int
		err := rows.Scan(&d.ID, &d.CatalogID, &d.File, &d.Title,
			&d.ArtistID, &d.AlbumID, &d.Track, &d.Disk, &d.Year,
			&d.Bitrate, &d.SampleRate, &d.Mode, &d.Size, &d.Duration, &d.Mime,
			&added, &updated, &enabled, &d.Comment, &d.Lyrics,
			&d.ArtistName, &d.ArtistPrefix, &d.AlbumName, &d.AlbumPrefix)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan songs page: %w", err)
		}
		d.AdditionTime = unixTime(added)
		d.UpdateTime = unixTime(updated)
		d.Enabled = enabled != 0
		page = append(page, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Single connection pool: the rows must be closed before querying tags
	for _, d := range page {
		tags, err := s.TagsFor(ctx, ObjectSong, d.ID)
		if err != nil {
			return nil, err
		}
		d.Tags = tags
	}
	return page, nil
}

// CountSongs summarizes one catalog, or every catalog when catalogID is nil
func (s *Store) CountSongs(ctx context.Context, catalogID *int64) (*SongStats, error) {
	where := ""
	var args []any
	if catalogID != nil {
		where = " WHERE catalog_id = ?"
		args = append(args, *catalogID)
	}

	stats := &SongStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(enabled), 0), COALESCE(SUM(size), 0), COALESCE(SUM(time), 0),
		       COUNT(DISTINCT artist_id), COUNT(DISTINCT album_id)
		FROM song`+where, args...).Scan(
		&stats.Songs, &stats.Enabled, &stats.Size, &stats.Duration, &stats.Artists, &stats.Albums)
	if err != nil {
		return nil, fmt.Errorf("failed to count songs: %w", err)
	}
	stats.Disabled = stats.Songs - stats.Enabled

	tagQuery := "SELECT COUNT(*) FROM tag"
	if catalogID != nil {
		tagQuery = `
			SELECT COUNT(DISTINCT m.tag_id) FROM tag_map m
			JOIN song s ON m.object_type = 'song' AND s.id = m.object_id
			WHERE s.catalog_id = ?`
	}
	if err := s.db.QueryRowContext(ctx, tagQuery, args...).Scan(&stats.Tags); err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}
	return stats, nil
}

// RecordPlay increments play counts for a song and its album and artist
func (s *Store) RecordPlay(ctx context.Context, song *Song, at int64, agent string) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		objects := []struct {
			kind string
			id   int64
		}{
			{ObjectSong, song.ID},
			{ObjectAlbum, song.AlbumID},
			{ObjectArtist, song.ArtistID},
		}
		for _, o := range objects {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO object_count (object_type, object_id, date, agent) VALUES (?, ?, ?, ?)
			`, o.kind, o.id, at, agent); err != nil {
				return fmt.Errorf("failed to record play: %w", err)
			}
		}
		return nil
	})
}

// PlayCount returns the number of recorded plays of an object
func (s *Store) PlayCount(ctx context.Context, objectType string, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM object_count WHERE object_type = ? AND object_id = ?", objectType, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count plays: %w", err)
	}
	return n, nil
}
