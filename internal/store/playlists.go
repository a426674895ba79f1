package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Playlist is a persistent, named list of songs
type Playlist struct {
	ID    int64
	Name  string
	Owner string
	Type  string
	Date  int64
}

// CreatePlaylist inserts a playlist and sets p.ID
func (s *Store) CreatePlaylist(ctx context.Context, p *Playlist) error {
	if p.Type == "" {
		p.Type = "public"
	}
	id, err := s.insertID(ctx, "playlist",
		"INSERT INTO playlist (name, owner, type, date) VALUES (?, ?, ?, ?)",
		p.Name, p.Owner, p.Type, p.Date)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// FindPlaylist looks a playlist up by exact name; nil when none matches
func (s *Store) FindPlaylist(ctx context.Context, name string) (*Playlist, error) {
	p := &Playlist{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner, type, date FROM playlist WHERE name = ? ORDER BY id LIMIT 1", name).
		Scan(&p.ID, &p.Name, &p.Owner, &p.Type, &p.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find playlist: %w", err)
	}
	return p, nil
}

// AddPlaylistSongs appends songs to a playlist, numbering tracks after the
// current last entry
func (s *Store) AddPlaylistSongs(ctx context.Context, playlistID int64, songIDs []int64) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		var last int
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(track), 0) FROM playlist_data WHERE playlist_id = ?", playlistID).Scan(&last); err != nil {
			return fmt.Errorf("failed to read playlist length: %w", err)
		}
		for i, id := range songIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO playlist_data (playlist_id, object_type, object_id, track) VALUES (?, 'song', ?, ?)
			`, playlistID, id, last+i+1); err != nil {
				return fmt.Errorf("failed to add playlist song: %w", err)
			}
		}
		return nil
	})
}

// PlaylistSongIDs returns a playlist's songs in track order
func (s *Store) PlaylistSongIDs(ctx context.Context, playlistID int64) ([]int64, error) {
	return s.queryIDs(ctx, `
		SELECT object_id FROM playlist_data
		WHERE playlist_id = ? AND object_type = 'song'
		ORDER BY track
	`, playlistID)
}

// AddToWorkingPlaylist queues songs on a session's temporary playlist,
// creating it on first use
func (s *Store) AddToWorkingPlaylist(ctx context.Context, session string, songIDs []int64) (int64, error) {
	var tmpID int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT id FROM tmp_playlist WHERE session = ?", session).Scan(&tmpID)
		if errors.Is(err, sql.ErrNoRows) {
			result, err := tx.ExecContext(ctx, "INSERT INTO tmp_playlist (session) VALUES (?)", session)
			if err != nil {
				return fmt.Errorf("failed to create working playlist: %w", err)
			}
			if tmpID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get working playlist ID: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to find working playlist: %w", err)
		}

		for _, id := range songIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tmp_playlist_data (tmp_playlist_id, object_type, object_id) VALUES (?, 'song', ?)
			`, tmpID, id); err != nil {
				return fmt.Errorf("failed to queue song: %w", err)
			}
		}
		return nil
	})
	return tmpID, err
}

// FindSongIDByFileSuffix resolves a playlist entry to a song whose file path
// ends with suffix, preferring the given catalog
func (s *Store) FindSongIDByFileSuffix(ctx context.Context, catalogID int64, suffix string) (int64, bool, error) {
	return s.findID(ctx, "song", `
		SELECT id FROM song
		WHERE file LIKE ? ESCAPE '\'
		ORDER BY (catalog_id = ?) DESC, id
		LIMIT 1
	`, "%"+escapeLike(suffix), catalogID)
}

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}
