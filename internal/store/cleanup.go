package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CleanupStep is one set-difference delete of the referential sweep.
// Every statement deletes rows whose parent is gone, so re-running a step
// after it succeeded deletes nothing.
type CleanupStep struct {
	Name       string
	Statements []string
}

// orphanOf builds the per-object-type dangling reference delete for a
// dependent table keyed by (object_type, object_id)
func orphanOf(table string) []string {
	return []string{
		"DELETE FROM " + table + " WHERE object_type = 'song' AND NOT EXISTS (SELECT 1 FROM song WHERE song.id = " + table + ".object_id)",
		"DELETE FROM " + table + " WHERE object_type = 'album' AND NOT EXISTS (SELECT 1 FROM album WHERE album.id = " + table + ".object_id)",
		"DELETE FROM " + table + " WHERE object_type = 'artist' AND NOT EXISTS (SELECT 1 FROM artist WHERE artist.id = " + table + ".object_id)",
	}
}

// CleanupSteps lists the referential sweep in the order it must run: later
// steps rely on entities orphaned by earlier ones already being gone.
//
// Albums and artists are orphaned when no enabled song references them.
// Everything keyed by song only needs the song row to exist, so disabled
// songs keep their play counts, flags and playlist entries.
var CleanupSteps = []CleanupStep{
	{
		Name: "albums",
		Statements: []string{
			`DELETE FROM album WHERE NOT EXISTS (
				SELECT 1 FROM song WHERE song.album_id = album.id AND song.enabled = 1)`,
			`DELETE FROM album_data WHERE NOT EXISTS (
				SELECT 1 FROM album WHERE album.id = album_data.album_id)`,
		},
	},
	{
		Name: "artists",
		Statements: []string{
			`DELETE FROM artist WHERE NOT EXISTS (
				SELECT 1 FROM song WHERE song.artist_id = artist.id AND song.enabled = 1)`,
		},
	},
	{
		Name: "flagged",
		Statements: []string{
			`DELETE FROM flagged WHERE object_type = 'song' AND NOT EXISTS (
				SELECT 1 FROM song WHERE song.id = flagged.object_id)`,
		},
	},
	{
		Name:       "stats",
		Statements: append(orphanOf("object_count"), orphanOf("rating")...),
	},
	{
		Name: "ext_info",
		Statements: []string{
			`DELETE FROM song_data WHERE NOT EXISTS (
				SELECT 1 FROM song WHERE song.id = song_data.song_id)`,
		},
	},
	{
		Name: "playlists",
		Statements: []string{
			`DELETE FROM playlist_data WHERE object_type = 'song' AND NOT EXISTS (
				SELECT 1 FROM song WHERE song.id = playlist_data.object_id)`,
			`DELETE FROM tmp_playlist_data WHERE object_type = 'song' AND NOT EXISTS (
				SELECT 1 FROM song WHERE song.id = tmp_playlist_data.object_id)`,
		},
	},
	{
		Name:       "shoutbox",
		Statements: orphanOf("user_shout"),
	},
	{
		Name: "tags",
		Statements: append(orphanOf("tag_map"),
			`DELETE FROM tag WHERE NOT EXISTS (
				SELECT 1 FROM tag_map WHERE tag_map.tag_id = tag.id)`),
	},
}

// RunCleanupStep executes one step in its own transaction and returns the
// number of rows removed
func (s *Store) RunCleanupStep(ctx context.Context, step CleanupStep) (int64, error) {
	var removed int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range step.Statements {
			n, err := execCount(ctx, tx, stmt)
			if err != nil {
				return fmt.Errorf("cleanup %s: %w", step.Name, err)
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func execCount(ctx context.Context, q queryer, stmt string, args ...any) (int64, error) {
	result, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
