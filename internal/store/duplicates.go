package store

import (
	"context"
	"fmt"
)

// DuplicateQuery selects the equivalence key: title always, artist and
// album optionally
type DuplicateQuery struct {
	ByArtist        bool
	ByAlbum         bool
	IncludeDisabled bool
}

// DuplicateGroup is a set of songs sharing an equivalence key
type DuplicateGroup struct {
	Title    string
	ArtistID int64
	Artist   string
	AlbumID  int64
	Album    string
	Count    int
}

func (q DuplicateQuery) enabledFilter() string {
	if q.IncludeDisabled {
		return ""
	}
	return " AND s.enabled = 1"
}

// DuplicateGroups returns every group with more than one song, ordered by
// ascending size and then title
func (s *Store) DuplicateGroups(ctx context.Context, q DuplicateQuery) ([]*DuplicateGroup, error) {
	// Title comparison ignores case; the representative title is the
	// lowest-ID song's
	groupBy := "s.title COLLATE NOCASE"
	artistCol, albumCol := "0", "0"
	if q.ByArtist {
		groupBy += ", s.artist_id"
		artistCol = "s.artist_id"
	}
	if q.ByAlbum {
		groupBy += ", s.album_id"
		albumCol = "s.album_id"
	}

	query := `
		SELECT g.title, g.artist_id, COALESCE(ar.name, ''), g.album_id, COALESCE(al.name, ''), g.cnt
		FROM (
			SELECT MIN(s.title) AS title, ` + artistCol + ` AS artist_id, ` + albumCol + ` AS album_id,
			       COUNT(*) AS cnt
			FROM song s
			WHERE 1 = 1` + q.enabledFilter() + `
			GROUP BY ` + groupBy + `
			HAVING COUNT(*) > 1
		) g
		LEFT JOIN artist ar ON ar.id = g.artist_id
		LEFT JOIN album al ON al.id = g.album_id
		ORDER BY g.cnt ASC, g.title COLLATE NOCASE ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate groups: %w", err)
	}
	defer rows.Close()

	var groups []*DuplicateGroup
	for rows.Next() {
		g := &DuplicateGroup{}
		if err := rows.Scan(&g.Title, &g.ArtistID, &g.Artist, &g.AlbumID, &g.Album, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DuplicateCandidates returns up to limit song IDs of a group ordered by
// ascending duration, bitrate and size
func (s *Store) DuplicateCandidates(ctx context.Context, q DuplicateQuery, g *DuplicateGroup, limit int) ([]int64, error) {
	query := "SELECT s.id FROM song s WHERE s.title = ? COLLATE NOCASE" + q.enabledFilter()
	args := []any{g.Title}
	if q.ByArtist {
		query += " AND s.artist_id = ?"
		args = append(args, g.ArtistID)
	}
	if q.ByAlbum {
		query += " AND s.album_id = ?"
		args = append(args, g.AlbumID)
	}
	query += " ORDER BY s.time ASC, s.bitrate ASC, s.size ASC, s.id ASC LIMIT ?"
	args = append(args, limit)

	return s.queryIDs(ctx, query, args...)
}
