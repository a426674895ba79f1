package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const catalogColumns = `id, name, path, type, rename_pattern, sort_pattern, remote_key,
	enabled, last_update, last_add, last_clean, created_at`

func scanCatalog(row interface{ Scan(...any) error }) (*Catalog, error) {
	c := &Catalog{}
	var ctype string
	var enabled int
	var lastUpdate, lastAdd, lastClean, created int64
	err := row.Scan(&c.ID, &c.Name, &c.Path, &ctype, &c.RenamePattern, &c.SortPattern,
		&c.RemoteKey, &enabled, &lastUpdate, &lastAdd, &lastClean, &created)
	if err != nil {
		return nil, err
	}
	c.Type = CatalogType(ctype)
	c.Enabled = enabled != 0
	c.LastUpdate = unixTime(lastUpdate)
	c.LastAdd = unixTime(lastAdd)
	c.LastClean = unixTime(lastClean)
	c.CreatedAt = unixTime(created)
	return c, nil
}

// InsertCatalog creates a catalog row and sets c.ID
func (s *Store) InsertCatalog(ctx context.Context, c *Catalog) error {
	if c.Type == "" {
		c.Type = CatalogLocal
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog (name, path, type, rename_pattern, sort_pattern, remote_key, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Name, c.Path, string(c.Type), c.RenamePattern, c.SortPattern, c.RemoteKey,
		boolInt(c.Enabled), unixOf(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert catalog: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get catalog ID: %w", err)
	}
	c.ID = id
	return nil
}

// GetCatalog retrieves a catalog by ID; nil when it does not exist
func (s *Store) GetCatalog(ctx context.Context, id int64) (*Catalog, error) {
	c, err := scanCatalog(s.db.QueryRowContext(ctx,
		"SELECT "+catalogColumns+" FROM catalog WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	return c, nil
}

// GetCatalogByPath retrieves a catalog by its root; nil when none matches
func (s *Store) GetCatalogByPath(ctx context.Context, path string) (*Catalog, error) {
	c, err := scanCatalog(s.db.QueryRowContext(ctx,
		"SELECT "+catalogColumns+" FROM catalog WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	return c, nil
}

// ListCatalogs returns every catalog ordered by ID
func (s *Store) ListCatalogs(ctx context.Context) ([]*Catalog, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+catalogColumns+" FROM catalog ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query catalogs: %w", err)
	}
	defer rows.Close()

	var catalogs []*Catalog
	for rows.Next() {
		c, err := scanCatalog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog: %w", err)
		}
		catalogs = append(catalogs, c)
	}
	return catalogs, rows.Err()
}

// UpdateCatalogSettings rewrites the administrator-editable fields
func (s *Store) UpdateCatalogSettings(ctx context.Context, c *Catalog) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE catalog SET name = ?, rename_pattern = ?, sort_pattern = ?,
		       remote_key = ?, enabled = ?
		WHERE id = ?
	`, c.Name, c.RenamePattern, c.SortPattern, c.RemoteKey, boolInt(c.Enabled), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update catalog settings: %w", err)
	}
	return nil
}

// TouchLastUpdate records the end of a verification or remote sync
func (s *Store) TouchLastUpdate(ctx context.Context, id int64, at time.Time) error {
	return s.touch(ctx, "last_update", id, at)
}

// TouchLastAdd records the end of an add run
func (s *Store) TouchLastAdd(ctx context.Context, id int64, at time.Time) error {
	return s.touch(ctx, "last_add", id, at)
}

// TouchLastClean records the end of a cleanup run
func (s *Store) TouchLastClean(ctx context.Context, id int64, at time.Time) error {
	return s.touch(ctx, "last_clean", id, at)
}

func (s *Store) touch(ctx context.Context, column string, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE catalog SET "+column+" = ? WHERE id = ?", unixOf(at), id)
	if err != nil {
		return fmt.Errorf("failed to update catalog %s: %w", column, err)
	}
	return nil
}

// DeleteCatalog removes the catalog's songs and then the catalog itself in
// one transaction, returning the number of songs removed
func (s *Store) DeleteCatalog(ctx context.Context, id int64) (int64, error) {
	var removed int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM song WHERE catalog_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete catalog songs: %w", err)
		}
		removed, _ = result.RowsAffected()

		if _, err := tx.ExecContext(ctx, "DELETE FROM catalog WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete catalog: %w", err)
		}
		return nil
	})
	return removed, err
}
