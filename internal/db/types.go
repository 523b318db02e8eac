package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"minmatar-fleet/internal/industry"
)

// LookupEveType returns a type previously fetched from ESI.
func (d *DB) LookupEveType(ctx context.Context, typeID int32) (*industry.EveType, bool, error) {
	var t industry.EveType
	err := d.sql.QueryRowContext(ctx, `
		SELECT type_id, name, group_id, category_id
		  FROM eve_types
		 WHERE type_id = ?
	`, typeID).Scan(&t.ID, &t.Name, &t.GroupID, &t.CategoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

// SaveEveType upserts a type.
func (d *DB) SaveEveType(ctx context.Context, t industry.EveType) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO eve_types (type_id, name, group_id, category_id, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(type_id) DO UPDATE SET
			name = excluded.name,
			group_id = excluded.group_id,
			category_id = excluded.category_id,
			fetched_at = excluded.fetched_at
	`, t.ID, t.Name, t.GroupID, t.CategoryID, time.Now().UTC().Format(time.RFC3339))
	return err
}
