package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"minmatar-fleet/internal/industry"
)

const productColumns = `id, type_id, name, strategy, breakdown_json IS NOT NULL, created_at, updated_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (*industry.Product, error) {
	var (
		p        industry.Product
		strategy string
	)
	if err := row.Scan(&p.ID, &p.TypeID, &p.Name, &strategy, &p.HasBreakdown, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Strategy = industry.Strategy(strategy)
	return &p, nil
}

// PutIndustryProduct creates the product tracking typeID or updates its name
// and strategy. A stored breakdown is kept.
func (d *DB) PutIndustryProduct(ctx context.Context, typeID int32, name string, strategy industry.Strategy) (*industry.Product, error) {
	if typeID <= 0 {
		return nil, fmt.Errorf("type_id must be positive")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO industry_products (type_id, name, strategy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(type_id) DO UPDATE SET
			name = excluded.name,
			strategy = excluded.strategy,
			updated_at = excluded.updated_at
	`, typeID, strings.TrimSpace(name), string(strategy), now, now)
	if err != nil {
		return nil, err
	}
	return d.GetIndustryProductByType(ctx, typeID)
}

// PutIndustryProductWithBreakdown upserts the product tracking typeID and
// replaces its cached breakdown in one transaction.
func (d *DB) PutIndustryProductWithBreakdown(ctx context.Context, typeID int32, name string, strategy industry.Strategy, b *industry.CachedBreakdown) (*industry.Product, error) {
	if typeID <= 0 {
		return nil, fmt.Errorf("type_id must be positive")
	}
	raw, err := marshalBreakdown(b)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO industry_products (type_id, name, strategy, breakdown_json, breakdown_linear, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type_id) DO UPDATE SET
			name = excluded.name,
			strategy = excluded.strategy,
			breakdown_json = excluded.breakdown_json,
			breakdown_linear = excluded.breakdown_linear,
			updated_at = excluded.updated_at
	`, typeID, strings.TrimSpace(name), string(strategy), raw, b.Linear, now, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetIndustryProductByType(ctx, typeID)
}

func marshalBreakdown(b *industry.CachedBreakdown) (string, error) {
	if b == nil || b.Tree == nil {
		return "", fmt.Errorf("empty breakdown")
	}
	raw, err := json.Marshal(b.Tree)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// GetIndustryProduct returns a product by ID.
func (d *DB) GetIndustryProduct(ctx context.Context, id int64) (*industry.Product, error) {
	p, err := scanProduct(d.sql.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM industry_products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetIndustryProductByType returns the product tracking typeID.
func (d *DB) GetIndustryProductByType(ctx context.Context, typeID int32) (*industry.Product, error) {
	p, err := scanProduct(d.sql.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM industry_products WHERE type_id = ?`, typeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListIndustryProducts returns all products ordered by type ID.
func (d *DB) ListIndustryProducts(ctx context.Context) ([]industry.Product, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+productColumns+` FROM industry_products ORDER BY type_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []industry.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeleteIndustryProduct removes a product and its cached breakdown.
func (d *DB) DeleteIndustryProduct(ctx context.Context, id int64) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM industry_products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IndustryProductBreakdown implements industry.BreakdownStore.
func (d *DB) IndustryProductBreakdown(ctx context.Context, typeID int32) (int64, *industry.CachedBreakdown, error) {
	var (
		id     int64
		raw    sql.NullString
		linear bool
	)
	err := d.sql.QueryRowContext(ctx, `
		SELECT id, breakdown_json, breakdown_linear
		  FROM industry_products
		 WHERE type_id = ?
	`, typeID).Scan(&id, &raw, &linear)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, industry.ErrProductNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	if !raw.Valid || raw.String == "" {
		return id, nil, nil
	}
	var tree industry.ComponentNode
	if err := json.Unmarshal([]byte(raw.String), &tree); err != nil {
		return 0, nil, fmt.Errorf("decode breakdown of product %d: %w", id, err)
	}
	return id, &industry.CachedBreakdown{Linear: linear, Tree: &tree}, nil
}

// StoreIndustryProductBreakdown implements industry.BreakdownStore. Concurrent
// writers for the same product race; the last write wins.
func (d *DB) StoreIndustryProductBreakdown(ctx context.Context, productID int64, b *industry.CachedBreakdown) error {
	raw, err := marshalBreakdown(b)
	if err != nil {
		return err
	}
	res, err := d.sql.ExecContext(ctx, `
		UPDATE industry_products
		   SET breakdown_json = ?, breakdown_linear = ?, updated_at = ?
		 WHERE id = ?
	`, raw, b.Linear, time.Now().UTC().Format(time.RFC3339), productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IndustryProductIDsByType implements industry.BreakdownStore.
func (d *DB) IndustryProductIDsByType(ctx context.Context, typeIDs []int32) (map[int32]int64, error) {
	out := make(map[int32]int64)
	if len(typeIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(typeIDs)), ",")
	args := make([]interface{}, len(typeIDs))
	for i, id := range typeIDs {
		args[i] = id
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT type_id, id FROM industry_products WHERE type_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typeID int32
			id     int64
		)
		if err := rows.Scan(&typeID, &id); err != nil {
			return nil, err
		}
		out[typeID] = id
	}
	return out, rows.Err()
}
