package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"minmatar-fleet/internal/industry"
)

// IndustryOrder is a build request with its line items.
type IndustryOrder struct {
	ID          int64               `json:"id"`
	NeededBy    string              `json:"needed_by"`
	CharacterID int64               `json:"character_id"`
	LocationID  int64               `json:"location_id"`
	CreatedAt   string              `json:"created_at"`
	Items       []IndustryOrderItem `json:"items"`
}

// IndustryOrderItem is one type and quantity of an order.
type IndustryOrderItem struct {
	ID          int64                         `json:"id"`
	OrderID     int64                         `json:"order_id"`
	TypeID      int32                         `json:"type_id"`
	Quantity    int64                         `json:"quantity"`
	Assigned    int64                         `json:"assigned"`
	Assignments []IndustryOrderItemAssignment `json:"assignments"`
}

// IndustryOrderItemAssignment records a character building part of an item.
type IndustryOrderItemAssignment struct {
	ID          int64  `json:"id"`
	ItemID      int64  `json:"item_id"`
	CharacterID int64  `json:"character_id"`
	Quantity    int64  `json:"quantity"`
	CreatedAt   string `json:"created_at"`
}

// IndustryOrderInput is the payload of CreateIndustryOrder.
type IndustryOrderInput struct {
	NeededBy    time.Time
	CharacterID int64
	LocationID  int64
	Items       []industry.TypeQuantity
}

// CreateIndustryOrder inserts an order and its items in one transaction.
func (d *DB) CreateIndustryOrder(ctx context.Context, in IndustryOrderInput) (*IndustryOrder, error) {
	for _, it := range in.Items {
		if it.TypeID <= 0 || it.Quantity <= 0 {
			return nil, fmt.Errorf("invalid item: type %d quantity %d", it.TypeID, it.Quantity)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	order := &IndustryOrder{
		NeededBy:    in.NeededBy.UTC().Format(dateLayout),
		CharacterID: in.CharacterID,
		LocationID:  in.LocationID,
		CreatedAt:   now,
		Items:       []IndustryOrderItem{},
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO industry_orders (needed_by, character_id, location_id, created_at)
		VALUES (?, ?, ?, ?)
	`, order.NeededBy, order.CharacterID, order.LocationID, now)
	if err != nil {
		return nil, err
	}
	if order.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}

	for _, it := range in.Items {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO industry_order_items (order_id, type_id, quantity) VALUES (?, ?, ?)`,
			order.ID, it.TypeID, it.Quantity)
		if err != nil {
			return nil, err
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, IndustryOrderItem{
			ID:          itemID,
			OrderID:     order.ID,
			TypeID:      it.TypeID,
			Quantity:    it.Quantity,
			Assignments: []IndustryOrderItemAssignment{},
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// GetIndustryOrder returns an order with items and assignments.
func (d *DB) GetIndustryOrder(ctx context.Context, id int64) (*IndustryOrder, error) {
	var o IndustryOrder
	err := d.sql.QueryRowContext(ctx, `
		SELECT id, needed_by, character_id, location_id, created_at
		  FROM industry_orders
		 WHERE id = ?
	`, id).Scan(&o.ID, &o.NeededBy, &o.CharacterID, &o.LocationID, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := d.loadItems(ctx, `WHERE i.order_id = ?`, id)
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	if o.Items == nil {
		o.Items = []IndustryOrderItem{}
	}
	if err := d.attachAssignments(ctx, o.Items); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListIndustryOrders returns orders by needed-by date with their items.
func (d *DB) ListIndustryOrders(ctx context.Context) ([]IndustryOrder, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, needed_by, character_id, location_id, created_at
		  FROM industry_orders
		 ORDER BY needed_by, id
	`)
	if err != nil {
		return nil, err
	}
	out := []IndustryOrder{}
	for rows.Next() {
		var o IndustryOrder
		if err := rows.Scan(&o.ID, &o.NeededBy, &o.CharacterID, &o.LocationID, &o.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := d.loadItems(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		if out[i].Items == nil {
			out[i].Items = []IndustryOrderItem{}
		}
	}
	return out, nil
}

// loadItems returns items with assigned totals grouped by order ID.
func (d *DB) loadItems(ctx context.Context, where string, args ...interface{}) (map[int64][]IndustryOrderItem, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT i.id, i.order_id, i.type_id, i.quantity,
		       COALESCE((SELECT SUM(a.quantity) FROM industry_order_item_assignments a WHERE a.item_id = i.id), 0)
		  FROM industry_order_items i
		`+where+`
		 ORDER BY i.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]IndustryOrderItem)
	for rows.Next() {
		it := IndustryOrderItem{Assignments: []IndustryOrderItemAssignment{}}
		if err := rows.Scan(&it.ID, &it.OrderID, &it.TypeID, &it.Quantity, &it.Assigned); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (d *DB) attachAssignments(ctx context.Context, items []IndustryOrderItem) error {
	for i := range items {
		rows, err := d.sql.QueryContext(ctx, `
			SELECT id, item_id, character_id, quantity, created_at
			  FROM industry_order_item_assignments
			 WHERE item_id = ?
			 ORDER BY id
		`, items[i].ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var a IndustryOrderItemAssignment
			if err := rows.Scan(&a.ID, &a.ItemID, &a.CharacterID, &a.Quantity, &a.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			items[i].Assignments = append(items[i].Assignments, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteIndustryOrder removes an order with its items and assignments.
func (d *DB) DeleteIndustryOrder(ctx context.Context, id int64) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM industry_orders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddIndustryOrderItem appends an item to an existing order.
func (d *DB) AddIndustryOrderItem(ctx context.Context, orderID int64, typeID int32, quantity int64) (*IndustryOrderItem, error) {
	if typeID <= 0 || quantity <= 0 {
		return nil, fmt.Errorf("invalid item: type %d quantity %d", typeID, quantity)
	}
	if err := d.orderExists(ctx, orderID); err != nil {
		return nil, err
	}
	res, err := d.sql.ExecContext(ctx,
		`INSERT INTO industry_order_items (order_id, type_id, quantity) VALUES (?, ?, ?)`,
		orderID, typeID, quantity)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &IndustryOrderItem{
		ID:          id,
		OrderID:     orderID,
		TypeID:      typeID,
		Quantity:    quantity,
		Assignments: []IndustryOrderItemAssignment{},
	}, nil
}

// AssignIndustryOrderItem records characterID building quantity units of an
// item. The assigned total may not exceed the item quantity.
func (d *DB) AssignIndustryOrderItem(ctx context.Context, orderID, itemID, characterID, quantity int64) (*IndustryOrderItemAssignment, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var itemQty, assigned int64
	err = tx.QueryRowContext(ctx, `
		SELECT i.quantity,
		       COALESCE((SELECT SUM(a.quantity) FROM industry_order_item_assignments a WHERE a.item_id = i.id), 0)
		  FROM industry_order_items i
		 WHERE i.id = ? AND i.order_id = ?
	`, itemID, orderID).Scan(&itemQty, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if assigned+quantity > itemQty {
		return nil, fmt.Errorf("%w: %d assigned of %d, requested %d", ErrOverAssigned, assigned, itemQty, quantity)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO industry_order_item_assignments (item_id, character_id, quantity, created_at)
		VALUES (?, ?, ?, ?)
	`, itemID, characterID, quantity, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &IndustryOrderItemAssignment{ID: id, ItemID: itemID, CharacterID: characterID, Quantity: quantity, CreatedAt: now}, nil
}

func (d *DB) orderExists(ctx context.Context, orderID int64) error {
	var one int
	err := d.sql.QueryRowContext(ctx, `SELECT 1 FROM industry_orders WHERE id = ?`, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// OrderItemQuantities implements industry.DemandStore.
func (d *DB) OrderItemQuantities(ctx context.Context, orderID int64) ([]industry.TypeQuantity, error) {
	if err := d.orderExists(ctx, orderID); err != nil {
		return nil, err
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT type_id, quantity FROM industry_order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return scanTypeQuantities(rows)
}

// OrderItemTotals implements industry.DemandStore. Both bounds are dates and
// inclusive.
func (d *DB) OrderItemTotals(ctx context.Context, from, to time.Time) ([]industry.TypeQuantity, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT i.type_id, SUM(i.quantity)
		  FROM industry_order_items i
		  JOIN industry_orders o ON o.id = i.order_id
		 WHERE o.needed_by BETWEEN ? AND ?
		 GROUP BY i.type_id
		 ORDER BY i.type_id
	`, from.UTC().Format(dateLayout), to.UTC().Format(dateLayout))
	if err != nil {
		return nil, err
	}
	return scanTypeQuantities(rows)
}

func scanTypeQuantities(rows *sql.Rows) ([]industry.TypeQuantity, error) {
	defer rows.Close()
	out := []industry.TypeQuantity{}
	for rows.Next() {
		var tq industry.TypeQuantity
		if err := rows.Scan(&tq.TypeID, &tq.Quantity); err != nil {
			return nil, err
		}
		out = append(out, tq)
	}
	return out, rows.Err()
}
