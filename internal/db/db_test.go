package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"minmatar-fleet/internal/industry"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDB_MigrateIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := d.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion = %d, want 2", v)
	}
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "minmatar.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if _, err := d.SchemaVersion(); err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
}

func TestEveTypes_RoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := d.LookupEveType(ctx, 999201); err != nil || ok {
		t.Fatalf("LookupEveType(missing) = ok %v err %v", ok, err)
	}

	in := industry.EveType{ID: 999201, Name: "Test Mineral", GroupID: 18, CategoryID: 4}
	if err := d.SaveEveType(ctx, in); err != nil {
		t.Fatalf("SaveEveType: %v", err)
	}
	in.Name = "Test Mineral II"
	if err := d.SaveEveType(ctx, in); err != nil {
		t.Fatalf("SaveEveType upsert: %v", err)
	}

	got, ok, err := d.LookupEveType(ctx, 999201)
	if err != nil || !ok {
		t.Fatalf("LookupEveType = ok %v err %v", ok, err)
	}
	if *got != in {
		t.Errorf("LookupEveType = %+v, want %+v", *got, in)
	}
}

func TestIndustryProducts_CRUD(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	p, err := d.PutIndustryProduct(ctx, 587, "Rifter", industry.StrategyImport)
	if err != nil {
		t.Fatalf("PutIndustryProduct: %v", err)
	}
	if p.ID == 0 || p.TypeID != 587 || p.Strategy != industry.StrategyImport || p.HasBreakdown {
		t.Fatalf("unexpected product %+v", p)
	}

	again, err := d.PutIndustryProduct(ctx, 587, "Rifter", industry.StrategyIntegrated)
	if err != nil {
		t.Fatalf("PutIndustryProduct update: %v", err)
	}
	if again.ID != p.ID || again.Strategy != industry.StrategyIntegrated {
		t.Errorf("update = %+v, want same ID with integrated strategy", again)
	}

	if _, err := d.PutIndustryProduct(ctx, 9001, "Hull Plate", industry.StrategyExport); err != nil {
		t.Fatalf("PutIndustryProduct second: %v", err)
	}
	list, err := d.ListIndustryProducts(ctx)
	if err != nil {
		t.Fatalf("ListIndustryProducts: %v", err)
	}
	if len(list) != 2 || list[0].TypeID != 587 || list[1].TypeID != 9001 {
		t.Errorf("ListIndustryProducts = %+v", list)
	}

	got, err := d.GetIndustryProduct(ctx, p.ID)
	if err != nil || got.Name != "Rifter" {
		t.Fatalf("GetIndustryProduct = %+v, %v", got, err)
	}

	if err := d.DeleteIndustryProduct(ctx, p.ID); err != nil {
		t.Fatalf("DeleteIndustryProduct: %v", err)
	}
	if _, err := d.GetIndustryProduct(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIndustryProduct after delete err = %v, want ErrNotFound", err)
	}
	if err := d.DeleteIndustryProduct(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	if _, err := d.PutIndustryProduct(ctx, 0, "", industry.StrategyImport); err == nil {
		t.Error("PutIndustryProduct(type 0) should fail")
	}
}

func TestIndustryProducts_BreakdownCache(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if _, _, err := d.IndustryProductBreakdown(ctx, 587); !errors.Is(err, industry.ErrProductNotFound) {
		t.Fatalf("untracked err = %v, want ErrProductNotFound", err)
	}

	p, err := d.PutIndustryProduct(ctx, 587, "Rifter", industry.StrategyIntegrated)
	if err != nil {
		t.Fatalf("PutIndustryProduct: %v", err)
	}
	id, cached, err := d.IndustryProductBreakdown(ctx, 587)
	if err != nil || id != p.ID || cached != nil {
		t.Fatalf("empty cache = %d %+v %v", id, cached, err)
	}

	tree := &industry.ComponentNode{
		Name: "Rifter", TypeID: 587, Quantity: 1, Source: industry.SourceBlueprint,
		Children: []*industry.ComponentNode{
			{Name: "Tritanium", TypeID: 34, Quantity: 30, Source: industry.SourceRaw, Depth: 1, Children: []*industry.ComponentNode{}},
		},
	}
	if err := d.StoreIndustryProductBreakdown(ctx, p.ID, &industry.CachedBreakdown{Linear: true, Tree: tree}); err != nil {
		t.Fatalf("StoreIndustryProductBreakdown: %v", err)
	}

	_, cached, err = d.IndustryProductBreakdown(ctx, 587)
	if err != nil || cached == nil {
		t.Fatalf("IndustryProductBreakdown = %+v, %v", cached, err)
	}
	if !cached.Linear || cached.Tree.Name != "Rifter" || len(cached.Tree.Children) != 1 || cached.Tree.Children[0].Quantity != 30 {
		t.Errorf("cached = %+v", cached)
	}
	if cached.Tree.Children[0].Children == nil {
		t.Error("leaf children should decode as an empty slice")
	}

	got, _ := d.GetIndustryProduct(ctx, p.ID)
	if !got.HasBreakdown {
		t.Error("HasBreakdown should be true after store")
	}

	// put product keeps the cache
	if _, err := d.PutIndustryProduct(ctx, 587, "Rifter", industry.StrategyExport); err != nil {
		t.Fatalf("PutIndustryProduct: %v", err)
	}
	if _, cached, _ = d.IndustryProductBreakdown(ctx, 587); cached == nil {
		t.Error("cache lost on update")
	}

	if err := d.StoreIndustryProductBreakdown(ctx, 12345, &industry.CachedBreakdown{Tree: tree}); !errors.Is(err, ErrNotFound) {
		t.Errorf("store for missing product err = %v, want ErrNotFound", err)
	}
}

func TestPutIndustryProductWithBreakdown(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	one := &industry.ComponentNode{Name: "Rifter", TypeID: 587, Quantity: 1, Source: industry.SourceBlueprint, Children: []*industry.ComponentNode{
		{Name: "Tritanium", TypeID: 34, Quantity: 30, Source: industry.SourceRaw, Depth: 1, Children: []*industry.ComponentNode{}},
	}}
	p, err := d.PutIndustryProductWithBreakdown(ctx, 587, "Rifter", industry.StrategyImport, &industry.CachedBreakdown{Linear: true, Tree: one})
	if err != nil {
		t.Fatalf("PutIndustryProductWithBreakdown: %v", err)
	}
	if !p.HasBreakdown || p.Strategy != industry.StrategyImport {
		t.Errorf("product = %+v", p)
	}

	two := &industry.ComponentNode{Name: "Rifter", TypeID: 587, Quantity: 1, Source: industry.SourceBlueprint, Children: []*industry.ComponentNode{
		{Name: "Pyerite", TypeID: 35, Quantity: 10, Source: industry.SourceRaw, Depth: 1, Children: []*industry.ComponentNode{}},
	}}
	again, err := d.PutIndustryProductWithBreakdown(ctx, 587, "Rifter", industry.StrategyExport, &industry.CachedBreakdown{Linear: false, Tree: two})
	if err != nil {
		t.Fatalf("PutIndustryProductWithBreakdown update: %v", err)
	}
	if again.ID != p.ID || again.Strategy != industry.StrategyExport {
		t.Errorf("updated product = %+v", again)
	}
	_, cached, err := d.IndustryProductBreakdown(ctx, 587)
	if err != nil || cached == nil {
		t.Fatalf("IndustryProductBreakdown = %+v, %v", cached, err)
	}
	if cached.Linear || cached.Tree.Children[0].TypeID != 35 {
		t.Errorf("breakdown not replaced: %+v", cached.Tree)
	}

	// nothing is written without a tree
	if _, err := d.PutIndustryProductWithBreakdown(ctx, 9001, "Hull Plate", industry.StrategyImport, nil); err == nil {
		t.Error("nil breakdown should fail")
	}
	if _, err := d.GetIndustryProductByType(ctx, 9001); !errors.Is(err, ErrNotFound) {
		t.Errorf("row written despite failure: err = %v", err)
	}
}

func TestIndustryProductIDsByType(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	a, _ := d.PutIndustryProduct(ctx, 587, "Rifter", industry.StrategyImport)
	b, _ := d.PutIndustryProduct(ctx, 9001, "Hull Plate", industry.StrategyImport)

	got, err := d.IndustryProductIDsByType(ctx, []int32{34, 587, 9001})
	if err != nil {
		t.Fatalf("IndustryProductIDsByType: %v", err)
	}
	want := map[int32]int64{587: a.ID, 9001: b.ID}
	if len(got) != len(want) || got[587] != want[587] || got[9001] != want[9001] {
		t.Errorf("IndustryProductIDsByType = %v, want %v", got, want)
	}

	empty, err := d.IndustryProductIDsByType(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty lookup = %v, %v", empty, err)
	}
}

func date(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIndustryOrders_Lifecycle(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	order, err := d.CreateIndustryOrder(ctx, IndustryOrderInput{
		NeededBy:    date("2024-03-10"),
		CharacterID: 90000001,
		LocationID:  60003760,
		Items:       []industry.TypeQuantity{{TypeID: 999201, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("CreateIndustryOrder: %v", err)
	}
	if order.NeededBy != "2024-03-10" || len(order.Items) != 1 {
		t.Fatalf("order = %+v", order)
	}

	item, err := d.AddIndustryOrderItem(ctx, order.ID, 587, 2)
	if err != nil {
		t.Fatalf("AddIndustryOrderItem: %v", err)
	}
	if _, err := d.AddIndustryOrderItem(ctx, 999, 587, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddIndustryOrderItem(missing order) err = %v", err)
	}

	if _, err := d.AssignIndustryOrderItem(ctx, order.ID, item.ID, 90000002, 1); err != nil {
		t.Fatalf("AssignIndustryOrderItem: %v", err)
	}
	if _, err := d.AssignIndustryOrderItem(ctx, order.ID, item.ID, 90000003, 1); err != nil {
		t.Fatalf("AssignIndustryOrderItem second: %v", err)
	}
	if _, err := d.AssignIndustryOrderItem(ctx, order.ID, item.ID, 90000003, 1); !errors.Is(err, ErrOverAssigned) {
		t.Errorf("over-assign err = %v, want ErrOverAssigned", err)
	}
	if _, err := d.AssignIndustryOrderItem(ctx, order.ID+1, item.ID, 90000003, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("assign on wrong order err = %v, want ErrNotFound", err)
	}

	got, err := d.GetIndustryOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetIndustryOrder: %v", err)
	}
	if len(got.Items) != 2 || got.Items[1].Assigned != 2 || len(got.Items[1].Assignments) != 2 {
		t.Errorf("GetIndustryOrder = %+v", got)
	}

	list, err := d.ListIndustryOrders(ctx)
	if err != nil || len(list) != 1 || len(list[0].Items) != 2 {
		t.Fatalf("ListIndustryOrders = %+v, %v", list, err)
	}

	qs, err := d.OrderItemQuantities(ctx, order.ID)
	if err != nil {
		t.Fatalf("OrderItemQuantities: %v", err)
	}
	if len(qs) != 2 || qs[0] != (industry.TypeQuantity{TypeID: 999201, Quantity: 5}) {
		t.Errorf("OrderItemQuantities = %+v", qs)
	}

	if err := d.DeleteIndustryOrder(ctx, order.ID); err != nil {
		t.Fatalf("DeleteIndustryOrder: %v", err)
	}
	if _, err := d.GetIndustryOrder(ctx, order.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIndustryOrder after delete err = %v", err)
	}
	if _, err := d.OrderItemQuantities(ctx, order.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("OrderItemQuantities after delete err = %v", err)
	}
}

func TestCreateIndustryOrder_RejectsBadItems(t *testing.T) {
	d := openTestDB(t)
	_, err := d.CreateIndustryOrder(context.Background(), IndustryOrderInput{
		NeededBy: date("2024-03-10"),
		Items:    []industry.TypeQuantity{{TypeID: 34, Quantity: 0}},
	})
	if err == nil {
		t.Fatal("expected error for zero quantity")
	}
	list, _ := d.ListIndustryOrders(context.Background())
	if len(list) != 0 {
		t.Errorf("orders = %d, want 0", len(list))
	}
}

func TestOrderItemTotals_Window(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	mk := func(day string, items ...industry.TypeQuantity) {
		t.Helper()
		if _, err := d.CreateIndustryOrder(ctx, IndustryOrderInput{NeededBy: date(day), CharacterID: 1, Items: items}); err != nil {
			t.Fatalf("CreateIndustryOrder: %v", err)
		}
	}
	mk("2024-01-01", industry.TypeQuantity{TypeID: 999201, Quantity: 2}, industry.TypeQuantity{TypeID: 587, Quantity: 1})
	mk("2024-01-31", industry.TypeQuantity{TypeID: 999201, Quantity: 3})
	mk("2024-02-01", industry.TypeQuantity{TypeID: 999201, Quantity: 100})

	got, err := d.OrderItemTotals(ctx, date("2024-01-01"), date("2024-01-31"))
	if err != nil {
		t.Fatalf("OrderItemTotals: %v", err)
	}
	want := []industry.TypeQuantity{{TypeID: 587, Quantity: 1}, {TypeID: 999201, Quantity: 5}}
	if len(got) != len(want) {
		t.Fatalf("OrderItemTotals = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OrderItemTotals[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	none, err := d.OrderItemTotals(ctx, date("2023-01-01"), date("2023-12-31"))
	if err != nil || len(none) != 0 {
		t.Errorf("empty window = %+v, %v", none, err)
	}
}

var (
	_ industry.BreakdownStore = (*DB)(nil)
	_ industry.DemandStore    = (*DB)(nil)
	_ industry.TypeStore      = (*DB)(nil)
)
