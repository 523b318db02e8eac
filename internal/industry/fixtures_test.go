package industry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"minmatar-fleet/internal/sde"
)

const (
	typeTritanium   int32 = 34
	typePyerite     int32 = 35
	typeMexallon    int32 = 36
	typeRifter      int32 = 587
	typeHullPlate   int32 = 9001
	typeCarbonide   int32 = 500
	typeTestMineral int32 = 999201
)

// newTestData builds a small SDE:
//
//	Rifter (1/run)    = 30 Tritanium + 10 Pyerite + 2 Hull Plate
//	Hull Plate (1/run) = 5 Tritanium + 3 Mexallon
//	Carbonide (3/run, reaction) = 5 Tritanium
//	700 <-> 701 cycle, 710 requires itself
//	720 yields 0 per run, 730 needs 0 of an input
//	801 -> 802 -> 803 -> 804 -> 805 chain
func newTestData() *sde.Data {
	d := sde.NewData()
	add := func(id int32, name string) {
		d.Types[id] = &sde.ItemType{ID: id, Name: name, GroupID: 18, CategoryID: 4, Published: true}
	}
	add(typeTritanium, "Tritanium")
	add(typePyerite, "Pyerite")
	add(typeMexallon, "Mexallon")
	add(typeRifter, "Rifter")
	add(typeHullPlate, "Hull Plate")
	add(typeCarbonide, "Crystalline Carbonide")
	add(typeTestMineral, "Test Mineral")
	for _, id := range []int32{700, 701, 710, 720, 730, 801, 802, 803, 804, 805} {
		add(id, "Fixture")
	}

	ind := d.Industry
	ind.Add(&sde.Formula{BlueprintTypeID: 691, ProductTypeID: typeRifter, OutputQuantity: 1, Activity: sde.ActivityManufacturing,
		Materials: []sde.Material{{TypeID: typeTritanium, Quantity: 30}, {TypeID: typePyerite, Quantity: 10}, {TypeID: typeHullPlate, Quantity: 2}}})
	ind.Add(&sde.Formula{BlueprintTypeID: 9101, ProductTypeID: typeHullPlate, OutputQuantity: 1, Activity: sde.ActivityManufacturing,
		Materials: []sde.Material{{TypeID: typeTritanium, Quantity: 5}, {TypeID: typeMexallon, Quantity: 3}}})
	ind.Add(&sde.Formula{BlueprintTypeID: 1500, ProductTypeID: typeCarbonide, OutputQuantity: 3, Activity: sde.ActivityReaction,
		Materials: []sde.Material{{TypeID: typeTritanium, Quantity: 5}}})
	ind.Add(&sde.Formula{BlueprintTypeID: 1700, ProductTypeID: 700, OutputQuantity: 1, Materials: []sde.Material{{TypeID: 701, Quantity: 1}}})
	ind.Add(&sde.Formula{BlueprintTypeID: 1701, ProductTypeID: 701, OutputQuantity: 1, Materials: []sde.Material{{TypeID: 700, Quantity: 1}}})
	ind.Add(&sde.Formula{BlueprintTypeID: 1710, ProductTypeID: 710, OutputQuantity: 1, Materials: []sde.Material{{TypeID: 710, Quantity: 1}}})
	ind.Add(&sde.Formula{BlueprintTypeID: 1720, ProductTypeID: 720, OutputQuantity: 0, Materials: []sde.Material{{TypeID: typeTritanium, Quantity: 1}}})
	ind.Add(&sde.Formula{BlueprintTypeID: 1730, ProductTypeID: 730, OutputQuantity: 1, Materials: []sde.Material{{TypeID: typeTritanium, Quantity: 0}}})
	for id := int32(801); id < 805; id++ {
		ind.Add(&sde.Formula{BlueprintTypeID: id + 1000, ProductTypeID: id, OutputQuantity: 1, Materials: []sde.Material{{TypeID: id + 1, Quantity: 2}}})
	}
	return d
}

func newTestBuilder(ceiling int) *Builder {
	d := newTestData()
	catalog := NewCatalog(d, nil, nil, 0, 0)
	return NewBuilder(NewResolver(catalog, d.Industry), ceiling)
}

// memProducts is an in-memory BreakdownStore. Cached trees go through JSON
// like they do in the database.
type memProducts struct {
	mu       sync.Mutex
	products map[int32]int64 // typeID -> productID
	cached   map[int64][]byte
	linear   map[int64]bool
	stores   int
}

func newMemProducts(products map[int32]int64) *memProducts {
	return &memProducts{products: products, cached: map[int64][]byte{}, linear: map[int64]bool{}}
}

func (m *memProducts) IndustryProductBreakdown(ctx context.Context, typeID int32) (int64, *CachedBreakdown, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.products[typeID]
	if !ok {
		return 0, nil, ErrProductNotFound
	}
	raw, ok := m.cached[id]
	if !ok {
		return id, nil, nil
	}
	var tree ComponentNode
	if err := json.Unmarshal(raw, &tree); err != nil {
		return 0, nil, err
	}
	return id, &CachedBreakdown{Linear: m.linear[id], Tree: &tree}, nil
}

func (m *memProducts) StoreIndustryProductBreakdown(ctx context.Context, productID int64, b *CachedBreakdown) error {
	raw, err := json.Marshal(b.Tree)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached[productID] = raw
	m.linear[productID] = b.Linear
	m.stores++
	return nil
}

func (m *memProducts) IndustryProductIDsByType(ctx context.Context, typeIDs []int32) (map[int32]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int32]int64)
	for _, id := range typeIDs {
		if pid, ok := m.products[id]; ok {
			out[id] = pid
		}
	}
	return out, nil
}

func (m *memProducts) storeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores
}

type mockDemand struct {
	mock.Mock
}

func (m *mockDemand) OrderItemQuantities(ctx context.Context, orderID int64) ([]TypeQuantity, error) {
	args := m.Called(ctx, orderID)
	if v := args.Get(0); v != nil {
		return v.([]TypeQuantity), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDemand) OrderItemTotals(ctx context.Context, from, to time.Time) ([]TypeQuantity, error) {
	args := m.Called(ctx, from, to)
	if v := args.Get(0); v != nil {
		return v.([]TypeQuantity), args.Error(1)
	}
	return nil, args.Error(1)
}

type memTypes struct {
	mu    sync.Mutex
	types map[int32]EveType
	saved []int32
}

func (m *memTypes) LookupEveType(ctx context.Context, typeID int32) (*EveType, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[typeID]
	if !ok {
		return nil, false, nil
	}
	return &t, true, nil
}

func (m *memTypes) SaveEveType(ctx context.Context, t EveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.types == nil {
		m.types = map[int32]EveType{}
	}
	m.types[t.ID] = t
	m.saved = append(m.saved, t.ID)
	return nil
}
