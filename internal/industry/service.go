package industry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"minmatar-fleet/internal/esi"
	"minmatar-fleet/internal/logger"
	"minmatar-fleet/internal/metrics"
	"minmatar-fleet/internal/sde"
)

// Deps wires a Service. Products and Demand may be nil for tools that only
// build ad-hoc breakdowns.
type Deps struct {
	SDE           *sde.Data
	Types         TypeStore
	ESI           esi.TypeClient
	Products      BreakdownStore
	Demand        DemandStore
	DepthCeiling  int
	TypeCacheSize int
	TypeCacheTTL  time.Duration
}

// Service is the industry breakdown engine.
type Service struct {
	catalog  *Catalog
	builder  *Builder
	products BreakdownStore
	demand   DemandStore
	fill     singleflight.Group
}

// NewService creates the breakdown engine.
func NewService(d Deps) *Service {
	catalog := NewCatalog(d.SDE, d.Types, d.ESI, d.TypeCacheSize, d.TypeCacheTTL)
	var formulas FormulaSource
	if d.SDE != nil && d.SDE.Industry != nil {
		formulas = d.SDE.Industry
	}
	return &Service{
		catalog:  catalog,
		builder:  NewBuilder(NewResolver(catalog, formulas), d.DepthCeiling),
		products: d.Products,
		demand:   d.Demand,
	}
}

// Catalog returns the service's type catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// GetNestedBreakdown builds a fresh full-depth tree. Nothing is cached.
func (s *Service) GetNestedBreakdown(ctx context.Context, typeID int32, quantity int64) (*ComponentNode, error) {
	tree, err := s.builder.Build(ctx, typeID, quantity, NoDepthLimit)
	if err != nil {
		return nil, err
	}
	metrics.BreakdownsTotal.WithLabelValues(metrics.PathFresh).Inc()
	return tree, nil
}

// GetFlatBreakdown returns the raw materials for quantity units of typeID,
// largest quantities first.
func (s *Service) GetFlatBreakdown(ctx context.Context, typeID int32, quantity int64) ([]Material, error) {
	tree, err := s.GetNestedBreakdown(ctx, typeID, quantity)
	if err != nil {
		return nil, err
	}
	return FlattenSorted(tree)
}

// FlattenNestedBreakdownToQuantities sums leaf quantities of an already built tree.
func (s *Service) FlattenNestedBreakdownToQuantities(tree *ComponentNode) (map[int32]int64, error) {
	return Flatten(tree)
}

// GetBreakdownForIndustryProduct serves a breakdown through the product's
// cached quantity-1 tree. With store set, a missing cache entry is computed
// and persisted first. A cached tree is rescaled only when it is linear;
// otherwise the tree is rebuilt at the requested quantity. Types that are not
// tracked products are built fresh. The result is enriched with product IDs.
func (s *Service) GetBreakdownForIndustryProduct(ctx context.Context, typeID int32, quantity int64, maxDepth int, store bool) (*ComponentNode, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var (
		productID int64
		cached    *CachedBreakdown
		err       error
	)
	if s.products != nil {
		productID, cached, err = s.products.IndustryProductBreakdown(ctx, typeID)
		switch {
		case errors.Is(err, ErrProductNotFound):
			productID = 0
		case err != nil:
			return nil, fmt.Errorf("load cached breakdown: %w", err)
		}
	}

	if cached == nil && store && productID != 0 {
		cached, err = s.fillCache(ctx, productID, typeID)
		if err != nil {
			return nil, err
		}
	}

	var tree *ComponentNode
	switch {
	case cached == nil || cached.Tree == nil:
		tree, err = s.builder.Build(ctx, typeID, quantity, maxDepth)
		if err != nil {
			return nil, err
		}
		metrics.BreakdownsTotal.WithLabelValues(metrics.PathFresh).Inc()
	case quantity == 1:
		tree = Truncate(cached.Tree, maxDepth)
		metrics.BreakdownsTotal.WithLabelValues(metrics.PathCacheExact).Inc()
	case cached.Linear:
		scaled, err := Scale(cached.Tree, quantity)
		if err != nil {
			metrics.FormulaIntegrityErrors.Inc()
			return nil, err
		}
		tree = Truncate(scaled, maxDepth)
		metrics.BreakdownsTotal.WithLabelValues(metrics.PathCacheScaled).Inc()
	default:
		tree, err = s.builder.Build(ctx, typeID, quantity, maxDepth)
		if err != nil {
			return nil, err
		}
		metrics.BreakdownsTotal.WithLabelValues(metrics.PathRecompute).Inc()
	}

	if err := s.EnrichBreakdownWithIndustryProductIDs(ctx, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// fillCache computes and stores the quantity-1 tree once per product even
// under concurrent requests.
func (s *Service) fillCache(ctx context.Context, productID int64, typeID int32) (*CachedBreakdown, error) {
	v, err, _ := s.fill.Do(strconv.FormatInt(productID, 10), func() (interface{}, error) {
		return s.storeBreakdown(ctx, productID, typeID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CachedBreakdown), nil
}

// BuildProductBreakdown computes the quantity-1 full-depth tree a product
// caches, without storing it.
func (s *Service) BuildProductBreakdown(ctx context.Context, typeID int32) (*CachedBreakdown, error) {
	tree, err := s.builder.Build(ctx, typeID, 1, NoDepthLimit)
	if err != nil {
		return nil, err
	}
	return &CachedBreakdown{Linear: IsLinear(tree), Tree: tree}, nil
}

func (s *Service) storeBreakdown(ctx context.Context, productID int64, typeID int32) (*CachedBreakdown, error) {
	cached, err := s.BuildProductBreakdown(ctx, typeID)
	if err != nil {
		return nil, err
	}
	tree := cached.Tree
	if err := s.products.StoreIndustryProductBreakdown(ctx, productID, cached); err != nil {
		return nil, fmt.Errorf("store breakdown for product %d: %w", productID, err)
	}
	metrics.BreakdownsTotal.WithLabelValues(metrics.PathStored).Inc()
	logger.Debug("Industry", fmt.Sprintf("Stored breakdown for product %d (type %d, %d nodes, linear=%v)",
		productID, typeID, CountNodes(tree), cached.Linear))
	return cached, nil
}

// RefreshIndustryProductBreakdown recomputes and stores the cached tree of
// the product tracking typeID, replacing any previous one.
func (s *Service) RefreshIndustryProductBreakdown(ctx context.Context, typeID int32) (*CachedBreakdown, error) {
	if s.products == nil {
		return nil, ErrProductNotFound
	}
	productID, _, err := s.products.IndustryProductBreakdown(ctx, typeID)
	if err != nil {
		return nil, err
	}
	return s.storeBreakdown(ctx, productID, typeID)
}

// EnrichBreakdownWithIndustryProductIDs sets IndustryProductID on every node
// whose type is a tracked product and clears it elsewhere. Nothing else changes.
func (s *Service) EnrichBreakdownWithIndustryProductIDs(ctx context.Context, tree *ComponentNode) error {
	if tree == nil || s.products == nil {
		return nil
	}
	seen := make(map[int32]bool)
	var typeIDs []int32
	Walk(tree, func(n *ComponentNode) {
		if !seen[n.TypeID] {
			seen[n.TypeID] = true
			typeIDs = append(typeIDs, n.TypeID)
		}
	})

	ids, err := s.products.IndustryProductIDsByType(ctx, typeIDs)
	if err != nil {
		return fmt.Errorf("lookup industry products: %w", err)
	}
	Walk(tree, func(n *ComponentNode) {
		n.IndustryProductID = nil
		if id, ok := ids[n.TypeID]; ok {
			id := id
			n.IndustryProductID = &id
		}
	})
	return nil
}

// OrderBreakdown returns one full-depth tree per item of the order.
func (s *Service) OrderBreakdown(ctx context.Context, orderID int64) ([]*ComponentNode, error) {
	if s.demand == nil {
		return nil, errors.New("industry: no demand store configured")
	}
	items, err := s.demand.OrderItemQuantities(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.breakdownAll(ctx, items)
}

// NestedSummary sums item quantities per type over orders needed between from
// and to, then returns one tree per type ordered by type ID.
func (s *Service) NestedSummary(ctx context.Context, from, to time.Time) ([]*ComponentNode, error) {
	if s.demand == nil {
		return nil, errors.New("industry: no demand store configured")
	}
	totals, err := s.demand.OrderItemTotals(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].TypeID < totals[j].TypeID })
	return s.breakdownAll(ctx, totals)
}

// FlatSummary is NestedSummary reduced to raw materials.
func (s *Service) FlatSummary(ctx context.Context, from, to time.Time) ([]Material, error) {
	trees, err := s.NestedSummary(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return FlattenSorted(trees...)
}

func (s *Service) breakdownAll(ctx context.Context, items []TypeQuantity) ([]*ComponentNode, error) {
	trees := make([]*ComponentNode, 0, len(items))
	for _, it := range items {
		tree, err := s.GetBreakdownForIndustryProduct(ctx, it.TypeID, it.Quantity, NoDepthLimit, false)
		if err != nil {
			return nil, fmt.Errorf("breakdown type %d: %w", it.TypeID, err)
		}
		trees = append(trees, tree)
	}
	return trees, nil
}
