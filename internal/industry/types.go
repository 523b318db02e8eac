package industry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source is how a type is obtained.
type Source string

const (
	SourceRaw       Source = "raw"
	SourceBlueprint Source = "blueprint"
	SourceReaction  Source = "reaction"
)

// Strategy describes how the alliance sources a tracked product.
type Strategy string

const (
	StrategyImport     Strategy = "import"
	StrategyExport     Strategy = "export"
	StrategyIntegrated Strategy = "integrated"
)

// ParseStrategy normalises a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyImport:
		return StrategyImport, nil
	case StrategyExport:
		return StrategyExport, nil
	case StrategyIntegrated:
		return StrategyIntegrated, nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

var (
	// ErrTypeNotFound means the type is unknown to every reference data source.
	ErrTypeNotFound = errors.New("type not found")
	// ErrProductNotFound means no industry product tracks the type.
	ErrProductNotFound = errors.New("industry product not found")
	// ErrInvalidQuantity is returned for build quantities below one.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// FormulaIntegrityError reports formula data the builder refuses to expand:
// a cycle, a malformed formula or a chain deeper than the hard ceiling.
type FormulaIntegrityError struct {
	TypeID int32
	Path   []int32
	Reason string
}

func (e *FormulaIntegrityError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("formula integrity: type %d: %s", e.TypeID, e.Reason)
	}
	return fmt.Sprintf("formula integrity: type %d: %s (path %v)", e.TypeID, e.Reason, e.Path)
}

// EveType is a static item type.
type EveType struct {
	ID         int32  `json:"type_id"`
	Name       string `json:"name"`
	GroupID    int32  `json:"group_id"`
	CategoryID int32  `json:"category_id"`
}

// ComponentNode is one node of a material breakdown tree.
type ComponentNode struct {
	Name              string           `json:"name"`
	TypeID            int32            `json:"type_id"`
	Quantity          int64            `json:"quantity"`
	Source            Source           `json:"source"`
	Depth             int              `json:"depth"`
	Children          []*ComponentNode `json:"children"`
	IndustryProductID *int64           `json:"industry_product_id"`

	// OutputPerRun is the formula's units per run; zero for raw materials.
	OutputPerRun int64 `json:"-"`
}

// CachedBreakdown is the persisted quantity-1 full-depth tree of a product.
// Linear is true when every formula in the tree yields one unit per run, which
// is the only case where the tree may be rescaled instead of rebuilt.
type CachedBreakdown struct {
	Linear bool
	Tree   *ComponentNode
}

// TypeQuantity is a demand line: a type and how many units are wanted.
type TypeQuantity struct {
	TypeID   int32
	Quantity int64
}

// Material is a row of a flat breakdown.
type Material struct {
	TypeID   int32  `json:"type_id"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// Product is a tracked industry product.
type Product struct {
	ID           int64    `json:"id"`
	TypeID       int32    `json:"type_id"`
	Name         string   `json:"name"`
	Strategy     Strategy `json:"strategy"`
	HasBreakdown bool     `json:"has_breakdown"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// TypeStore persists types fetched from ESI.
type TypeStore interface {
	LookupEveType(ctx context.Context, typeID int32) (*EveType, bool, error)
	SaveEveType(ctx context.Context, t EveType) error
}

// BreakdownStore owns the cached breakdown of tracked products.
type BreakdownStore interface {
	// IndustryProductBreakdown returns the product tracking typeID and its
	// cached breakdown, nil when none is stored. ErrProductNotFound when the
	// type is not tracked.
	IndustryProductBreakdown(ctx context.Context, typeID int32) (int64, *CachedBreakdown, error)
	StoreIndustryProductBreakdown(ctx context.Context, productID int64, b *CachedBreakdown) error
	IndustryProductIDsByType(ctx context.Context, typeIDs []int32) (map[int32]int64, error)
}

// DemandStore reads order demand.
type DemandStore interface {
	// OrderItemQuantities returns the items of one order in item order.
	OrderItemQuantities(ctx context.Context, orderID int64) ([]TypeQuantity, error)
	// OrderItemTotals sums item quantities per type over orders needed
	// between from and to inclusive.
	OrderItemTotals(ctx context.Context, from, to time.Time) ([]TypeQuantity, error)
}
