package industry

import (
	"context"
	"errors"
	"math"

	"minmatar-fleet/internal/metrics"
)

const (
	// NoDepthLimit expands the tree down to raw materials.
	NoDepthLimit = -1
	// DefaultDepthCeiling bounds recursion regardless of the requested depth.
	DefaultDepthCeiling = 64
)

// Builder expands a type and quantity into a breakdown tree.
type Builder struct {
	resolver *Resolver
	ceiling  int
}

// NewBuilder creates a builder. ceiling <= 0 uses DefaultDepthCeiling.
func NewBuilder(resolver *Resolver, ceiling int) *Builder {
	if ceiling <= 0 {
		ceiling = DefaultDepthCeiling
	}
	return &Builder{resolver: resolver, ceiling: ceiling}
}

// Build returns the breakdown of quantity units of typeID. The root has depth
// 0. With maxDepth >= 0, nodes at maxDepth are returned without children.
func (b *Builder) Build(ctx context.Context, typeID int32, quantity int64, maxDepth int) (*ComponentNode, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	node, err := b.build(ctx, typeID, quantity, 0, maxDepth, make(map[int32]bool), nil)
	if err != nil {
		var integrity *FormulaIntegrityError
		if errors.As(err, &integrity) {
			metrics.FormulaIntegrityErrors.Inc()
		}
		return nil, err
	}
	metrics.BreakdownNodes.Observe(float64(CountNodes(node)))
	return node, nil
}

func (b *Builder) build(ctx context.Context, typeID int32, quantity int64, depth, maxDepth int, visiting map[int32]bool, path []int32) (*ComponentNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if visiting[typeID] {
		return nil, &FormulaIntegrityError{TypeID: typeID, Path: append(clonePath(path), typeID), Reason: "circular formula"}
	}
	if depth > b.ceiling {
		return nil, &FormulaIntegrityError{TypeID: typeID, Path: clonePath(path), Reason: "depth ceiling exceeded"}
	}

	res, err := b.resolver.Resolve(ctx, typeID)
	if err != nil {
		return nil, err
	}

	node := &ComponentNode{
		Name:         res.Type.Name,
		TypeID:       typeID,
		Quantity:     quantity,
		Source:       res.Source,
		Depth:        depth,
		Children:     []*ComponentNode{},
		OutputPerRun: res.OutputPerRun,
	}
	if res.Source == SourceRaw || (maxDepth >= 0 && depth >= maxDepth) {
		return node, nil
	}

	// Partial runs consume a full set of inputs.
	runs := ceilDiv(quantity, res.OutputPerRun)

	visiting[typeID] = true
	defer delete(visiting, typeID)
	path = append(path, typeID)

	for _, in := range res.Inputs {
		if runs > math.MaxInt64/in.QuantityPerRun {
			return nil, &FormulaIntegrityError{TypeID: in.TypeID, Path: clonePath(path), Reason: "quantity overflow"}
		}
		child, err := b.build(ctx, in.TypeID, runs*in.QuantityPerRun, depth+1, maxDepth, visiting, path)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// ceilDiv assumes a >= 1 and b >= 1.
func ceilDiv(a, b int64) int64 {
	return (a-1)/b + 1
}

func clonePath(path []int32) []int32 {
	out := make([]int32, len(path))
	copy(out, path)
	return out
}
