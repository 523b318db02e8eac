package industry

import (
	"math"
	"sort"
)

// Walk visits every node of the tree in pre-order.
func Walk(node *ComponentNode, fn func(*ComponentNode)) {
	if node == nil {
		return
	}
	fn(node)
	for _, child := range node.Children {
		Walk(child, fn)
	}
}

// CountNodes returns the number of nodes in the tree.
func CountNodes(node *ComponentNode) int {
	n := 0
	Walk(node, func(*ComponentNode) { n++ })
	return n
}

// Flatten sums the quantities of the tree's leaves per type. A node without
// children counts as a leaf, so truncated trees flatten at their cut level.
func Flatten(node *ComponentNode) (map[int32]int64, error) {
	out := make(map[int32]int64)
	if err := collectLeaves(node, out); err != nil {
		return nil, err
	}
	return out, nil
}

func collectLeaves(node *ComponentNode, out map[int32]int64) error {
	if node == nil {
		return nil
	}
	if len(node.Children) == 0 {
		sum, err := addQuantity(out[node.TypeID], node.Quantity, node.TypeID)
		if err != nil {
			return err
		}
		out[node.TypeID] = sum
		return nil
	}
	for _, child := range node.Children {
		if err := collectLeaves(child, out); err != nil {
			return err
		}
	}
	return nil
}

// MergeQuantities adds src into dst.
func MergeQuantities(dst, src map[int32]int64) error {
	for typeID, q := range src {
		sum, err := addQuantity(dst[typeID], q, typeID)
		if err != nil {
			return err
		}
		dst[typeID] = sum
	}
	return nil
}

// FlattenSorted flattens one or more trees into a material list ordered by
// quantity descending, then type ID ascending.
func FlattenSorted(trees ...*ComponentNode) ([]Material, error) {
	totals := make(map[int32]int64)
	names := make(map[int32]string)
	for _, tree := range trees {
		leaves, err := Flatten(tree)
		if err != nil {
			return nil, err
		}
		if err := MergeQuantities(totals, leaves); err != nil {
			return nil, err
		}
		Walk(tree, func(n *ComponentNode) {
			if _, ok := names[n.TypeID]; !ok {
				names[n.TypeID] = n.Name
			}
		})
	}

	result := make([]Material, 0, len(totals))
	for typeID, q := range totals {
		result = append(result, Material{TypeID: typeID, Name: names[typeID], Quantity: q})
	}
	SortMaterials(result)
	return result, nil
}

// addQuantity and mulQuantity expect non-negative operands.
func addQuantity(a, b int64, typeID int32) (int64, error) {
	if b > math.MaxInt64-a {
		return 0, &FormulaIntegrityError{TypeID: typeID, Reason: "quantity overflow"}
	}
	return a + b, nil
}

func mulQuantity(q, factor int64, typeID int32) (int64, error) {
	if factor > 0 && q > math.MaxInt64/factor {
		return 0, &FormulaIntegrityError{TypeID: typeID, Reason: "quantity overflow"}
	}
	return q * factor, nil
}

// SortMaterials orders by quantity descending, ties by type ID ascending.
func SortMaterials(materials []Material) {
	sort.Slice(materials, func(i, j int) bool {
		if materials[i].Quantity != materials[j].Quantity {
			return materials[i].Quantity > materials[j].Quantity
		}
		return materials[i].TypeID < materials[j].TypeID
	})
}

// Clone returns a deep copy of the tree.
func Clone(node *ComponentNode) *ComponentNode {
	out, _ := transform(node, 1, NoDepthLimit) // a factor of 1 cannot overflow
	return out
}

// Scale returns a deep copy with every quantity multiplied by factor. It is
// only correct for trees where IsLinear holds. A product that does not fit in
// an int64 fails with a FormulaIntegrityError.
func Scale(node *ComponentNode, factor int64) (*ComponentNode, error) {
	return transform(node, factor, NoDepthLimit)
}

// Truncate returns a deep copy without the children of nodes at maxDepth.
func Truncate(node *ComponentNode, maxDepth int) *ComponentNode {
	out, _ := transform(node, 1, maxDepth)
	return out
}

func transform(node *ComponentNode, factor int64, maxDepth int) (*ComponentNode, error) {
	if node == nil {
		return nil, nil
	}
	q, err := mulQuantity(node.Quantity, factor, node.TypeID)
	if err != nil {
		return nil, err
	}
	out := *node
	out.Quantity = q
	if node.IndustryProductID != nil {
		id := *node.IndustryProductID
		out.IndustryProductID = &id
	}
	out.Children = []*ComponentNode{}
	if maxDepth >= 0 && node.Depth >= maxDepth {
		return &out, nil
	}
	for _, child := range node.Children {
		c, err := transform(child, factor, maxDepth)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, c)
	}
	return &out, nil
}

// IsLinear reports whether every formula in a freshly built tree yields one
// unit per run, so the tree scales exactly with quantity.
func IsLinear(node *ComponentNode) bool {
	linear := true
	Walk(node, func(n *ComponentNode) {
		if n.Source != SourceRaw && n.OutputPerRun != 1 {
			linear = false
		}
	})
	return linear
}
