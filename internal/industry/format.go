package industry

import (
	"fmt"
	"strings"
)

// FormatTree renders a breakdown tree as an indented text tree.
func FormatTree(root *ComponentNode) string {
	if root == nil {
		return "(empty tree)"
	}
	var b strings.Builder
	formatNode(&b, root, "", true, true)
	return b.String()
}

func formatNode(b *strings.Builder, node *ComponentNode, prefix string, isLast, isRoot bool) {
	linePrefix := ""
	if !isRoot {
		if isLast {
			linePrefix = prefix + "└── "
		} else {
			linePrefix = prefix + "├── "
		}
	}

	name := node.Name
	if name == "" {
		name = fmt.Sprintf("type %d", node.TypeID)
	}
	fmt.Fprintf(b, "%s%s x%d [%s]", linePrefix, name, node.Quantity, node.Source)
	if node.IndustryProductID != nil {
		fmt.Fprintf(b, " (product %d)", *node.IndustryProductID)
	}
	b.WriteString("\n")

	childPrefix := prefix
	if !isRoot {
		if isLast {
			childPrefix = prefix + "    "
		} else {
			childPrefix = prefix + "│   "
		}
	}
	for i, child := range node.Children {
		formatNode(b, child, childPrefix, i == len(node.Children)-1, false)
	}
}

// FormatMaterials renders a flat material list as aligned columns.
func FormatMaterials(materials []Material) string {
	var b strings.Builder
	for _, m := range materials {
		fmt.Fprintf(&b, "%-10d %-40s %d\n", m.TypeID, m.Name, m.Quantity)
	}
	return b.String()
}
