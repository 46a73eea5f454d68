package main

import (
	"fmt"
	"strings"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
)

func printTree(node *plm.TreeNode, depth int) {
	if node == nil {
		return
	}
	qty := node.Line.Quantity
	fmt.Printf("%s%s (qty=%d)\n", strings.Repeat("  ", depth), node.Item.Number, qty)
	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}
