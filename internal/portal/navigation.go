package portal

import (
	"strings"
)

type navigationItem struct {
	Code         string           `json:"code"`
	Libelle      string           `json:"libelle"`
	URL          string           `json:"url"`
	SousElements []navigationItem `json:"sousElements"`
}

type navigationDocument struct {
	Burger []navigationItem `json:"burger"`
}

type NavigationNode struct {
	Code     string
	Label    string
	URL      string
	Children []int
}

// NavigationTree is the portal menu stored as an arena, nodes reference
// their children by index.
type NavigationTree struct {
	nodes []NavigationNode
	roots []int
}

func newNavigationTree(doc navigationDocument) NavigationTree {
	var tree NavigationTree

	type pending struct {
		item   *navigationItem
		parent int
	}
	stack := make([]pending, 0, len(doc.Burger))
	// pushed in reverse so that nodes are numbered in document order
	for i := len(doc.Burger) - 1; i >= 0; i-- {
		stack = append(stack, pending{item: &doc.Burger[i], parent: -1})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		idx := len(tree.nodes)
		tree.nodes = append(tree.nodes, NavigationNode{
			Code:  top.item.Code,
			Label: top.item.Libelle,
			URL:   top.item.URL,
		})
		if top.parent < 0 {
			tree.roots = append(tree.roots, idx)
		} else {
			parent := &tree.nodes[top.parent]
			parent.Children = append(parent.Children, idx)
		}

		children := top.item.SousElements
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, pending{item: &children[i], parent: idx})
		}
	}
	return tree
}

func (t NavigationTree) Len() int {
	return len(t.nodes)
}

// Resolve walks the tree one code per level. Every level must match exactly
// one node.
func (t NavigationTree) Resolve(path string) (NavigationNode, error) {
	codes := strings.Split(path, "/")
	level := t.roots
	var found int
	for _, code := range codes {
		matches := 0
		for _, idx := range level {
			if t.nodes[idx].Code == code {
				matches++
				found = idx
			}
		}
		if matches != 1 {
			return NavigationNode{}, &NavigationError{Path: path, Code: code, Count: matches}
		}
		level = t.nodes[found].Children
	}
	return t.nodes[found], nil
}
