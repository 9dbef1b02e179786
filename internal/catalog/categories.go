package catalog

import "strings"

// CategoryVisitor is called for each node with its depth and the names of
// its ancestors, root first. Returning false skips the node's children.
type CategoryVisitor func(c *Category, depth int, path []string) bool

// WalkCategories visits roots depth-first in order.
func WalkCategories(roots []*Category, visit CategoryVisitor) {
	var walk func(nodes []*Category, depth int, path []string)
	walk = func(nodes []*Category, depth int, path []string) {
		for _, c := range nodes {
			if c == nil {
				continue
			}
			if !visit(c, depth, path) {
				continue
			}
			walk(c.Children, depth+1, append(path[:len(path):len(path)], c.Name))
		}
	}
	walk(roots, 0, nil)
}

// FlatCategory is a category with its position in the tree.
type FlatCategory struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Depth int    `json:"depth"`

	// Label is the ancestor path, e.g. "Tin tức / Kinh tế"
	Label string `json:"label"`
}

// FlattenCategories lists every node of the forest depth-first.
func FlattenCategories(roots []*Category) []FlatCategory {
	var out []FlatCategory
	WalkCategories(roots, func(c *Category, depth int, path []string) bool {
		out = append(out, FlatCategory{
			ID:    c.ID,
			Name:  c.Name,
			Slug:  c.Slug,
			Depth: depth,
			Label: strings.Join(append(path[:len(path):len(path)], c.Name), " / "),
		})
		return true
	})
	return out
}

// FindCategory returns the node with id, or nil.
func FindCategory(roots []*Category, id string) *Category {
	var found *Category
	WalkCategories(roots, func(c *Category, _ int, _ []string) bool {
		if found != nil {
			return false
		}
		if c.ID == id {
			found = c
		}
		return found == nil
	})
	return found
}

// BuildTree links flat categories into a forest by ParentID. Nodes whose
// parent is unknown become roots.
func BuildTree(flat []*Category) []*Category {
	byID := make(map[string]*Category, len(flat))
	for _, c := range flat {
		c.Children = nil
		byID[c.ID] = c
	}
	var roots []*Category
	for _, c := range flat {
		if parent, ok := byID[c.ParentID]; ok && c.ParentID != "" && parent != c {
			parent.Children = append(parent.Children, c)
		} else {
			roots = append(roots, c)
		}
	}
	return roots
}
