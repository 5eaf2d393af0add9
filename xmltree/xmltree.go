// Package xmltree flattens an XML document into a schema-agnostic tree of
// nodes keyed by local (namespace-stripped) tag and attribute names.
package xmltree

import (
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/xerrors"
)

type kind int

const (
	kindText kind = iota
	kindMap
	kindList
)

// Node is a tagged variant: plain text, an ordered mapping of local names to
// child nodes, or an ordered sequence of nodes for repeated sibling tags.
// A nil *Node stands for an element that carried no text, attributes or
// children.
type Node struct {
	kind  kind
	text  string
	keys  []string
	byKey map[string]*Node
	items []*Node
}

func newText(s string) *Node {
	return &Node{kind: kindText, text: s}
}

func newMap() *Node {
	return &Node{kind: kindMap, byKey: map[string]*Node{}}
}

func (n *Node) set(key string, child *Node) {
	if _, ok := n.byKey[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.byKey[key] = child
}

// Text returns the node's text content. The second return is false for nil,
// map and list nodes.
func (n *Node) Text() (string, bool) {
	if n == nil || n.kind != kindText {
		return "", false
	}
	return n.text, true
}

// Child returns the node stored under key. The second return reports whether
// the key is present at all; the returned node may still be nil for an empty
// element.
func (n *Node) Child(key string) (*Node, bool) {
	if n == nil || n.kind != kindMap {
		return nil, false
	}
	c, ok := n.byKey[key]
	return c, ok
}

// List returns the nodes stored under key as a sequence regardless of
// cardinality: a repeated tag yields all its nodes in document order, a
// single tag yields a one-element sequence, a missing tag yields nil.
func (n *Node) List(key string) []*Node {
	c, ok := n.Child(key)
	if !ok {
		return nil
	}
	if c != nil && c.kind == kindList {
		return c.items
	}
	return []*Node{c}
}

// Keys returns the mapping keys in first-seen document order.
func (n *Node) Keys() []string {
	if n == nil || n.kind != kindMap {
		return nil
	}
	return n.keys
}

// Lookup walks a chain of Child calls and reports the first missing key.
func (n *Node) Lookup(path ...string) (*Node, bool) {
	cur := n
	for _, key := range path {
		c, ok := cur.Child(key)
		if !ok {
			return nil, false
		}
		cur = c
	}
	return cur, true
}

// Parse reads an XML document and flattens its root element.
func Parse(data []byte) (*Node, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, xerrors.Errorf("failed to parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, xerrors.New("XML document has no root element")
	}
	return Flatten(root), nil
}

// Flatten converts an element tree into a Node. Namespace prefixes are
// dropped, so differently-namespaced elements sharing a local name collide;
// attributes are merged after child grouping and win such collisions. Both
// behaviors are kept for compatibility with existing descriptors.
func Flatten(el *etree.Element) *Node {
	n := newMap()

	order, groups := groupChildren(el)
	for _, tag := range order {
		nodes := groups[tag]
		if len(nodes) == 1 {
			n.set(tag, nodes[0])
			continue
		}
		n.set(tag, &Node{kind: kindList, items: nodes})
	}

	for _, a := range el.Attr {
		if a.Space == "xmlns" || a.Key == "xmlns" {
			continue
		}
		n.set(a.Key, newText(a.Value))
	}

	if text := strings.TrimSpace(el.Text()); text != "" {
		if len(n.keys) == 0 {
			return newText(text)
		}
		n.set("#text", newText(text))
	}

	if len(n.keys) == 0 {
		return nil
	}
	return n
}

func groupChildren(el *etree.Element) ([]string, map[string][]*Node) {
	var order []string
	groups := map[string][]*Node{}
	for _, child := range el.ChildElements() {
		if _, ok := groups[child.Tag]; !ok {
			order = append(order, child.Tag)
		}
		groups[child.Tag] = append(groups[child.Tag], Flatten(child))
	}
	return order, groups
}
