// Package jsontree is the concrete JSON tree-source adapter (spec §4.A).
// It synthesizes elements from object keys and array items, and treats
// members of a conventional "@"-prefixed subset of an object as
// attributes rather than child elements — the adapter-level convention
// the spec explicitly leaves to implementations (spec §9 open question
// 3). Parsing is done with github.com/tidwall/gjson, which hands back a
// gjson.Result tree we walk once into our own arena (same non-owning
// (arena, index) node shape as tree/xmltree).
package jsontree

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sigmundgranaas/petty/tree"
)

type nodeRecord struct {
	kind       tree.Kind
	name       tree.QName
	hasName    bool
	text       string
	parent     int
	children   []int
	attributes []int
	order      tree.Order
}

// Arena owns one parsed JSON document.
type Arena struct {
	nodes []nodeRecord
}

// Parse converts raw JSON text into a tree.Node rooted document. The
// synthesized root element is named "json"; object members whose key
// begins with "@" become attributes of the enclosing element, all other
// members and array items become child elements named after the key (or
// "item" for array members, per the adapter convention above).
func Parse(data []byte) (tree.Node, error) {
	if !gjson.ValidBytes(data) {
		return nil, errInvalidJSON
	}
	a := &Arena{}
	rootIdx := a.newNode(tree.Root, -1)
	a.nodes[rootIdx].order = 0

	result := gjson.ParseBytes(data)
	order := tree.Order(0)
	a.build(rootIdx, "json", result, &order)
	return &node{arena: a, idx: rootIdx}, nil
}

var errInvalidJSON = &invalidJSONError{}

type invalidJSONError struct{}

func (*invalidJSONError) Error() string { return "jsontree: invalid JSON document" }

func (a *Arena) build(parent int, name string, v gjson.Result, order *tree.Order) {
	elIdx := a.newNode(tree.Element, parent)
	a.nodes[elIdx].hasName = true
	a.nodes[elIdx].name = tree.QName{Local: name}
	*order++
	a.nodes[elIdx].order = *order
	a.nodes[parent].children = append(a.nodes[parent].children, elIdx)

	switch {
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			k := key.String()
			if strings.HasPrefix(k, "@") {
				aidx := a.newNode(tree.Attribute, elIdx)
				a.nodes[aidx].hasName = true
				a.nodes[aidx].name = tree.QName{Local: strings.TrimPrefix(k, "@")}
				a.nodes[aidx].text = val.String()
				*order++
				a.nodes[aidx].order = *order
				a.nodes[elIdx].attributes = append(a.nodes[elIdx].attributes, aidx)
				return true
			}
			a.build(elIdx, k, val, order)
			return true
		})
	case v.IsArray():
		v.ForEach(func(_, val gjson.Result) bool {
			a.build(elIdx, "item", val, order)
			return true
		})
	default:
		textIdx := a.newNode(tree.Text, elIdx)
		a.nodes[textIdx].text = literalText(v)
		*order++
		a.nodes[textIdx].order = *order
		a.nodes[elIdx].children = append(a.nodes[elIdx].children, textIdx)
	}
}

func literalText(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.True, gjson.False:
		return strconv.FormatBool(v.Bool())
	default:
		return v.String()
	}
}

func (a *Arena) newNode(kind tree.Kind, parent int) int {
	a.nodes = append(a.nodes, nodeRecord{kind: kind, parent: parent})
	return len(a.nodes) - 1
}

type node struct {
	arena *Arena
	idx   int
}

func (n *node) rec() *nodeRecord { return &n.arena.nodes[n.idx] }

func (n *node) Kind() tree.Kind { return n.rec().kind }

func (n *node) Name() (tree.QName, bool) {
	r := n.rec()
	return r.name, r.hasName
}

func (n *node) Children() []tree.Node {
	r := n.rec()
	out := make([]tree.Node, len(r.children))
	for i, c := range r.children {
		out[i] = &node{arena: n.arena, idx: c}
	}
	return out
}

func (n *node) Attributes() []tree.Node {
	r := n.rec()
	out := make([]tree.Node, len(r.attributes))
	for i, c := range r.attributes {
		out[i] = &node{arena: n.arena, idx: c}
	}
	return out
}

func (n *node) Parent() (tree.Node, bool) {
	r := n.rec()
	if r.parent < 0 {
		return nil, false
	}
	return &node{arena: n.arena, idx: r.parent}, true
}

func (n *node) StringValue() string {
	r := n.rec()
	if r.kind == tree.Text || r.kind == tree.Attribute {
		return r.text
	}
	var sb strings.Builder
	n.collectText(&sb)
	return sb.String()
}

func (n *node) collectText(sb *strings.Builder) {
	r := n.rec()
	if r.kind == tree.Text {
		sb.WriteString(r.text)
		return
	}
	for _, c := range r.children {
		(&node{arena: n.arena, idx: c}).collectText(sb)
	}
}

func (n *node) Identity() uint64 { return uint64(n.idx) }

func (n *node) DocOrder() tree.Order { return n.rec().order }

func (n *node) Document() tree.Node {
	cur := n
	for {
		p, ok := cur.Parent()
		if !ok {
			return cur
		}
		cur = p.(*node)
	}
}
