// Package xmltree is the concrete XML tree-source adapter (spec §4.A,
// §6.1). It parses with the standard library's encoding/xml decoder (the
// corpus's other XML-facing repos — droyo-go-xml, arturoeanton-go-xml —
// do the same for the base tokenizer) and builds an arena of nodes
// indexed by position, so a tree.Node here is a non-owning (arena,
// index) handle per the design note in spec §9: no parent/child pointers
// that could cycle, just slice indices into one arena.
package xmltree

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/sigmundgranaas/petty/tree"
)

type nodeRecord struct {
	kind       tree.Kind
	name       tree.QName
	hasName    bool
	text       string
	parent     int // -1 for the root
	children   []int
	attributes []int
	order      tree.Order
}

// Arena owns a parsed XML document. All tree.Node values vended by this
// arena are indices into it and remain valid for the arena's lifetime.
type Arena struct {
	nodes []nodeRecord
}

// Parse reads XML from r and returns the root node of the resulting
// document, preserving element order, attribute order, and whitespace
// exactly as they appear in the source (§6.1 adapter contract).
func Parse(r io.Reader) (tree.Node, error) {
	a := &Arena{}
	rootIdx := a.newNode(tree.Root, -1)

	dec := xml.NewDecoder(r)
	stack := []int{rootIdx}
	order := tree.Order(0)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "xmltree: decoding")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			parent := stack[len(stack)-1]
			idx := a.newNode(tree.Element, parent)
			a.nodes[idx].hasName = true
			a.nodes[idx].name = qnameOf(t.Name)
			order++
			a.nodes[idx].order = order
			a.nodes[parent].children = append(a.nodes[parent].children, idx)
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				aidx := a.newNode(tree.Attribute, idx)
				a.nodes[aidx].hasName = true
				a.nodes[aidx].name = qnameOf(attr.Name)
				a.nodes[aidx].text = attr.Value
				order++
				a.nodes[aidx].order = order
				a.nodes[idx].attributes = append(a.nodes[idx].attributes, aidx)
			}
			stack = append(stack, idx)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			parent := stack[len(stack)-1]
			idx := a.newNode(tree.Text, parent)
			a.nodes[idx].text = string(t)
			order++
			a.nodes[idx].order = order
			a.nodes[parent].children = append(a.nodes[parent].children, idx)
		case xml.Comment:
			parent := stack[len(stack)-1]
			idx := a.newNode(tree.Comment, parent)
			a.nodes[idx].text = string(t)
			order++
			a.nodes[idx].order = order
			a.nodes[parent].children = append(a.nodes[parent].children, idx)
		case xml.ProcInst:
			parent := stack[len(stack)-1]
			idx := a.newNode(tree.ProcessingInstruction, parent)
			a.nodes[idx].hasName = true
			a.nodes[idx].name = tree.QName{Local: t.Target}
			a.nodes[idx].text = string(t.Inst)
			order++
			a.nodes[idx].order = order
			a.nodes[parent].children = append(a.nodes[parent].children, idx)
		}
	}

	return &node{arena: a, idx: rootIdx}, nil
}

func qnameOf(n xml.Name) tree.QName {
	prefix := ""
	local := n.Local
	if i := strings.IndexByte(local, ':'); i >= 0 {
		prefix, local = local[:i], local[i+1:]
	}
	return tree.QName{Prefix: prefix, Local: local, Namespace: n.Space}
}

func (a *Arena) newNode(kind tree.Kind, parent int) int {
	a.nodes = append(a.nodes, nodeRecord{kind: kind, parent: parent})
	return len(a.nodes) - 1
}

// node is the tree.Node implementation handed to evaluator code; it is a
// small value type (arena pointer + int index) so copying it is cheap.
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
	switch r.kind {
	case tree.Text, tree.Attribute, tree.Comment, tree.ProcessingInstruction:
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
