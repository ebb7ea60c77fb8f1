package exec

import "github.com/sigmundgranaas/petty/tree"

// stringNode is a transient, parentless text node used to give a bare
// string (an analyze-string segment, a regex capture group) a context
// item the xpath1 evaluator can operate on (spec §4.J "Analyze-string"
// "context-item = the segment's string"), grounded on the same
// non-owning-handle node shape tree/xmltree and tree/jsontree use, cut
// down to the leaf case: no children, no parent, no document.
type stringNode struct {
	text  string
	order tree.Order
}

var stringNodeSeq tree.Order

func newStringNode(s string) *stringNode {
	stringNodeSeq++
	return &stringNode{text: s, order: stringNodeSeq}
}

func (n *stringNode) Kind() tree.Kind           { return tree.Text }
func (n *stringNode) Name() (tree.QName, bool)  { return tree.QName{}, false }
func (n *stringNode) Children() []tree.Node     { return nil }
func (n *stringNode) Attributes() []tree.Node   { return nil }
func (n *stringNode) Parent() (tree.Node, bool) { return nil, false }
func (n *stringNode) StringValue() string       { return n.text }
func (n *stringNode) Identity() uint64          { return uint64(n.order) }
func (n *stringNode) DocOrder() tree.Order      { return n.order }
func (n *stringNode) Document() tree.Node       { return n }
