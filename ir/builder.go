// Package ir defines the output-builder contract the tree-building and
// streaming executors emit IR through (spec §6.2), plus a reference
// in-memory implementation used by tests and the example program. The
// layout/rendering backend that turns IRNode into PDF output is out of
// scope (spec §1 "Out of scope") — this package only owns the
// intermediate tree shape and the staging discipline try/catch needs.
package ir

// Style is an opaque resolved style handle. Concrete property parsing
// (CSS-like color/length/border grammars) is a leaf utility out of
// scope for this engine (spec §1); callers hand in whatever style
// dictionary key or resolved struct their backend produced.
type Style interface{}

// NodeKind enumerates the shapes an IRNode can take (spec §6.2).
type NodeKind int

const (
	KindBlock NodeKind = iota
	KindParagraph
	KindText
	KindInline
	KindHyperlink
	KindImage
	KindList
	KindListItem
	KindTable
	KindTableRow
	KindTableCell
)

// IRNode is the opaque, tree-shaped IR type the layout backend owns
// (spec §6.2 "finalize() -> sequence<IRNode>"). The core only builds
// and stages it; it never interprets Style.
type IRNode struct {
	Kind     NodeKind
	Style    Style
	Text     string
	Href     string // KindHyperlink
	Src      string // KindImage
	Columns  int    // KindTable
	Header   bool   // KindTable
	Children []*IRNode
}

// Builder is the outbound interface consumers of the core implement
// (spec §6.2). The tree-building and streaming executors depend only
// on this interface, never on a concrete backend.
type Builder interface {
	StartBlock(style Style)
	EndBlock()
	StartParagraph(style Style)
	EndParagraph()
	AddText(s string)
	StartInline(style Style)
	EndInline()
	Hyperlink(href string, style Style)
	Image(src string, style Style)
	StartList(style Style)
	EndList()
	StartListItem(style Style)
	EndListItem()
	StartTable(columns int, header bool, style Style)
	EndTable()
	StartTableRow(style Style)
	EndTableRow()
	StartTableCell(style Style)
	EndTableCell()

	// StageBegin/StageCommit/StageRollback implement the try/catch
	// rollback discipline (spec §5 "Locking/transactions", §9
	// "Streaming staging"): a nestable counter plus a side list of
	// emissions; rollback truncates, commit merges into the parent.
	StageBegin()
	StageCommit()
	StageRollback()

	Finalize() []*IRNode
}

// TreeBuilder is the reference in-memory Builder: it assembles IRNode
// values directly rather than forwarding to a real layout backend,
// grounded on the shape of a classic stack-of-open-containers builder.
// A stage is a saved length of the open-container's child slice at
// StageBegin time; StageRollback truncates back to it.
type TreeBuilder struct {
	roots []*IRNode
	stack []*IRNode
	// stageMarks records, per open stage, the container each mark
	// applies to and the child-count to roll back to.
	stageMarks []stageMark
}

type stageMark struct {
	container *IRNode // nil means the builder's top-level roots slice
	rootsLen  int
	childLen  int
}

func NewTreeBuilder() *TreeBuilder { return &TreeBuilder{} }

func (b *TreeBuilder) current() *IRNode {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

func (b *TreeBuilder) emit(n *IRNode) {
	if cur := b.current(); cur != nil {
		cur.Children = append(cur.Children, n)
	} else {
		b.roots = append(b.roots, n)
	}
}

func (b *TreeBuilder) push(n *IRNode) {
	b.emit(n)
	b.stack = append(b.stack, n)
}

func (b *TreeBuilder) pop() {
	if len(b.stack) > 0 {
		b.stack = b.stack[:len(b.stack)-1]
	}
}

func (b *TreeBuilder) StartBlock(style Style)     { b.push(&IRNode{Kind: KindBlock, Style: style}) }
func (b *TreeBuilder) EndBlock()                  { b.pop() }
func (b *TreeBuilder) StartParagraph(style Style) { b.push(&IRNode{Kind: KindParagraph, Style: style}) }
func (b *TreeBuilder) EndParagraph()              { b.pop() }
func (b *TreeBuilder) AddText(s string)           { b.emit(&IRNode{Kind: KindText, Text: s}) }
func (b *TreeBuilder) StartInline(style Style)    { b.push(&IRNode{Kind: KindInline, Style: style}) }
func (b *TreeBuilder) EndInline()                 { b.pop() }
func (b *TreeBuilder) Hyperlink(href string, style Style) {
	b.emit(&IRNode{Kind: KindHyperlink, Href: href, Style: style})
}
func (b *TreeBuilder) Image(src string, style Style) {
	b.emit(&IRNode{Kind: KindImage, Src: src, Style: style})
}
func (b *TreeBuilder) StartList(style Style)     { b.push(&IRNode{Kind: KindList, Style: style}) }
func (b *TreeBuilder) EndList()                  { b.pop() }
func (b *TreeBuilder) StartListItem(style Style) { b.push(&IRNode{Kind: KindListItem, Style: style}) }
func (b *TreeBuilder) EndListItem()              { b.pop() }
func (b *TreeBuilder) StartTable(columns int, header bool, style Style) {
	b.push(&IRNode{Kind: KindTable, Columns: columns, Header: header, Style: style})
}
func (b *TreeBuilder) EndTable()                 { b.pop() }
func (b *TreeBuilder) StartTableRow(style Style) { b.push(&IRNode{Kind: KindTableRow, Style: style}) }
func (b *TreeBuilder) EndTableRow()              { b.pop() }
func (b *TreeBuilder) StartTableCell(style Style) {
	b.push(&IRNode{Kind: KindTableCell, Style: style})
}
func (b *TreeBuilder) EndTableCell() { b.pop() }

func (b *TreeBuilder) StageBegin() {
	cur := b.current()
	mark := stageMark{container: cur, rootsLen: len(b.roots)}
	if cur != nil {
		mark.childLen = len(cur.Children)
	}
	b.stageMarks = append(b.stageMarks, mark)
}

func (b *TreeBuilder) StageCommit() {
	if len(b.stageMarks) > 0 {
		b.stageMarks = b.stageMarks[:len(b.stageMarks)-1]
	}
}

// StageRollback discards everything emitted into the staged container
// since the matching StageBegin (spec §5 try/catch rollback_output).
func (b *TreeBuilder) StageRollback() {
	if len(b.stageMarks) == 0 {
		return
	}
	mark := b.stageMarks[len(b.stageMarks)-1]
	b.stageMarks = b.stageMarks[:len(b.stageMarks)-1]
	if mark.container != nil {
		mark.container.Children = mark.container.Children[:mark.childLen]
	} else {
		b.roots = b.roots[:mark.rootsLen]
	}
}

func (b *TreeBuilder) Finalize() []*IRNode { return b.roots }
