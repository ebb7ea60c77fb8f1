// Package xpath1 implements the XPath 1.0 dialect: lexer, recursive-
// descent parser (spec §4.B), and tree-walking evaluator (spec §4.C)
// over the four-valued data model (spec §3.2). xpath31 embeds this
// package's AST for the productions it shares (location paths, axes,
// node tests) and extends evaluation with the richer XDM (spec §3.3).
package xpath1

import "github.com/sigmundgranaas/petty/tree"

// Axis enumerates the navigational relationships a Step may use (spec
// §4.C "Axes").
type Axis int

const (
	Child Axis = iota
	Descendant
	DescendantOrSelf
	Parent
	Ancestor
	AncestorOrSelf
	SelfAxis
	AttributeAxis
	FollowingSibling
	PrecedingSibling
	Following
	Preceding
)

func (a Axis) String() string {
	switch a {
	case Child:
		return "child"
	case Descendant:
		return "descendant"
	case DescendantOrSelf:
		return "descendant-or-self"
	case Parent:
		return "parent"
	case Ancestor:
		return "ancestor"
	case AncestorOrSelf:
		return "ancestor-or-self"
	case SelfAxis:
		return "self"
	case AttributeAxis:
		return "attribute"
	case FollowingSibling:
		return "following-sibling"
	case PrecedingSibling:
		return "preceding-sibling"
	case Following:
		return "following"
	case Preceding:
		return "preceding"
	default:
		return "unknown-axis"
	}
}

// Forward reports whether the axis moves strictly forward/downward in
// document order (spec §4.L). The streamability analyzer in
// stream/posture classifies axes itself and does not call it.
func (a Axis) Forward() bool {
	switch a {
	case Child, Descendant, DescendantOrSelf, SelfAxis, AttributeAxis, FollowingSibling, Following:
		return true
	default:
		return false
	}
}

// NodeTestKind distinguishes the forms a node test may take.
type NodeTestKind int

const (
	TestWildcard NodeTestKind = iota
	TestName
	TestAnyNode
	TestTextNode
	TestCommentNode
	TestPI
)

// NodeTest filters the candidates an axis step produces, by kind and/or
// name (spec §4.C "Node tests").
type NodeTest struct {
	Kind   NodeTestKind
	Name   tree.QName // for TestName
	PITarg string     // for TestPI, optional processing-instruction("target")
}

func (t NodeTest) Matches(n tree.Node, axis Axis) bool {
	switch t.Kind {
	case TestWildcard:
		if axis == AttributeAxis {
			return n.Kind() == tree.Attribute
		}
		return n.Kind() == tree.Element
	case TestName:
		if axis == AttributeAxis {
			if n.Kind() != tree.Attribute {
				return false
			}
		} else if n.Kind() != tree.Element {
			return false
		}
		name, ok := n.Name()
		if !ok {
			return false
		}
		if t.Name.Prefix != "" && name.Prefix == "" {
			return false
		}
		if name.Prefix != "" && t.Name.Prefix == "" {
			return false
		}
		return name.Local == t.Name.Local
	case TestAnyNode:
		return true
	case TestTextNode:
		return n.Kind() == tree.Text
	case TestCommentNode:
		return n.Kind() == tree.Comment
	case TestPI:
		if n.Kind() != tree.ProcessingInstruction {
			return false
		}
		if t.PITarg == "" {
			return true
		}
		name, _ := n.Name()
		return name.Local == t.PITarg
	default:
		return false
	}
}

// Step is one segment of a location path: an axis, a node test, and
// zero or more predicates applied left-to-right (spec §4.C).
type Step struct {
	Axis       Axis
	Test       NodeTest
	Predicates []Expr
}

// Expr is the marker interface implemented by every XPath 1.0 AST node.
type Expr interface{ exprNode() }

// PathExpr is an absolute ("/...") or relative location path, or a
// filter-expression-rooted path ("(expr)/step...").
type PathExpr struct {
	Absolute bool
	Root     Expr // non-nil when the path is rooted in a filter expression rather than "/"
	Steps    []Step
}

// FilterExpr applies predicates to an arbitrary primary expression (e.g.
// "$nodes[1]").
type FilterExpr struct {
	Primary    Expr
	Predicates []Expr
}

type BinOp int

const (
	OpOr BinOp = iota
	OpAnd
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpUnion
)

type BinaryExpr struct {
	Op          BinOp
	Left, Right Expr
}

type UnaryMinusExpr struct{ X Expr }

type NumberLit struct{ Value float64 }

type StringLit struct{ Value string }

type VariableRef struct{ Name tree.QName }

type ContextItemExpr struct{}

type FunctionCall struct {
	Name tree.QName
	Args []Expr
}

func (PathExpr) exprNode()        {}
func (FilterExpr) exprNode()      {}
func (BinaryExpr) exprNode()      {}
func (UnaryMinusExpr) exprNode()  {}
func (NumberLit) exprNode()       {}
func (StringLit) exprNode()       {}
func (VariableRef) exprNode()     {}
func (ContextItemExpr) exprNode() {}
func (FunctionCall) exprNode()    {}
