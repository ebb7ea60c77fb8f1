// Package xpath31 implements the XPath 3.1 dialect: the superset
// grammar (spec §4.E) and the extended XDM evaluator (spec §4.F) over
// items/sequences/maps/arrays/functions (spec §3.3). Location-path
// productions are delegated to package xpath1's AST and axis-stepping
// code (wrapped in Legacy below) rather than re-implemented, since
// the grammar and semantics are identical on that subset (spec §4.E
// "Superset grammar").
package xpath31

import (
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// Expr is the marker interface for every XPath 3.1 AST node. An
// xpath1.Expr becomes an Expr by being wrapped in Legacy, so the 1.0
// location-path/operator productions can appear anywhere a 3.1
// expression is expected.
type Expr interface{ expr31Node() }

// Legacy wraps a plain XPath 1.0 expression (location paths, the
// arithmetic/comparison/union operators, literals) so the 3.1 evaluator
// can dispatch into xpath1.Eval for the shared subset, then lift the
// xpath1.Value result into a Sequence.
type Legacy struct{ X xpath1.Expr }

// Binding is one (for|let) $name in|:= expr clause.
type Binding struct {
	Name  tree.QName
	Expr  Expr
	IsFor bool // true: "for"; false: "let"
}

type ForLetExpr struct {
	Bindings []Binding
	Return   Expr
}

type IfExpr struct {
	Cond, Then, Else Expr
}

type QuantKind int

const (
	QuantSome QuantKind = iota
	QuantEvery
)

type QuantifiedExpr struct {
	Kind     QuantKind
	Bindings []Binding
	Test     Expr
}

type LogicOp int

const (
	LOr LogicOp = iota
	LAnd
)

type LogicExpr struct {
	Op          LogicOp
	Left, Right Expr
}

type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
	// Value comparisons (eq, ne, lt, le, gt, ge) compare single atomics
	// directly rather than existentially across node-sets.
	CmpValEq
	CmpValNe
	CmpValLt
	CmpValLe
	CmpValGt
	CmpValGe
)

type CompareExpr struct {
	Op          CmpOp
	Left, Right Expr
}

type StringConcatExpr struct{ Left, Right Expr }

type RangeExpr struct{ Low, High Expr }

type ArithOp int

const (
	ArAdd ArithOp = iota
	ArSub
	ArMul
	ArDiv
	ArIDiv
	ArMod
)

type ArithExpr struct {
	Op          ArithOp
	Left, Right Expr
}

type UnionOp int

const (
	SetUnion UnionOp = iota
	SetIntersect
	SetExcept
)

type SetExpr struct {
	Op          UnionOp
	Left, Right Expr
}

type InstanceOfExpr struct {
	X    Expr
	Type SequenceType
}

type TreatAsExpr struct {
	X    Expr
	Type SequenceType
}

type CastKind int

const (
	CastAs CastKind = iota
	CastableAs
)

type CastExpr struct {
	Kind     CastKind
	X        Expr
	Target   string
	Optional bool
}

type UnaryOp int

const (
	UPlus UnaryOp = iota
	UMinus
)

type UnaryExpr struct {
	Op UnaryOp
	X  Expr
}

// ArrowExpr desugars "A => f(args)" into "f(A, args...)" at evaluation
// time (spec §4.C "Arrow").
type ArrowExpr struct {
	Base   Expr
	Target Expr // a FunctionCallExpr or NamedFunctionRefExpr naming the callee
}

// SimpleMapExpr is "A ! B": evaluate A to a sequence, run B once per
// item with that item as context, concatenate (spec §4.C).
type SimpleMapExpr struct{ Left, Right Expr }

type LookupKind int

const (
	LookupKey      LookupKind = iota // ?name or ?1
	LookupExpr1                      // ?(expr)
	LookupWildcard                   // ?*
)

// PostfixLookupExpr is "Base?key" (spec §4.C "Lookup").
type PostfixLookupExpr struct {
	Base Expr
	Kind LookupKind
	Key  string // for LookupKey when it names an NCName
	Int  *int   // for LookupKey when it's an integer
	Expr Expr   // for LookupExpr1
}

// DynamicCallExpr applies "()" to a map/array/function value (spec
// §4.C "Applying () to a map ... array ... function").
type DynamicCallExpr struct {
	Callee Expr
	Args   []Expr // a nil entry (via Placeholder) marks "?" for partial application
}

// Placeholder marks an elided argument ("?") in a function call,
// producing a partial application (spec §3.3, §4.D).
type Placeholder struct{}

type FunctionCallExpr struct {
	Name tree.QName
	Args []Expr
}

// NamedFunctionRefExpr is "name#arity" (spec §4.E primary productions).
type NamedFunctionRefExpr struct {
	Name  tree.QName
	Arity int
}

type Param struct {
	Name tree.QName
	Type SequenceType
}

type InlineFunctionExpr struct {
	Params []Param
	Return SequenceType
	Body   Expr
}

type MapEntry struct{ Key, Value Expr }

type MapConstructorExpr struct{ Entries []MapEntry }

type ArrayConstructorExpr struct {
	// Curly form: one expression whose sequence becomes the members.
	// Square form: each element of Members is one member expression.
	Curly   Expr
	Members []Expr
}

type StringLit struct{ Value string }
type NumberLit struct{ Value float64 }
type ContextItemExpr struct{}

// VariableRefExpr looks up a binding introduced by a 3.1 for/let/
// quantified clause or inline-function parameter, via the XDM Env
// (spec §3.3 "Env"). Location-path predicates delegated to xpath1 see
// the same binding through a mirrored xpath1.VarScope entry (see
// EvalContext.bindVar).
type VariableRefExpr struct{ Name tree.QName }

// SequenceType is a (simplified) occurrence-qualified item type used by
// instance-of/treat-as/castable/cast (spec §4.C "Type operators").
type SequenceType struct {
	ItemTypeName string // "node()", "xs:integer", "xs:string", "map(*)", "array(*)", "function(*)", "item()", ...
	Occurrence   byte   // 0 '?' '*' '+'
}

func (Legacy) expr31Node()               {}
func (ForLetExpr) expr31Node()           {}
func (IfExpr) expr31Node()               {}
func (QuantifiedExpr) expr31Node()       {}
func (LogicExpr) expr31Node()            {}
func (CompareExpr) expr31Node()          {}
func (StringConcatExpr) expr31Node()     {}
func (RangeExpr) expr31Node()            {}
func (ArithExpr) expr31Node()            {}
func (SetExpr) expr31Node()              {}
func (InstanceOfExpr) expr31Node()       {}
func (TreatAsExpr) expr31Node()          {}
func (CastExpr) expr31Node()             {}
func (UnaryExpr) expr31Node()            {}
func (ArrowExpr) expr31Node()            {}
func (SimpleMapExpr) expr31Node()        {}
func (PostfixLookupExpr) expr31Node()    {}
func (DynamicCallExpr) expr31Node()      {}
func (Placeholder) expr31Node()          {}
func (FunctionCallExpr) expr31Node()     {}
func (NamedFunctionRefExpr) expr31Node() {}
func (InlineFunctionExpr) expr31Node()   {}
func (MapConstructorExpr) expr31Node()   {}
func (ArrayConstructorExpr) expr31Node() {}
func (StringLit) expr31Node()            {}
func (NumberLit) expr31Node()            {}
func (ContextItemExpr) expr31Node()      {}
func (VariableRefExpr) expr31Node()      {}
