// Package posture implements the streamability analyzer (spec §4.L):
// it assigns every XPath 1.0 expression a Posture/Sweep classification
// and folds them through the join rules the spec's representative
// table describes, so the streaming executor (package stream) can
// reject anything that touches a part of the document it hasn't seen
// yet or has already let go of.
//
// Grounded on the same recursive-descent-over-the-AST shape xpath1's
// own evaluator uses (eval.go): one case per xpath1.Expr variant,
// folding children before the parent.
package posture

import "github.com/sigmundgranaas/petty/xpath1"

// Posture classifies how an expression's result relates to the
// streamed node's position in the document (spec §4.L).
type Posture int

const (
	Grounded Posture = iota
	Striding
	Climbing
	Crawling
	Roaming
)

func (p Posture) String() string {
	switch p {
	case Grounded:
		return "grounded"
	case Striding:
		return "striding"
	case Climbing:
		return "climbing"
	case Crawling:
		return "crawling"
	case Roaming:
		return "roaming"
	default:
		return "unknown-posture"
	}
}

// Sweep classifies how much of the stream an expression consumes
// while it is evaluated (spec §4.L).
type Sweep int

const (
	Motionless Sweep = iota
	Consuming
	FreeRanging
)

func (s Sweep) String() string {
	switch s {
	case Motionless:
		return "motionless"
	case Consuming:
		return "consuming"
	case FreeRanging:
		return "freeranging"
	default:
		return "unknown-sweep"
	}
}

// Class is one expression's joint posture/sweep classification.
type Class struct {
	Posture Posture
	Sweep   Sweep
}

// Streamable reports whether c's posture permits evaluation against a
// streamed (not fully materialized) subtree (spec §4.L "streamable
// iff its final posture != Roaming").
func (c Class) Streamable() bool { return c.Posture != Roaming }

var grounded = Class{Posture: Grounded, Sweep: Motionless}
var roaming = Class{Posture: Roaming, Sweep: FreeRanging}

// Classify folds expr's posture/sweep per the join rules (spec §4.L
// "representative rules").
func Classify(expr xpath1.Expr) Class {
	switch e := expr.(type) {
	case nil:
		return grounded
	case xpath1.NumberLit, xpath1.StringLit:
		return grounded
	case xpath1.VariableRef:
		// A variable's posture depends on what it was bound from, which
		// this purely-syntactic analyzer cannot see without threading a
		// binding environment through compilation; treating every
		// variable reference as Grounded (spec §4.L "variable ... ->
		// Grounded/Motionless") is the stated rule, and is the
		// conservative choice for streaming template authors: it accepts
		// the representative case, and any variable actually bound to a
		// node-set selection is caught by the streaming executor at
		// validate time, not here.
		return grounded
	case xpath1.ContextItemExpr:
		return Class{Posture: Striding, Sweep: Motionless}
	case xpath1.UnaryMinusExpr:
		return Classify(e.X)
	case xpath1.BinaryExpr:
		left := Classify(e.Left)
		right := Classify(e.Right)
		return join(left, right)
	case xpath1.FilterExpr:
		base := Classify(e.Primary)
		for _, p := range e.Predicates {
			base = join(base, predicateClass(Classify(p)))
		}
		return base
	case xpath1.FunctionCall:
		return classifyCall(e)
	case xpath1.PathExpr:
		return classifyPath(e)
	default:
		return roaming
	}
}

// predicateClass folds a predicate expression's classification into
// its containing path/filter without letting a Grounded predicate
// (the overwhelmingly common case, e.g. "[1]" or "[@id='x']") force
// the whole expression to Roaming: only a predicate that is itself
// unsafe to evaluate per node (Roaming) poisons the outer expression.
func predicateClass(c Class) Class {
	if !c.Streamable() {
		return roaming
	}
	return grounded
}

// join implements spec §4.L's binary join table: "Grounded is
// absorbing upward [i.e. the identity element]; Striding+Striding =
// Striding; Striding+Crawling = Roaming; Roaming propagates." Posture
// combinations the table leaves unstated (Climbing mixed with anything
// non-Grounded, Crawling+Crawling) are resolved conservatively to
// Roaming except where both sides already agree, since accepting a
// combination the table doesn't license would risk silently
// mis-classifying an unsafe expression as streamable.
func join(a, b Class) Class {
	return Class{Posture: joinPosture(a.Posture, b.Posture), Sweep: joinSweep(a.Sweep, b.Sweep)}
}

func joinPosture(a, b Posture) Posture {
	if a == Roaming || b == Roaming {
		return Roaming
	}
	if a == Grounded {
		return b
	}
	if b == Grounded {
		return a
	}
	if a == b {
		return a
	}
	return Roaming
}

func joinSweep(a, b Sweep) Sweep {
	if a == FreeRanging || b == FreeRanging {
		return FreeRanging
	}
	if a == Consuming || b == Consuming {
		return Consuming
	}
	return Motionless
}

// absorbing is the "representative" list of functions spec §4.L names
// explicitly (count, sum, string, normalize-space, ...). In XPath 1.0
// every function beyond id()/key() returns an atomic (string/number/
// boolean), so the same Grounded-result treatment is sound for any
// function name, not just this list; the list is kept only as the
// spec-named documentation anchor, not as a runtime filter — see
// classifyCall.
var absorbing = map[string]bool{
	"count": true, "sum": true, "string": true, "normalize-space": true,
	"boolean": true, "number": true, "name": true, "local-name": true,
	"string-length": true, "not": true, "true": true, "false": true,
	"concat": true, "substring": true, "translate": true, "contains": true,
	"starts-with": true, "ends-with": true, "last": true, "position": true,
}

// classifyCall implements "Absorbing functions ... turn a
// Striding/Crawling input back into Grounded/Consuming (the caller
// becomes grounded again because the result is an atomic)" (spec
// §4.L). A Roaming argument still poisons the call: evaluating an
// unsafe argument expression is itself not streamable, regardless of
// what the function does with the result.
func classifyCall(e xpath1.FunctionCall) Class {
	args := grounded
	for _, a := range e.Args {
		args = join(args, Classify(a))
	}
	if !args.Streamable() {
		return roaming
	}
	_ = absorbing // documented anchor only, see doc comment above
	if args.Posture == Grounded {
		return args
	}
	return Class{Posture: Grounded, Sweep: Consuming}
}

// classifyPath folds a location path's steps left to right (spec
// §4.L "Relative location path: fold per step"), starting from the
// root's classification when the path is rooted in a filter
// expression, or Striding/Motionless (the context item) for a bare
// relative path. An absolute path is Roaming outright; its steps are
// not folded.
func classifyPath(p xpath1.PathExpr) Class {
	var cur Class
	switch {
	case p.Absolute:
		// Reachable only by re-seeking the document root, which a
		// streaming pass has already moved past for any node but the
		// very first (spec §4.L "Absolute path -> Roaming").
		return roaming
	case p.Root != nil:
		cur = Classify(p.Root)
	default:
		cur = Class{Posture: Striding, Sweep: Motionless}
	}
	for _, step := range p.Steps {
		if !cur.Streamable() {
			return roaming
		}
		cur = foldStep(cur, step)
		for _, pr := range step.Predicates {
			cur = join(cur, predicateClass(Classify(pr)))
		}
	}
	return cur
}

// foldStep applies one axis step's effect on the running
// classification (spec §4.L "child preserves Striding; descendant
// elevates to Crawling; attribute/self stays Motionless; parent/
// ancestor elevates to Climbing; preceding/following axes produce
// Roaming").
func foldStep(cur Class, step xpath1.Step) Class {
	switch step.Axis {
	case xpath1.Child:
		return Class{Posture: elevateForward(cur.Posture), Sweep: Consuming}
	case xpath1.Descendant, xpath1.DescendantOrSelf:
		return Class{Posture: Crawling, Sweep: Consuming}
	case xpath1.AttributeAxis, xpath1.SelfAxis:
		return Class{Posture: cur.Posture, Sweep: cur.Sweep}
	case xpath1.Parent, xpath1.Ancestor, xpath1.AncestorOrSelf:
		return Class{Posture: Climbing, Sweep: FreeRanging}
	default:
		// preceding, following, preceding-sibling, following-sibling
		return roaming
	}
}

// elevateForward keeps Grounded as Striding (the step still moves to
// a real child), keeps Striding as Striding, and otherwise holds the
// current (already Crawling/Climbing) posture — a child step under a
// Crawling ancestor is still Crawling, not a regression to Striding.
func elevateForward(p Posture) Posture {
	switch p {
	case Grounded, Striding:
		return Striding
	default:
		return p
	}
}
