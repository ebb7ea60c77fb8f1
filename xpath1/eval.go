package xpath1

import (
	"math"

	"github.com/sigmundgranaas/petty/tree"

	xerrors "github.com/sigmundgranaas/petty/errors"
)

// Func is a registered XPath 1.0 builtin or extension function (spec
// §4.D, §6.5).
type Func func(ctx *Context, args []Value) (Value, error)

// FunctionRegistry resolves a (name, arity) pair to a callable
// implementation (spec §4.D "registered by qualified name and arity").
type FunctionRegistry interface {
	Lookup(name tree.QName, arity int) (Func, bool)
}

// Eval evaluates expr against ctx, returning an XPath 1.0 Value (spec
// §4.C).
func Eval(ctx *Context, expr Expr) (Value, error) {
	switch e := expr.(type) {
	case NumberLit:
		return Number(e.Value), nil
	case StringLit:
		return String(e.Value), nil
	case VariableRef:
		if v, ok := ctx.Vars.Get(e.Name); ok {
			return v, nil
		}
		if ctx.Strict {
			return Value{}, xerrors.ErrUnknownVariable.New(e.Name.Local)
		}
		return NodeSet(nil), nil
	case UnaryMinusExpr:
		x, err := Eval(ctx, e.X)
		if err != nil {
			return Value{}, err
		}
		return Number(-x.ToNumber()), nil
	case BinaryExpr:
		return evalBinary(ctx, e)
	case FilterExpr:
		return evalFilter(ctx, e)
	case PathExpr:
		return evalPath(ctx, e)
	case FunctionCall:
		return evalCall(ctx, e)
	default:
		return Value{}, xerrors.FOER0000.New("unsupported expression node")
	}
}

func evalBinary(ctx *Context, e BinaryExpr) (Value, error) {
	switch e.Op {
	case OpOr:
		l, err := Eval(ctx, e.Left)
		if err != nil {
			return Value{}, err
		}
		if l.ToBoolean() {
			return Boolean(true), nil
		}
		r, err := Eval(ctx, e.Right)
		if err != nil {
			return Value{}, err
		}
		return Boolean(r.ToBoolean()), nil
	case OpAnd:
		l, err := Eval(ctx, e.Left)
		if err != nil {
			return Value{}, err
		}
		if !l.ToBoolean() {
			return Boolean(false), nil
		}
		r, err := Eval(ctx, e.Right)
		if err != nil {
			return Value{}, err
		}
		return Boolean(r.ToBoolean()), nil
	case OpUnion:
		l, err := Eval(ctx, e.Left)
		if err != nil {
			return Value{}, err
		}
		r, err := Eval(ctx, e.Right)
		if err != nil {
			return Value{}, err
		}
		return NodeSet(append(append([]tree.Node{}, l.ToNodeSet()...), r.ToNodeSet()...)), nil
	}

	l, err := Eval(ctx, e.Left)
	if err != nil {
		return Value{}, err
	}
	r, err := Eval(ctx, e.Right)
	if err != nil {
		return Value{}, err
	}

	switch e.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return compareValues(e.Op, l, r), nil
	case OpAdd:
		return Number(l.ToNumber() + r.ToNumber()), nil
	case OpSub:
		return Number(l.ToNumber() - r.ToNumber()), nil
	case OpMul:
		return Number(l.ToNumber() * r.ToNumber()), nil
	case OpDiv:
		return Number(divide(l.ToNumber(), r.ToNumber())), nil
	case OpMod:
		return Number(xmod(l.ToNumber(), r.ToNumber())), nil
	default:
		return Value{}, xerrors.FOER0000.New("unsupported operator")
	}
}

// divide implements XPath's "div" (spec §4.C, §8): IEEE-754 division,
// including signed infinities and NaN for 0/0.
func divide(a, b float64) float64 { return a / b }

// xmod follows the sign of the dividend, matching Go's math.Mod.
func xmod(a, b float64) float64 { return math.Mod(a, b) }

func compareValues(op BinOp, l, r Value) Value {
	// Node-set comparisons are existential across the cross product
	// (spec §4.C "Operators").
	if l.Kind == KindNodeSet && r.Kind == KindNodeSet {
		for _, ln := range l.Nodes {
			for _, rn := range r.Nodes {
				if compareScalars(op, String(ln.StringValue()), String(rn.StringValue())) {
					return Boolean(true)
				}
			}
		}
		return Boolean(false)
	}
	if l.Kind == KindNodeSet || r.Kind == KindNodeSet {
		ns, other := l, r
		nsIsLeft := true
		if r.Kind == KindNodeSet {
			ns, other = r, l
			nsIsLeft = false
		}
		for _, n := range ns.Nodes {
			var lhs, rhs Value
			if other.Kind == KindNumber {
				lhs, rhs = Number(stringToNumber(n.StringValue())), other
			} else {
				lhs, rhs = String(n.StringValue()), other
			}
			if !nsIsLeft {
				lhs, rhs = rhs, lhs
			}
			if compareScalars(op, lhs, rhs) {
				return Boolean(true)
			}
		}
		return Boolean(false)
	}
	return Boolean(compareScalars(op, l, r))
}

func compareScalars(op BinOp, l, r Value) bool {
	if op == OpEq || op == OpNe {
		var eq bool
		if l.Kind == KindBoolean || r.Kind == KindBoolean {
			eq = l.ToBoolean() == r.ToBoolean()
		} else if l.Kind == KindNumber || r.Kind == KindNumber {
			eq = l.ToNumber() == r.ToNumber()
		} else {
			eq = l.ToString() == r.ToString()
		}
		if op == OpEq {
			return eq
		}
		return !eq
	}
	ln, rn := l.ToNumber(), r.ToNumber()
	switch op {
	case OpLt:
		return ln < rn
	case OpLe:
		return ln <= rn
	case OpGt:
		return ln > rn
	case OpGe:
		return ln >= rn
	default:
		return false
	}
}

func evalFilter(ctx *Context, e FilterExpr) (Value, error) {
	v, err := Eval(ctx, e.Primary)
	if err != nil {
		return Value{}, err
	}
	nodes := v.ToNodeSet()
	if nodes == nil && v.Kind != KindNodeSet {
		// Filtering a non-node-set primary (e.g. a function returning a
		// node-set stored as something else) is a type error in strict
		// XPath 1.0; we degrade gracefully to an empty result.
		return NodeSet(nil), nil
	}
	filtered, err := applyPredicates(ctx, nodes, e.Predicates)
	if err != nil {
		return Value{}, err
	}
	return NodeSet(filtered), nil
}

// applyPredicates filters candidates left-to-right, each predicate
// evaluated with its own per-step sub-context where position/size are
// relative to the surviving candidates so far (spec §4.C "Predicates").
func applyPredicates(ctx *Context, candidates []tree.Node, preds []Expr) ([]tree.Node, error) {
	for _, pred := range preds {
		size := len(candidates)
		var next []tree.Node
		for i, n := range candidates {
			pctx := ctx.WithItem(n, i+1, size)
			v, err := Eval(pctx, pred)
			if err != nil {
				return nil, err
			}
			if predicateMatches(v, i+1) {
				next = append(next, n)
			}
		}
		candidates = next
	}
	return candidates, nil
}

// predicateMatches applies the numeric-position-or-boolean rule (spec
// §4.C): a number n selects the item at 1-based position n; anything
// else is reduced to a boolean.
func predicateMatches(v Value, position int) bool {
	if v.Kind == KindNumber {
		return int(v.Num) == position && v.Num == math.Trunc(v.Num)
	}
	return v.ToBoolean()
}

func evalPath(ctx *Context, e PathExpr) (Value, error) {
	var current []tree.Node
	if e.Root != nil {
		rv, err := Eval(ctx, e.Root)
		if err != nil {
			return Value{}, err
		}
		current = rv.ToNodeSet()
	} else if e.Absolute {
		current = []tree.Node{ctx.Root}
	} else {
		current = []tree.Node{ctx.Item}
	}

	for _, step := range e.Steps {
		var err error
		current, err = evalStep(ctx, current, step)
		if err != nil {
			return Value{}, err
		}
	}
	return NodeSet(current), nil
}

func evalStep(ctx *Context, context []tree.Node, step Step) ([]tree.Node, error) {
	var candidates []tree.Node
	seen := make(map[uint64]bool)
	for _, n := range context {
		for _, c := range axisNodes(n, step.Axis) {
			if step.Test.Matches(c, step.Axis) {
				if !seen[c.Identity()] {
					seen[c.Identity()] = true
					candidates = append(candidates, c)
				}
			}
		}
	}
	candidates = tree.SortDedup(candidates)
	return applyPredicates(ctx, candidates, step.Predicates)
}

// axisNodes enumerates the axis relationship from n (spec §4.C "Axes").
func axisNodes(n tree.Node, axis Axis) []tree.Node {
	switch axis {
	case Child:
		return n.Children()
	case AttributeAxis:
		return n.Attributes()
	case SelfAxis:
		return []tree.Node{n}
	case Parent:
		if p, ok := n.Parent(); ok {
			return []tree.Node{p}
		}
		return nil
	case Ancestor:
		return ancestors(n, false)
	case AncestorOrSelf:
		return ancestors(n, true)
	case Descendant:
		return descendants(n, false)
	case DescendantOrSelf:
		return descendants(n, true)
	case FollowingSibling:
		return siblings(n, true)
	case PrecedingSibling:
		return siblings(n, false)
	case Following:
		return followingOrPreceding(n, true)
	case Preceding:
		return followingOrPreceding(n, false)
	default:
		return nil
	}
}

func ancestors(n tree.Node, self bool) []tree.Node {
	var out []tree.Node
	if self {
		out = append(out, n)
	}
	cur := n
	for {
		p, ok := cur.Parent()
		if !ok {
			break
		}
		out = append(out, p)
		cur = p
	}
	return out
}

func descendants(n tree.Node, self bool) []tree.Node {
	var out []tree.Node
	if self {
		out = append(out, n)
	}
	var walk func(tree.Node)
	walk = func(cur tree.Node) {
		for _, c := range cur.Children() {
			out = append(out, c)
			walk(c)
		}
	}
	walk(n)
	return out
}

func siblings(n tree.Node, following bool) []tree.Node {
	p, ok := n.Parent()
	if !ok {
		return nil
	}
	children := p.Children()
	idx := indexOf(children, n)
	if idx < 0 {
		return nil
	}
	if following {
		return children[idx+1:]
	}
	return reversed(children[:idx])
}

// followingOrPreceding implements the "preceding iterates parents and
// collects their preceding siblings plus those siblings' descendants"
// rule (spec §4.C).
func followingOrPreceding(n tree.Node, following bool) []tree.Node {
	var out []tree.Node
	cur := n
	for {
		p, ok := cur.Parent()
		if !ok {
			break
		}
		children := p.Children()
		idx := indexOf(children, cur)
		var sibs []tree.Node
		if following {
			sibs = children[idx+1:]
		} else {
			sibs = reversed(children[:idx])
		}
		for _, s := range sibs {
			out = append(out, s)
			out = append(out, descendants(s, false)...)
		}
		cur = p
	}
	return out
}

func indexOf(nodes []tree.Node, target tree.Node) int {
	for i, n := range nodes {
		if n.Identity() == target.Identity() {
			return i
		}
	}
	return -1
}

func reversed(nodes []tree.Node) []tree.Node {
	out := make([]tree.Node, len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}

func evalCall(ctx *Context, e FunctionCall) (Value, error) {
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		v, err := Eval(ctx, a)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	if ctx.Funcs == nil {
		return Value{}, xerrors.ErrUnknownFunction.New(e.Name.Local, len(args))
	}
	fn, ok := ctx.Funcs.Lookup(e.Name, len(args))
	if !ok {
		return Value{}, xerrors.ErrUnknownFunction.New(e.Name.Local, len(args))
	}
	return fn(ctx, args)
}
