// Package pattern compiles template match patterns — the restricted
// XPath subset a template rule's "match" attribute carries — into a
// predicate function over candidate nodes, plus the default-priority
// computation and the mode-table ordering the executor needs to pick a
// rule (spec §4.M, §9 "Pattern matching specialization").
package pattern

import (
	"strings"

	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// alternative is one "|"-separated branch of a pattern; each branch is
// an independent location path evaluated against the candidate's
// ancestor chain (spec §4.M "Match = evaluating the pattern in the set
// of ancestors-or-self of the candidate yields the candidate").
type alternative struct {
	path     xpath1.PathExpr
	priority float64
}

// Pattern is a compiled match expression: one predicate per "|"
// alternative, plus the highest default priority among them (spec
// §4.M default-priority table), unless overridden by an explicit
// priority attribute at the call site.
type Pattern struct {
	Source       string
	alternatives []alternative
}

// Compile parses a pattern source string (spec §4.M) into a Pattern.
// Each "|"-branch must parse to a location path (or a filter expression
// whose primary is a path); anything else is a compile error since
// patterns are a restricted grammar, not arbitrary XPath.
func Compile(src string) (*Pattern, error) {
	p := &Pattern{Source: src}
	for _, branch := range splitUnion(src) {
		branch = strings.TrimSpace(branch)
		expr, err := xpath1.Parse(branch)
		if err != nil {
			return nil, err
		}
		path, ok := asPath(expr)
		if !ok {
			return nil, patternNotAPathError(branch)
		}
		p.alternatives = append(p.alternatives, alternative{
			path:     path,
			priority: defaultPriority(path),
		})
	}
	return p, nil
}

// splitUnion splits on top-level "|" (patterns don't nest parentheses
// around union the way general XPath union expressions can, so a plain
// byte scan is sufficient here).
func splitUnion(src string) []string {
	depth := 0
	last := 0
	var parts []string
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, src[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, src[last:])
	return parts
}

func asPath(e xpath1.Expr) (xpath1.PathExpr, bool) {
	switch v := e.(type) {
	case xpath1.PathExpr:
		return v, true
	case xpath1.FilterExpr:
		if inner, ok := v.Primary.(xpath1.PathExpr); ok {
			inner.Steps = append(append([]xpath1.Step{}, inner.Steps...), xpath1.Step{
				Axis:       xpath1.SelfAxis,
				Test:       xpath1.NodeTest{Kind: xpath1.TestAnyNode},
				Predicates: v.Predicates,
			})
			return inner, true
		}
	}
	return xpath1.PathExpr{}, false
}

// defaultPriority implements the specificity table (spec §4.M):
// "*"/node() -> -0.5; text()/comment()/pi() -> -0.25; unprefixed name
// test -> 0; a qualified (multi-step) path -> 0.5.
func defaultPriority(path xpath1.PathExpr) float64 {
	if len(path.Steps) == 0 {
		return 0
	}
	if len(path.Steps) > 1 {
		return 0.5
	}
	last := path.Steps[len(path.Steps)-1]
	switch last.Test.Kind {
	case xpath1.TestWildcard, xpath1.TestAnyNode:
		return -0.5
	case xpath1.TestTextNode, xpath1.TestCommentNode, xpath1.TestPI:
		return -0.25
	case xpath1.TestName:
		if last.Test.Name.Prefix != "" {
			return 0.5
		}
		return 0
	default:
		return 0
	}
}

// Priority returns this pattern's default priority: the maximum across
// its "|" alternatives (an element matching any qualifying branch is
// prioritized as if only the most specific one applied).
func (p *Pattern) Priority() float64 {
	best := -0.5
	for i, a := range p.alternatives {
		if i == 0 || a.priority > best {
			best = a.priority
		}
	}
	return best
}

// Matches reports whether candidate satisfies this pattern, evaluated
// via the per-branch reverse-step walk (below). ctx supplies the
// function registry, document root, and variables a predicate inside
// the pattern may reference.
func (p *Pattern) Matches(ctx *xpath1.Context, candidate tree.Node) bool {
	for _, a := range p.alternatives {
		if matchPath(ctx, a.path, candidate) {
			return true
		}
	}
	return false
}

// matchPath walks the path's steps back-to-front against candidate and
// its ancestors, the standard reverse-match technique for template
// patterns (spec §9 "compile each pattern to a predicate function").
func matchPath(ctx *xpath1.Context, path xpath1.PathExpr, candidate tree.Node) bool {
	if len(path.Steps) == 0 {
		return false
	}
	return matchStep(ctx, path, len(path.Steps)-1, candidate)
}

func matchStep(ctx *xpath1.Context, path xpath1.PathExpr, idx int, n tree.Node) bool {
	step := path.Steps[idx]
	if !step.Test.Matches(n, step.Axis) {
		return false
	}
	if !predicatesHold(ctx, step, n) {
		return false
	}
	if idx == 0 {
		if !path.Absolute {
			return true
		}
		parent, ok := n.Parent()
		return ok && parent.Kind() == tree.Root
	}
	prevAxis := path.Steps[idx].Axis
	switch prevAxis {
	case xpath1.AttributeAxis, xpath1.SelfAxis:
		parent, ok := n.Parent()
		if !ok {
			return false
		}
		return matchStep(ctx, path, idx-1, parent)
	case xpath1.DescendantOrSelf, xpath1.Descendant:
		for cur := n; ; {
			parent, ok := cur.Parent()
			if !ok {
				return false
			}
			if matchStep(ctx, path, idx-1, parent) {
				return true
			}
			cur = parent
		}
	default: // Child and anything else abbreviated to an immediate-parent step
		parent, ok := n.Parent()
		if !ok {
			return false
		}
		return matchStep(ctx, path, idx-1, parent)
	}
}

func predicatesHold(ctx *xpath1.Context, step xpath1.Step, n tree.Node) bool {
	if len(step.Predicates) == 0 {
		return true
	}
	pos, size := siblingPosition(n, step)
	sub := ctx.WithItem(n, pos, size)
	for _, pred := range step.Predicates {
		v, err := xpath1.Eval(sub, pred)
		if err != nil {
			return false
		}
		if v.Kind == xpath1.KindNumber {
			if v.Num != float64(pos) {
				return false
			}
			continue
		}
		if !v.ToBoolean() {
			return false
		}
	}
	return true
}

// siblingPosition approximates the position/size a full location-path
// evaluation would have assigned n within its step, by counting
// same-test siblings under n's parent (needed for positional predicates
// like "item[2]" inside a pattern).
func siblingPosition(n tree.Node, step xpath1.Step) (int, int) {
	parent, ok := n.Parent()
	if !ok {
		return 1, 1
	}
	var siblings []tree.Node
	if step.Axis == xpath1.AttributeAxis {
		siblings = parent.Attributes()
	} else {
		siblings = parent.Children()
	}
	pos, size := 1, 0
	for _, s := range siblings {
		if !step.Test.Matches(s, step.Axis) {
			continue
		}
		size++
		if s.Identity() == n.Identity() {
			pos = size
		}
	}
	if size == 0 {
		return 1, 1
	}
	return pos, size
}

func patternNotAPathError(branch string) error {
	return &NotAPathError{Branch: branch}
}

// NotAPathError reports a pattern branch that did not parse to a
// location path (spec §4.M patterns are "a restricted XPath
// expression").
type NotAPathError struct{ Branch string }

func (e *NotAPathError) Error() string {
	return "pattern branch is not a location path: " + e.Branch
}
