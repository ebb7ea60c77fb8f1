package exec

import (
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// reserved variable names carry executor-only state through a context's
// ordinary VarScope (spec §4.J "current-group()/current-grouping-key()
// are available as functions"), rather than widening xpath1.Context
// with fields every other consumer of that package would have to carry
// too. The leading NUL byte can never appear in a parsed QName, so these
// can't collide with a user-declared variable.
var (
	varCurrentGroup       = tree.QName{Local: "\x00current-group"}
	varCurrentGroupingKey = tree.QName{Local: "\x00current-grouping-key"}
	varCurrentNode        = tree.QName{Local: "\x00current"}
	varRegexGroups        = tree.QName{Local: "\x00regex-groups"}
)

// registry layers the four dispatch-context functions spec §4.J and
// §4.D require (current, current-group, current-grouping-key,
// regex-group) on top of
// the stylesheet's base function registry (xpath1/builtin.Registry),
// extending xpath1 without modifying it.
type registry struct {
	base xpath1.FunctionRegistry
}

func wrapRegistry(base xpath1.FunctionRegistry) xpath1.FunctionRegistry {
	return &registry{base: base}
}

func (r *registry) Lookup(name tree.QName, arity int) (xpath1.Func, bool) {
	if name.Prefix == "" {
		switch name.Local {
		case "current":
			if arity == 0 {
				return fnCurrent, true
			}
		case "current-group":
			if arity == 0 {
				return fnCurrentGroup, true
			}
		case "current-grouping-key":
			if arity == 0 {
				return fnCurrentGroupingKey, true
			}
		case "regex-group":
			if arity == 1 {
				return fnRegexGroup, true
			}
		}
	}
	return r.base.Lookup(name, arity)
}

func fnCurrent(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	if v, ok := ctx.Vars.Get(varCurrentNode); ok {
		return v, nil
	}
	return xpath1.NodeSet([]tree.Node{ctx.Item}), nil
}

func fnCurrentGroup(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	if v, ok := ctx.Vars.Get(varCurrentGroup); ok {
		return v, nil
	}
	return xpath1.NodeSet(nil), nil
}

func fnCurrentGroupingKey(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	if v, ok := ctx.Vars.Get(varCurrentGroupingKey); ok {
		return v, nil
	}
	return xpath1.String(""), nil
}

// fnRegexGroup backs regex-group(n) inside an xsl:analyze-string
// matching branch (spec §4.J "Analyze-string"): 1-based index into the
// capture groups bound by runAnalyzeSegment, empty string when out of
// range or outside analyze-string entirely.
func fnRegexGroup(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	v, ok := ctx.Vars.Get(varRegexGroups)
	if !ok {
		return xpath1.String(""), nil
	}
	n := int(args[0].ToNumber())
	if n < 1 || n > len(v.Nodes) {
		return xpath1.String(""), nil
	}
	return xpath1.String(v.Nodes[n-1].StringValue()), nil
}
