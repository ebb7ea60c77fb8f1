// Package builtin is the XPath 1.0 function library (spec §4.D): ~30
// built-ins registered by (name, arity) over the four-valued model.
package builtin

import (
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

type entry struct {
	minArity, maxArity int
	fn                 xpath1.Func
}

// Registry is the default xpath1.FunctionRegistry: every name maps to
// one entry declaring an arity range (spec §4.D "declares an arity
// range (min..=max)").
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}
	r.register()
	return r
}

func (r *Registry) Lookup(name tree.QName, arity int) (xpath1.Func, bool) {
	e, ok := r.entries[name.Local]
	if !ok || arity < e.minArity || (e.maxArity >= 0 && arity > e.maxArity) {
		return nil, false
	}
	return e.fn, true
}

func (r *Registry) add(name string, min, max int, fn xpath1.Func) {
	r.entries[name] = entry{minArity: min, maxArity: max, fn: fn}
}

func (r *Registry) register() {
	r.add("last", 0, 0, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Number(float64(ctx.Size)), nil
	})
	r.add("position", 0, 0, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Number(float64(ctx.Position)), nil
	})
	r.add("count", 1, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Number(float64(len(args[0].ToNodeSet()))), nil
	})
	r.add("id", 1, 1, fnID)
	r.add("local-name", 0, 1, fnLocalName)
	r.add("namespace-uri", 0, 1, fnNamespaceURI)
	r.add("name", 0, 1, fnName)
	r.add("string", 0, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		if len(args) == 0 {
			return xpath1.String(contextValue(ctx).ToString()), nil
		}
		return xpath1.String(args[0].ToString()), nil
	})
	r.add("concat", 2, -1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(a.ToString())
		}
		return xpath1.String(sb.String()), nil
	})
	r.add("starts-with", 2, 2, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Boolean(strings.HasPrefix(args[0].ToString(), args[1].ToString())), nil
	})
	r.add("contains", 2, 2, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Boolean(strings.Contains(args[0].ToString(), args[1].ToString())), nil
	})
	r.add("substring-before", 2, 2, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		s, sep := args[0].ToString(), args[1].ToString()
		if sep == "" {
			return xpath1.String(""), nil
		}
		if i := strings.Index(s, sep); i >= 0 {
			return xpath1.String(s[:i]), nil
		}
		return xpath1.String(""), nil
	})
	r.add("substring-after", 2, 2, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		s, sep := args[0].ToString(), args[1].ToString()
		if sep == "" {
			return xpath1.String(s), nil
		}
		if i := strings.Index(s, sep); i >= 0 {
			return xpath1.String(s[i+len(sep):]), nil
		}
		return xpath1.String(""), nil
	})
	r.add("substring", 2, 3, fnSubstring)
	r.add("string-length", 0, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		s := contextOrArg(ctx, args).ToString()
		return xpath1.Number(float64(len([]rune(s)))), nil
	})
	r.add("normalize-space", 0, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		s := contextOrArg(ctx, args).ToString()
		return xpath1.String(strings.Join(strings.Fields(s), " ")), nil
	})
	r.add("translate", 3, 3, fnTranslate)
	r.add("boolean", 1, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Boolean(args[0].ToBoolean()), nil
	})
	r.add("not", 1, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Boolean(!args[0].ToBoolean()), nil
	})
	r.add("true", 0, 0, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Boolean(true), nil
	})
	r.add("false", 0, 0, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Boolean(false), nil
	})
	r.add("lang", 1, 1, fnLang)
	r.add("number", 0, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Number(contextOrArg(ctx, args).ToNumber()), nil
	})
	r.add("sum", 1, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		var total float64
		for _, n := range args[0].ToNodeSet() {
			total += cast.ToFloat64(n.StringValue())
		}
		return xpath1.Number(total), nil
	})
	r.add("floor", 1, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Number(math.Floor(args[0].ToNumber())), nil
	})
	r.add("ceiling", 1, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Number(math.Ceil(args[0].ToNumber())), nil
	})
	r.add("round", 1, 1, func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
		return xpath1.Number(RoundHalfUp(args[0].ToNumber())), nil
	})
	r.add("key", 2, 2, fnKey)
	r.add("generate-id", 0, 1, fnGenerateID)
}

// RoundHalfUp implements spec §4.D "round(): halves go to +∞
// (floor(n+0.5))" — the XPath 1.0 rounding rule (spec §8 boundary:
// round(-2.5) = -2).
func RoundHalfUp(n float64) float64 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return n
	}
	return math.Floor(n + 0.5)
}

func contextValue(ctx *xpath1.Context) xpath1.Value {
	return xpath1.NodeSet([]tree.Node{ctx.Item})
}

func contextOrArg(ctx *xpath1.Context, args []xpath1.Value) xpath1.Value {
	if len(args) == 0 {
		return contextValue(ctx)
	}
	return args[0]
}

func fnID(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	var tokens []string
	if args[0].Kind == xpath1.KindNodeSet {
		for _, n := range args[0].Nodes {
			tokens = append(tokens, strings.Fields(n.StringValue())...)
		}
	} else {
		tokens = strings.Fields(args[0].ToString())
	}
	wanted := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		wanted[t] = true
	}
	var out []tree.Node
	var walk func(tree.Node)
	walk = func(n tree.Node) {
		if n.Kind() == tree.Element {
			for _, a := range n.Attributes() {
				name, _ := a.Name()
				if (name.Local == "id" && name.Prefix == "") || (name.Local == "id" && name.Prefix == "xml") {
					if wanted[a.StringValue()] {
						out = append(out, n)
					}
				}
			}
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(ctx.Root)
	return xpath1.NodeSet(out), nil
}

func fnLocalName(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	n := firstNodeOrContext(ctx, args)
	if n == nil {
		return xpath1.String(""), nil
	}
	name, ok := n.Name()
	if !ok {
		return xpath1.String(""), nil
	}
	return xpath1.String(name.Local), nil
}

func fnNamespaceURI(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	n := firstNodeOrContext(ctx, args)
	if n == nil {
		return xpath1.String(""), nil
	}
	name, ok := n.Name()
	if !ok {
		return xpath1.String(""), nil
	}
	return xpath1.String(name.Namespace), nil
}

func fnName(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	n := firstNodeOrContext(ctx, args)
	if n == nil {
		return xpath1.String(""), nil
	}
	name, ok := n.Name()
	if !ok {
		return xpath1.String(""), nil
	}
	if name.Prefix != "" {
		return xpath1.String(name.Prefix + ":" + name.Local), nil
	}
	return xpath1.String(name.Local), nil
}

func firstNodeOrContext(ctx *xpath1.Context, args []xpath1.Value) tree.Node {
	if len(args) == 0 {
		return ctx.Item
	}
	ns := args[0].ToNodeSet()
	if len(ns) == 0 {
		return nil
	}
	return ns[0]
}

// fnSubstring implements spec §4.D's exact rounding rules and §8's
// boundary case substring("12345", 1.5, 2.6) = "234".
func fnSubstring(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	s := []rune(args[0].ToString())
	start := roundHalfUpArg(args[1].ToNumber())
	end := math.Inf(1)
	if len(args) == 3 {
		length := roundHalfUpArg(args[2].ToNumber())
		end = start + length
	}
	first := math.Max(1, start)
	if math.IsNaN(start) || math.IsNaN(end) {
		return xpath1.String(""), nil
	}
	lastIdx := math.Min(float64(len(s)+1), end)
	if lastIdx <= first {
		return xpath1.String(""), nil
	}
	lo := int(first) - 1
	hi := int(lastIdx) - 1
	if lo < 0 {
		lo = 0
	}
	if hi > len(s) {
		hi = len(s)
	}
	if lo >= hi {
		return xpath1.String(""), nil
	}
	return xpath1.String(string(s[lo:hi])), nil
}

func roundHalfUpArg(n float64) float64 {
	if math.IsNaN(n) {
		return n
	}
	return math.Floor(n + 0.5)
}

// fnTranslate deletes characters beyond the "to" string's length (spec
// §8 boundary: translate("abc","b","") = "ac").
func fnTranslate(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	s, from, to := []rune(args[0].ToString()), []rune(args[1].ToString()), []rune(args[2].ToString())
	mapping := make(map[rune]rune, len(from))
	deleted := make(map[rune]bool, len(from))
	for i, c := range from {
		if _, already := mapping[c]; already {
			continue
		}
		if i < len(to) {
			mapping[c] = to[i]
		} else {
			deleted[c] = true
		}
	}
	var sb strings.Builder
	for _, c := range s {
		if deleted[c] {
			continue
		}
		if m, ok := mapping[c]; ok {
			sb.WriteRune(m)
			continue
		}
		sb.WriteRune(c)
	}
	return xpath1.String(sb.String()), nil
}

func fnLang(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	want := strings.ToLower(args[0].ToString())
	cur := ctx.Item
	for {
		for _, a := range cur.Attributes() {
			name, _ := a.Name()
			if name.Local == "lang" && (name.Prefix == "xml" || name.Prefix == "") {
				have := strings.ToLower(a.StringValue())
				return xpath1.Boolean(have == want || strings.HasPrefix(have, want+"-")), nil
			}
		}
		p, ok := cur.Parent()
		if !ok {
			return xpath1.Boolean(false), nil
		}
		cur = p
	}
}

func fnKey(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	name := args[0].ToString()
	if ctx.Keys == nil {
		return xpath1.NodeSet(nil), nil
	}
	if args[1].Kind == xpath1.KindNodeSet {
		var out []tree.Node
		for _, n := range args[1].Nodes {
			out = append(out, ctx.Keys.Lookup(name, n.StringValue())...)
		}
		return xpath1.NodeSet(out), nil
	}
	return xpath1.NodeSet(ctx.Keys.Lookup(name, args[1].ToString())), nil
}

func fnGenerateID(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
	n := firstNodeOrContext(ctx, args)
	if n == nil {
		return xpath1.String(""), nil
	}
	return xpath1.String(ctx.GenerateID(n)), nil
}
