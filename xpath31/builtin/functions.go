// Package builtin registers the XPath 3.1 function library against
// xpath31.FunctionRegistry (spec §4.D, §4.K). Coverage is
// representative rather than exhaustive: the core string/numeric/
// sequence/map/array functions plus a higher-order subset, grounded
// on the same registration pattern xpath1/builtin uses.
package builtin

import (
	"math"
	"sort"
	"strings"

	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath31"

	xerrors "github.com/sigmundgranaas/petty/errors"
)

type entry struct {
	minArity, maxArity int
	fn                 xpath31.FuncCallable
}

type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}
	r.registerCore()
	r.registerString()
	r.registerNumeric()
	r.registerHOF()
	return r
}

func (r *Registry) add(name string, min, max int, fn xpath31.FuncCallable) {
	r.entries[name] = entry{minArity: min, maxArity: max, fn: fn}
}

func (r *Registry) Lookup(name tree.QName, arity int) (xpath31.FuncCallable, bool) {
	e, ok := r.entries[name.Local]
	if !ok {
		return nil, false
	}
	if arity < e.minArity || (e.maxArity >= 0 && arity > e.maxArity) {
		return nil, false
	}
	return e.fn, true
}

func one(args []xpath31.Sequence, i int) xpath31.Sequence {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

func seqStr(s xpath31.Sequence) string {
	if len(s) == 0 {
		return ""
	}
	if s[0].Kind == xpath31.IAtomic {
		return s[0].Atom.ToString()
	}
	if s[0].Kind == xpath31.INode {
		return s[0].Node.StringValue()
	}
	return ""
}

func seqNum(s xpath31.Sequence) float64 {
	if len(s) == 0 {
		return math.NaN()
	}
	if s[0].Kind == xpath31.IAtomic {
		return s[0].Atom.ToFloat64()
	}
	return math.NaN()
}

func strResult(s string) xpath31.Sequence {
	return xpath31.Sequence{xpath31.AtomItem(xpath31.NewString(s))}
}

func boolResult(b bool) xpath31.Sequence {
	return xpath31.Sequence{xpath31.AtomItem(xpath31.NewBoolean(b))}
}

func intResult(n int64) xpath31.Sequence {
	return xpath31.Sequence{xpath31.AtomItem(xpath31.NewInteger(n))}
}

func doubleResult(n float64) xpath31.Sequence {
	return xpath31.Sequence{xpath31.AtomItem(xpath31.NewDouble(n))}
}

func (r *Registry) registerCore() {
	r.add("true", 0, 0, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return boolResult(true), nil
	})
	r.add("false", 0, 0, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return boolResult(false), nil
	})
	r.add("not", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		ebv, err := one(args, 0).ToBooleanEBV()
		if err != nil {
			return nil, err
		}
		return boolResult(!ebv), nil
	})
	r.add("boolean", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		ebv, err := one(args, 0).ToBooleanEBV()
		if err != nil {
			return nil, err
		}
		return boolResult(ebv), nil
	})
	r.add("empty", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return boolResult(len(one(args, 0)) == 0), nil
	})
	r.add("exists", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return boolResult(len(one(args, 0)) != 0), nil
	})
	r.add("count", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return intResult(int64(len(one(args, 0)))), nil
	})
	r.add("string", 0, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		if len(args) == 0 {
			if !ec.HasItem {
				return strResult(""), nil
			}
			return strResult(itemString(ec.Item)), nil
		}
		return strResult(seqStr(one(args, 0))), nil
	})
	r.add("number", 0, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		if len(args) == 0 {
			if !ec.HasItem {
				return doubleResult(math.NaN()), nil
			}
			return doubleResult(itemNumber(ec.Item)), nil
		}
		return doubleResult(seqNum(one(args, 0))), nil
	})
	r.add("reverse", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := one(args, 0)
		out := make(xpath31.Sequence, len(s))
		for i, it := range s {
			out[len(s)-1-i] = it
		}
		return out, nil
	})
	r.add("distinct-values", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := one(args, 0)
		seen := make(map[string]bool, len(s))
		var out xpath31.Sequence
		for _, it := range s {
			key := itemString(it)
			if !seen[key] {
				seen[key] = true
				out = append(out, it)
			}
		}
		return out, nil
	})
	r.add("head", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := one(args, 0)
		if len(s) == 0 {
			return nil, nil
		}
		return xpath31.Sequence{s[0]}, nil
	})
	r.add("tail", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := one(args, 0)
		if len(s) <= 1 {
			return nil, nil
		}
		return s[1:], nil
	})
	r.add("map-get", 2, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		m := one(args, 0)
		k := one(args, 1)
		if len(m) != 1 || m[0].Kind != xpath31.IMap || len(k) != 1 || k[0].Kind != xpath31.IAtomic {
			return nil, xerrors.XPTY0004.New("map:get requires a map and an atomic key")
		}
		v, _ := m[0].Map.Get(k[0].Atom)
		return v, nil
	})
	r.add("map-size", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		m := one(args, 0)
		if len(m) != 1 || m[0].Kind != xpath31.IMap {
			return nil, xerrors.XPTY0004.New("map:size requires a map")
		}
		return intResult(int64(m[0].Map.Len())), nil
	})
	r.add("array-size", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		a := one(args, 0)
		if len(a) != 1 || a[0].Kind != xpath31.IArray {
			return nil, xerrors.XPTY0004.New("array:size requires an array")
		}
		return intResult(int64(a[0].Array.Len())), nil
	})
}

func itemString(it xpath31.Item) string {
	switch it.Kind {
	case xpath31.IAtomic:
		return it.Atom.ToString()
	case xpath31.INode:
		return it.Node.StringValue()
	default:
		return ""
	}
}

func itemNumber(it xpath31.Item) float64 {
	switch it.Kind {
	case xpath31.IAtomic:
		return it.Atom.ToFloat64()
	case xpath31.INode:
		return xpath31.NewUntyped(it.Node.StringValue()).ToFloat64()
	default:
		return math.NaN()
	}
}

func (r *Registry) registerString() {
	r.add("concat", 2, -1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(seqStr(a))
		}
		return strResult(b.String()), nil
	})
	r.add("upper-case", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return strResult(strings.ToUpper(seqStr(one(args, 0)))), nil
	})
	r.add("lower-case", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return strResult(strings.ToLower(seqStr(one(args, 0)))), nil
	})
	r.add("string-join", 1, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		sep := ""
		if len(args) == 2 {
			sep = seqStr(args[1])
		}
		parts := make([]string, len(args[0]))
		for i, it := range args[0] {
			parts[i] = itemString(it)
		}
		return strResult(strings.Join(parts, sep)), nil
	})
	r.add("contains", 2, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return boolResult(strings.Contains(seqStr(args[0]), seqStr(args[1]))), nil
	})
	r.add("starts-with", 2, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return boolResult(strings.HasPrefix(seqStr(args[0]), seqStr(args[1]))), nil
	})
	r.add("ends-with", 2, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return boolResult(strings.HasSuffix(seqStr(args[0]), seqStr(args[1]))), nil
	})
	r.add("substring", 2, 3, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := []rune(seqStr(args[0]))
		start := int(math.Round(seqNum(args[1]))) - 1
		end := len(s)
		if len(args) == 3 {
			end = start + int(math.Round(seqNum(args[2])))
		}
		if start < 0 {
			start = 0
		}
		if end > len(s) {
			end = len(s)
		}
		if start >= end || start > len(s) {
			return strResult(""), nil
		}
		return strResult(string(s[start:end])), nil
	})
	r.add("string-length", 0, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		var s string
		if len(args) == 0 {
			s = itemString(ec.Item)
		} else {
			s = seqStr(args[0])
		}
		return intResult(int64(len([]rune(s)))), nil
	})
	r.add("normalize-space", 0, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		var s string
		if len(args) == 0 {
			s = itemString(ec.Item)
		} else {
			s = seqStr(args[0])
		}
		return strResult(strings.Join(strings.Fields(s), " ")), nil
	})
}

func (r *Registry) registerNumeric() {
	r.add("abs", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return doubleResult(math.Abs(seqNum(args[0]))), nil
	})
	r.add("floor", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return doubleResult(math.Floor(seqNum(args[0]))), nil
	})
	r.add("ceiling", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return doubleResult(math.Ceil(seqNum(args[0]))), nil
	})
	r.add("round", 1, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		n := seqNum(args[0])
		scale := 0.0
		if len(args) == 2 {
			scale = seqNum(args[1])
		}
		mult := math.Pow(10, scale)
		return doubleResult(math.Floor(n*mult+0.5) / mult), nil
	})
	r.add("sum", 1, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := args[0]
		if len(s) == 0 {
			if len(args) == 2 {
				return args[1], nil
			}
			return intResult(0), nil
		}
		total := 0.0
		for _, it := range s {
			total += itemNumber(it)
		}
		return doubleResult(total), nil
	})
	r.add("avg", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := args[0]
		if len(s) == 0 {
			return nil, nil
		}
		total := 0.0
		for _, it := range s {
			total += itemNumber(it)
		}
		return doubleResult(total / float64(len(s))), nil
	})
	r.add("min", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return minMax(args[0], true)
	})
	r.add("max", 1, 1, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		return minMax(args[0], false)
	})
}

func minMax(s xpath31.Sequence, wantMin bool) (xpath31.Sequence, error) {
	if len(s) == 0 {
		return nil, nil
	}
	best := itemNumber(s[0])
	for _, it := range s[1:] {
		n := itemNumber(it)
		if (wantMin && n < best) || (!wantMin && n > best) {
			best = n
		}
	}
	return doubleResult(best), nil
}

func (r *Registry) registerHOF() {
	r.add("for-each", 2, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		f, err := asFunc(args[1])
		if err != nil {
			return nil, err
		}
		var out xpath31.Sequence
		for _, it := range args[0] {
			v, err := xpath31.InvokeFunc(ec, f, []xpath31.Sequence{{it}})
			if err != nil {
				return nil, err
			}
			out = append(out, v...)
		}
		return out, nil
	})
	r.add("filter", 2, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		f, err := asFunc(args[1])
		if err != nil {
			return nil, err
		}
		var out xpath31.Sequence
		for _, it := range args[0] {
			v, err := xpath31.InvokeFunc(ec, f, []xpath31.Sequence{{it}})
			if err != nil {
				return nil, err
			}
			ok, err := v.ToBooleanEBV()
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, it)
			}
		}
		return out, nil
	})
	r.add("fold-left", 3, 3, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		f, err := asFunc(args[2])
		if err != nil {
			return nil, err
		}
		acc := args[1]
		for _, it := range args[0] {
			acc, err = xpath31.InvokeFunc(ec, f, []xpath31.Sequence{acc, {it}})
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	})
	r.add("fold-right", 3, 3, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		f, err := asFunc(args[2])
		if err != nil {
			return nil, err
		}
		acc := args[1]
		s := args[0]
		for i := len(s) - 1; i >= 0; i-- {
			var err error
			acc, err = xpath31.InvokeFunc(ec, f, []xpath31.Sequence{{s[i]}, acc})
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	})
	r.add("sort", 1, 2, func(ec *xpath31.EvalContext, args []xpath31.Sequence) (xpath31.Sequence, error) {
		s := args[0]
		keys := make([]string, len(s))
		for i, it := range s {
			if len(args) == 2 {
				f, err := asFunc(args[1])
				if err != nil {
					return nil, err
				}
				kv, err := xpath31.InvokeFunc(ec, f, []xpath31.Sequence{{it}})
				if err != nil {
					return nil, err
				}
				keys[i] = seqStr(kv)
			} else {
				keys[i] = itemString(it)
			}
		}
		idx := make([]int, len(s))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })
		out := make(xpath31.Sequence, len(s))
		for i, j := range idx {
			out[i] = s[j]
		}
		return out, nil
	})
}

func asFunc(s xpath31.Sequence) (*xpath31.FuncValue, error) {
	if len(s) != 1 || s[0].Kind != xpath31.IFunction {
		return nil, xerrors.XPTY0004.New("expected a function item")
	}
	return s[0].Func, nil
}
