package xpath31

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/sigmundgranaas/petty/tree"
)

// AtomicKind enumerates the XDM atomic variants (spec §3.3).
type AtomicKind int

const (
	AString AtomicKind = iota
	AInteger
	ADouble
	ADecimal
	ABoolean
	ADate
	ADateTime
	ATime
	ADuration
	AQName
	AUntypedAtomic
)

// Atomic is one atomic item.
type Atomic struct {
	Kind AtomicKind
	Str  string
	Num  float64 // Integer/Double/Decimal
	Bool bool
	QN   tree.QName
}

func NewString(s string) Atomic  { return Atomic{Kind: AString, Str: s} }
func NewInteger(n int64) Atomic  { return Atomic{Kind: AInteger, Num: float64(n)} }
func NewDouble(n float64) Atomic { return Atomic{Kind: ADouble, Num: n} }
func NewBoolean(b bool) Atomic   { return Atomic{Kind: ABoolean, Bool: b} }
func NewUntyped(s string) Atomic { return Atomic{Kind: AUntypedAtomic, Str: s} }

// ToFloat64 coerces the atomic's numeric value using spf13/cast for the
// lexical-form parsing spec §3.3/§3.2 require ("untyped atomic" and
// "string" follow the same trimmed-lexical-form-or-NaN rule as XPath 1.0).
func (a Atomic) ToFloat64() float64 {
	switch a.Kind {
	case AInteger, ADouble, ADecimal:
		return a.Num
	case ABoolean:
		if a.Bool {
			return 1
		}
		return 0
	default:
		f, err := cast.ToFloat64E(strings.TrimSpace(a.Str))
		if err != nil {
			return math.NaN()
		}
		return f
	}
}

func (a Atomic) ToString() string {
	switch a.Kind {
	case AString, AUntypedAtomic:
		return a.Str
	case AQName:
		if a.QN.Prefix != "" {
			return a.QN.Prefix + ":" + a.QN.Local
		}
		return a.QN.Local
	case ABoolean:
		if a.Bool {
			return "true"
		}
		return "false"
	case AInteger:
		return strconv.FormatInt(int64(a.Num), 10)
	default:
		if math.IsNaN(a.Num) {
			return "NaN"
		}
		return strconv.FormatFloat(a.Num, 'g', -1, 64)
	}
}

func (a Atomic) ToBool() bool {
	switch a.Kind {
	case ABoolean:
		return a.Bool
	case AInteger, ADouble, ADecimal:
		return a.Num != 0 && !math.IsNaN(a.Num)
	default:
		return len(a.Str) > 0
	}
}

// ItemKind discriminates the five XDM item variants (spec §3.3).
type ItemKind int

const (
	IAtomic ItemKind = iota
	INode
	IMap
	IArray
	IFunction
)

// Item is one member of a Sequence.
type Item struct {
	Kind  ItemKind
	Atom  Atomic
	Node  tree.Node
	Map   *XMap
	Array *XArray
	Func  *FuncValue
}

func AtomItem(a Atomic) Item     { return Item{Kind: IAtomic, Atom: a} }
func NodeItem(n tree.Node) Item  { return Item{Kind: INode, Node: n} }
func MapItem(m *XMap) Item       { return Item{Kind: IMap, Map: m} }
func ArrayItem(a *XArray) Item   { return Item{Kind: IArray, Array: a} }
func FuncItem(f *FuncValue) Item { return Item{Kind: IFunction, Func: f} }

// Sequence is an ordered, possibly-empty list of items; no nesting
// (spec §3.3 "no nested sequences").
type Sequence []Item

func (s Sequence) ToBooleanEBV() (bool, error) {
	if len(s) == 0 {
		return false, nil
	}
	if s[0].Kind == INode {
		return true, nil
	}
	if len(s) > 1 {
		return false, errNotSingleton
	}
	it := s[0]
	switch it.Kind {
	case IAtomic:
		return it.Atom.ToBool(), nil
	default:
		return false, errNotSingleton
	}
}

var errNotSingleton = typeError("effective boolean value requires a singleton atomic, a node, or an empty sequence")

type typeError string

func (e typeError) Error() string { return string(e) }

// mapKey is the normalized representation of an atomic used as a map
// key: NCName strings and integers are the two lookup forms named in
// spec §4.C "Lookup".
type mapKey struct {
	isInt bool
	i     int64
	s     string
}

func keyOf(a Atomic) mapKey {
	if a.Kind == AInteger {
		return mapKey{isInt: true, i: int64(a.Num)}
	}
	return mapKey{s: a.ToString()}
}

// XMap is a persistent ordered mapping from atomic key to Sequence
// value (spec §3.3, §9 "Immutable maps and arrays"). Put returns a new
// XMap holding copies of the receiver's key order and entries and
// leaves the receiver unchanged; nothing is shared between the two. A
// persistent trie would avoid the copy; cloning the (typically small)
// entry set is the simplest correct implementation of the same
// external contract.
type XMap struct {
	keys    []mapKey
	order   []Atomic
	entries map[mapKey]Sequence
}

func NewMap() *XMap {
	return &XMap{entries: make(map[mapKey]Sequence)}
}

func (m *XMap) Put(key Atomic, val Sequence) *XMap {
	k := keyOf(key)
	nm := &XMap{entries: make(map[mapKey]Sequence, len(m.entries)+1)}
	nm.keys = append(nm.keys, m.keys...)
	nm.order = append(nm.order, m.order...)
	for kk, vv := range m.entries {
		nm.entries[kk] = vv
	}
	if _, exists := nm.entries[k]; !exists {
		nm.keys = append(nm.keys, k)
		nm.order = append(nm.order, key)
	}
	nm.entries[k] = val
	return nm
}

func (m *XMap) Get(key Atomic) (Sequence, bool) {
	v, ok := m.entries[keyOf(key)]
	return v, ok
}

func (m *XMap) Len() int { return len(m.keys) }

// Keys returns the map's atomic keys in insertion order (spec §3.3/§9
// "Map iteration order is insertion order").
func (m *XMap) Keys() []Atomic { return append([]Atomic{}, m.order...) }

func (m *XMap) Values() []Sequence {
	out := make([]Sequence, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.entries[k])
	}
	return out
}

// Equal implements map equality by key set and per-key value equality
// (spec §3.3 invariant).
func (m *XMap) Equal(o *XMap) bool {
	if m.Len() != o.Len() {
		return false
	}
	for k, v := range m.entries {
		ov, ok := o.entries[k]
		if !ok || !sequencesEqual(v, ov) {
			return false
		}
	}
	return true
}

func sequencesEqual(a, b Sequence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind {
			return false
		}
		switch a[i].Kind {
		case IAtomic:
			if a[i].Atom.ToString() != b[i].Atom.ToString() {
				return false
			}
		case INode:
			if a[i].Node.Identity() != b[i].Node.Identity() {
				return false
			}
		}
	}
	return true
}

// XArray is a persistent 1-indexed sequence of values, each member
// itself a Sequence (spec §3.3, §9).
type XArray struct {
	members []Sequence
}

func NewArray(members []Sequence) *XArray {
	cp := make([]Sequence, len(members))
	copy(cp, members)
	return &XArray{members: cp}
}

func (a *XArray) Len() int { return len(a.members) }

// Get is 1-indexed (spec §3.3 invariant "arrays 1-indexed").
func (a *XArray) Get(i int) (Sequence, bool) {
	if i < 1 || i > len(a.members) {
		return nil, false
	}
	return a.members[i-1], true
}

func (a *XArray) Members() []Sequence { return append([]Sequence{}, a.members...) }

func (a *XArray) Append(s Sequence) *XArray {
	return NewArray(append(append([]Sequence{}, a.members...), s))
}

// FuncKind discriminates the four function-value variants (spec §3.3
// "Function = one of {builtin-by-name, inline ..., named-reference ...,
// partial-application ...}").
type FuncKind int

const (
	FBuiltin FuncKind = iota
	FInline
	FNamedRef
	FPartial
)

// FuncValue is the double-dispatched function value (spec §9
// "Double-dispatched functions"): a tagged variant plus the single
// InvokeFunc entry point (eval.go) that the evaluator and higher-order
// builtins call through uniformly.
type FuncValue struct {
	Kind FuncKind

	// FBuiltin
	BuiltinName string
	Arity       int

	// FInline
	Params []Param
	Body   Expr
	Env    *Env // snapshot of local bindings at closure-construction time

	// FNamedRef
	RefName  tree.QName
	RefArity int

	// FPartial: Base with a per-slot Option<bound> list (spec §3.3).
	Base  *FuncValue
	Bound []*Sequence // nil entry = unbound slot
}

// EffectiveArity is the partial's unbound-slot count (spec §3.3
// invariant "a partial's effective arity equals its count of unbound
// slots").
func (f *FuncValue) EffectiveArity() int {
	if f.Kind != FPartial {
		if f.Kind == FBuiltin {
			return f.Arity
		}
		if f.Kind == FNamedRef {
			return f.RefArity
		}
		return len(f.Params)
	}
	n := 0
	for _, b := range f.Bound {
		if b == nil {
			n++
		}
	}
	return n
}

// Env is the lexical variable environment threaded through evaluation,
// snapshotted by value when an inline function closes over it (spec
// §3.3 invariant, §9 "Lifetimes in the evaluator").
type Env struct {
	parent *Env
	vars   map[tree.QName]Sequence
}

func NewEnv(parent *Env) *Env { return &Env{parent: parent, vars: make(map[tree.QName]Sequence)} }

func (e *Env) Set(name tree.QName, v Sequence) { e.vars[name] = v }

func (e *Env) Get(name tree.QName) (Sequence, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Snapshot makes a shallow, independent copy of the environment chain
// suitable for capture by an inline function closure: subsequent
// mutation of the original scope's map must not be visible to the
// closure (spec §3.3 "inline closures carry a snapshot").
func (e *Env) Snapshot() *Env {
	if e == nil {
		return nil
	}
	cp := &Env{parent: e.parent.Snapshot(), vars: make(map[tree.QName]Sequence, len(e.vars))}
	for k, v := range e.vars {
		cp.vars[k] = v
	}
	return cp
}

// sortAtomics stably orders atomics by their string form. Nothing in
// this module calls it.
func sortAtomics(keys []Atomic) {
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].ToString() < keys[j].ToString() })
}
