// Package sortgroup implements the sort-key engine and the four
// for-each-group policies (spec §3.4, §4.J "Sort keys"/"For-each-group",
// component N). It is a package of its own rather than part of exec;
// exec is its only importer (package stream does not use it).
package sortgroup

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sigmundgranaas/petty/instr"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// Item is one candidate being sorted or grouped: the evaluation
// context it should be re-entered with (a node, in the tree-building
// executor's context-per-item model) plus its original position, used
// to keep the sort stable (spec §8 invariant 8).
type Item struct {
	Node  tree.Node
	Index int
}

// keyDatum is one evaluated sort key for one item: either a string or
// number per the key's declared data-type (spec §4.J).
type keyDatum struct {
	isNumber bool
	num      float64
	str      string
	key      instr.SortKey
}

// Sort orders items by the tuple of sort keys, evaluated per item with
// ctxFor supplying the per-item xpath1.Context (position/size relative
// to items, per spec §4.J). The sort is stable (spec §8 invariant 8).
func Sort(items []Item, keys []instr.SortKey, ctxFor func(Item, int, int) *xpath1.Context) ([]Item, error) {
	if len(keys) == 0 {
		return items, nil
	}
	n := len(items)
	data := make([][]keyDatum, n)
	for i, it := range items {
		ctx := ctxFor(it, i+1, n)
		row := make([]keyDatum, len(keys))
		for k, sk := range keys {
			v, err := xpath1.Eval(ctx, sk.Expr)
			if err != nil {
				return nil, err
			}
			d := keyDatum{key: sk}
			if sk.DataType == instr.SortNumber {
				d.isNumber = true
				d.num = v.ToNumber()
			} else {
				d.str = v.ToString()
			}
			row[k] = d
		}
		data[i] = row
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := data[order[a]], data[order[b]]
		for k := range ra {
			c := compareKey(ra[k], rb[k])
			if c != 0 {
				if ra[k].key.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
	out := make([]Item, n)
	for i, idx := range order {
		out[i] = items[idx]
	}
	return out, nil
}

func compareKey(a, b keyDatum) int {
	if a.isNumber {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	return compareStrings(a.str, b.str, a.key)
}

// compareStrings compares two string keys honoring lang/case-order
// when present (spec §4.J "lang and case-order attributes influence
// comparison"), backed by golang.org/x/text/collate the way
// other_examples/speedata-goxpath's go.mod pulls it in for
// locale-aware comparison.
func compareStrings(a, b string, key instr.SortKey) int {
	if key.Lang == "" {
		c := strings.Compare(a, b)
		return applyCaseOrder(c, a, b, key.CaseOrder)
	}
	tag, err := language.Parse(key.Lang)
	if err != nil {
		tag = language.Und
	}
	c := collate.New(tag).CompareString(a, b)
	return applyCaseOrder(c, a, b, key.CaseOrder)
}

// applyCaseOrder breaks a case-insensitive tie according to the
// declared upper-first/lower-first policy (spec §4.J).
func applyCaseOrder(primary int, a, b string, order instr.CaseOrder) int {
	if order == instr.CaseOrderDefault || a == b || !strings.EqualFold(a, b) {
		return primary
	}
	// a and b differ only in letter case. Upper-case letters precede
	// their lower-case forms in code point order, so a plain comparison
	// already yields upper-first.
	c := strings.Compare(a, b)
	if order != instr.UpperFirst {
		return -c
	}
	return c
}

// Group is one output group from Group* below: the key that produced
// it (empty for pattern-triggered groups) and its member items in
// original relative order (spec §4.J "preserving first-appearance
// order").
type Group struct {
	Key     string
	Members []Item
}

// GroupBy buckets items by the string form of their evaluated key,
// preserving first-appearance order of distinct keys (spec §4.J "by").
// Each item joins exactly one group: a key that evaluates to a node-set
// is reduced to a single string by ToString, not split into one key
// per node.
func GroupBy(items []Item, keyExpr xpath1.Expr, ctxFor func(Item, int, int) *xpath1.Context) ([]Group, error) {
	var order []string
	groups := map[string]*Group{}
	n := len(items)
	for i, it := range items {
		ctx := ctxFor(it, i+1, n)
		v, err := xpath1.Eval(ctx, keyExpr)
		if err != nil {
			return nil, err
		}
		k := v.ToString()
		g, ok := groups[k]
		if !ok {
			g = &Group{Key: k}
			groups[k] = g
			order = append(order, k)
		}
		g.Members = append(g.Members, it)
	}
	out := make([]Group, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}

// GroupAdjacent starts a new group whenever the evaluated key differs
// from the previous item's (spec §4.J "adjacent").
func GroupAdjacent(items []Item, keyExpr xpath1.Expr, ctxFor func(Item, int, int) *xpath1.Context) ([]Group, error) {
	var out []Group
	n := len(items)
	var cur *Group
	var curKey string
	for i, it := range items {
		ctx := ctxFor(it, i+1, n)
		v, err := xpath1.Eval(ctx, keyExpr)
		if err != nil {
			return nil, err
		}
		k := v.ToString()
		if cur == nil || k != curKey {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &Group{Key: k}
			curKey = k
		}
		cur.Members = append(cur.Members, it)
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, nil
}

// PatternMatcher is the subset of *pattern.Pattern this package needs,
// kept as an interface to avoid a dependency cycle (pattern does not
// need to know about sortgroup).
type PatternMatcher interface {
	Matches(ctx *xpath1.Context, n tree.Node) bool
}

// GroupStartingWith opens a new group whenever an item matches pat
// (spec §4.J "starting-with"); a leading run of non-matching items (if
// any) forms its own group the way a trailing "ending-with" run would.
func GroupStartingWith(items []Item, pat PatternMatcher, ctxFor func(Item, int, int) *xpath1.Context) []Group {
	var out []Group
	n := len(items)
	var cur *Group
	for i, it := range items {
		ctx := ctxFor(it, i+1, n)
		if pat.Matches(ctx, it.Node) || cur == nil {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &Group{}
		}
		cur.Members = append(cur.Members, it)
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// GroupEndingWith closes the current group after an item matches pat
// (spec §4.J "ending-with").
func GroupEndingWith(items []Item, pat PatternMatcher, ctxFor func(Item, int, int) *xpath1.Context) []Group {
	var out []Group
	n := len(items)
	cur := &Group{}
	for i, it := range items {
		ctx := ctxFor(it, i+1, n)
		cur.Members = append(cur.Members, it)
		if pat.Matches(ctx, it.Node) {
			out = append(out, *cur)
			cur = &Group{}
		}
	}
	if len(cur.Members) > 0 {
		out = append(out, *cur)
	}
	return out
}
