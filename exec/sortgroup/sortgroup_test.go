package sortgroup_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/exec/sortgroup"
	"github.com/sigmundgranaas/petty/instr"
	"github.com/sigmundgranaas/petty/pattern"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/tree/xmltree"
	"github.com/sigmundgranaas/petty/xpath1"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

func children(t *testing.T, doc string) []tree.Node {
	t.Helper()
	root, err := xmltree.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	var r tree.Node
	for _, c := range root.Children() {
		r = c
	}
	return r.Children()
}

func itemsOf(nodes []tree.Node) []sortgroup.Item {
	items := make([]sortgroup.Item, len(nodes))
	for i, n := range nodes {
		items[i] = sortgroup.Item{Node: n, Index: i}
	}
	return items
}

func ctxForNode(registry xpath1.FunctionRegistry) func(sortgroup.Item, int, int) *xpath1.Context {
	return func(it sortgroup.Item, pos, size int) *xpath1.Context {
		ctx := xpath1.NewContext(it.Node, registry)
		ctx.Item = it.Node
		ctx.Position = pos
		ctx.Size = size
		return ctx
	}
}

func exprOf(t *testing.T, src string) xpath1.Expr {
	t.Helper()
	e, err := xpath1.Parse(src)
	require.NoError(t, err)
	return e
}

func textsOf(nodes []tree.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.StringValue()
	}
	return out
}

func TestSortStringAscendingStable(t *testing.T) {
	nodes := children(t, `<r><n>banana</n><n>apple</n><n>apple</n></r>`)
	items := itemsOf(nodes)
	keys := []instr.SortKey{{Expr: exprOf(t, "."), DataType: instr.SortText}}

	out, err := sortgroup.Sort(items, keys, ctxForNode(builtin.NewRegistry()))
	require.NoError(t, err)

	got := make([]string, len(out))
	for i, it := range out {
		got[i] = it.Node.StringValue()
	}
	require.Equal(t, []string{"apple", "apple", "banana"}, got)
	require.Equal(t, 1, out[0].Index)
	require.Equal(t, 2, out[1].Index)
}

func TestSortNumberDescending(t *testing.T) {
	nodes := children(t, `<r><n>3</n><n>10</n><n>1</n></r>`)
	items := itemsOf(nodes)
	keys := []instr.SortKey{{Expr: exprOf(t, "."), DataType: instr.SortNumber, Descending: true}}

	out, err := sortgroup.Sort(items, keys, ctxForNode(builtin.NewRegistry()))
	require.NoError(t, err)

	got := textsOf([]tree.Node{out[0].Node, out[1].Node, out[2].Node})
	require.Equal(t, []string{"10", "3", "1"}, got)
}

func TestGroupBy(t *testing.T) {
	nodes := children(t, `<r><n cat="a">1</n><n cat="b">2</n><n cat="a">3</n></r>`)
	items := itemsOf(nodes)

	groups, err := sortgroup.GroupBy(items, exprOf(t, "@cat"), ctxForNode(builtin.NewRegistry()))
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "a", groups[0].Key)
	require.Len(t, groups[0].Members, 2)
	require.Equal(t, "b", groups[1].Key)
	require.Len(t, groups[1].Members, 1)
}

func TestGroupAdjacent(t *testing.T) {
	nodes := children(t, `<r><n cat="a">1</n><n cat="a">2</n><n cat="b">3</n><n cat="a">4</n></r>`)
	items := itemsOf(nodes)

	groups, err := sortgroup.GroupAdjacent(items, exprOf(t, "@cat"), ctxForNode(builtin.NewRegistry()))
	require.NoError(t, err)
	require.Len(t, groups, 3)
	require.Len(t, groups[0].Members, 2)
	require.Len(t, groups[1].Members, 1)
	require.Len(t, groups[2].Members, 1)
}

func TestGroupStartingAndEndingWith(t *testing.T) {
	nodes := children(t, `<r><h>1</h><n>a</n><n>b</n><h>2</h><n>c</n></r>`)
	items := itemsOf(nodes)

	pat, err := pattern.Compile("h")
	require.NoError(t, err)

	starting := sortgroup.GroupStartingWith(items, pat, ctxForNode(builtin.NewRegistry()))
	require.Len(t, starting, 2)
	require.Len(t, starting[0].Members, 3)
	require.Len(t, starting[1].Members, 2)

	ending := sortgroup.GroupEndingWith(items, pat, ctxForNode(builtin.NewRegistry()))
	require.Len(t, ending, 3)
	require.Len(t, ending[0].Members, 1)
	require.Len(t, ending[1].Members, 3)
}
