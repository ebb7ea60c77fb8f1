package xpath1_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/tree/xmltree"
	"github.com/sigmundgranaas/petty/xpath1"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

func evalString(t *testing.T, doc string, expr string) string {
	t.Helper()
	root, err := xmltree.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	e, err := xpath1.Parse(expr)
	require.NoError(t, err)
	ctx := xpath1.NewContext(root, builtin.NewRegistry())
	v, err := xpath1.Eval(ctx, e)
	require.NoError(t, err)
	return v.ToString()
}

func TestLocationPathArithmetic(t *testing.T) {
	// spec §8 scenario 2.
	doc := `<data><items><item>3</item><item>10</item></items></data>`
	require.Equal(t, "-2", evalString(t, doc, "/data/items/item[1] - 5"))
}

func TestPredicatePosition(t *testing.T) {
	doc := `<r><a/><a/><a/></r>`
	root, err := xmltree.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	e, err := xpath1.Parse("/r/a[2]")
	require.NoError(t, err)
	ctx := xpath1.NewContext(root, builtin.NewRegistry())
	v, err := xpath1.Eval(ctx, e)
	require.NoError(t, err)
	require.Len(t, v.ToNodeSet(), 1)
}

func TestSubstringRounding(t *testing.T) {
	// spec §8 boundary: substring("12345", 1.5, 2.6) = "234"
	require.Equal(t, "234", evalString(t, `<r/>`, `substring("12345", 1.5, 2.6)`))
}

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, float64(-2), builtin.RoundHalfUp(-2.5))
	require.Equal(t, float64(3), builtin.RoundHalfUp(2.5))
}

func TestDivisionByZero(t *testing.T) {
	require.Equal(t, "Infinity", evalString(t, `<r/>`, "1 div 0"))
	require.Equal(t, "-Infinity", evalString(t, `<r/>`, "-1 div 0"))
	require.Equal(t, "NaN", evalString(t, `<r/>`, "0 div 0"))
}

func TestTranslateDeletesExcessChars(t *testing.T) {
	require.Equal(t, "ac", evalString(t, `<r/>`, `translate("abc", "b", "")`))
}

func TestSubstringBeforeAfterEmptySeparator(t *testing.T) {
	require.Equal(t, "", evalString(t, `<r/>`, `substring-before("abc", "")`))
	require.Equal(t, "abc", evalString(t, `<r/>`, `substring-after("abc", "")`))
}

func TestUnionIsDocumentOrdered(t *testing.T) {
	doc := `<r><a/><b/><c/></r>`
	root, err := xmltree.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	e, err := xpath1.Parse("/r/c | /r/a")
	require.NoError(t, err)
	ctx := xpath1.NewContext(root, builtin.NewRegistry())
	v, err := xpath1.Eval(ctx, e)
	require.NoError(t, err)
	nodes := v.ToNodeSet()
	require.Len(t, nodes, 2)
	n0, _ := nodes[0].Name()
	n1, _ := nodes[1].Name()
	require.Equal(t, "a", n0.Local)
	require.Equal(t, "c", n1.Local)
}
