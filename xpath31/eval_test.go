package xpath31_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/tree/xmltree"
	"github.com/sigmundgranaas/petty/xpath31"
	"github.com/sigmundgranaas/petty/xpath31/builtin"
)

func evalSeq(t *testing.T, doc, expr string) xpath31.Sequence {
	t.Helper()
	root, err := xmltree.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	e, err := xpath31.Parse(expr)
	require.NoError(t, err)
	reg := builtin.NewRegistry()
	ec := xpath31.NewEvalContext(root, reg, nil)
	return mustEval(t, ec, e)
}

func mustEval(t *testing.T, ec *xpath31.EvalContext, e xpath31.Expr) xpath31.Sequence {
	t.Helper()
	v, err := xpath31.Eval(ec, e)
	require.NoError(t, err)
	return v
}

func TestForLetReturn(t *testing.T) {
	v := evalSeq(t, `<r/>`, `for $x in (1,2,3) return $x * 2`)
	require.Len(t, v, 3)
	require.Equal(t, "6", v[2].Atom.ToString())
}

func TestRangeAndSum(t *testing.T) {
	v := evalSeq(t, `<r/>`, `sum(1 to 5)`)
	require.Len(t, v, 1)
	require.Equal(t, float64(15), v[0].Atom.ToFloat64())
}

func TestIfThenElse(t *testing.T) {
	v := evalSeq(t, `<r/>`, `if (1 < 2) then "yes" else "no"`)
	require.Equal(t, "yes", v[0].Atom.ToString())
}

func TestMapConstructorAndLookup(t *testing.T) {
	v := evalSeq(t, `<r/>`, `map{"a": 1, "b": 2}?b`)
	require.Len(t, v, 1)
	require.Equal(t, float64(2), v[0].Atom.ToFloat64())
}

func TestArrayConstructorAndLookup(t *testing.T) {
	v := evalSeq(t, `<r/>`, `[1,2,3]?2`)
	require.Len(t, v, 1)
	require.Equal(t, float64(2), v[0].Atom.ToFloat64())
}

func TestSimpleMapOperator(t *testing.T) {
	v := evalSeq(t, `<r><a>1</a><a>2</a></r>`, `/r/a ! (. * 10)`)
	require.Len(t, v, 2)
	require.Equal(t, float64(10), v[0].Atom.ToFloat64())
	require.Equal(t, float64(20), v[1].Atom.ToFloat64())
}

func TestQuantifiedSome(t *testing.T) {
	v := evalSeq(t, `<r/>`, `some $x in (1,2,3) satisfies $x eq 2`)
	require.True(t, v[0].Atom.ToBool())
}

func TestArrowOperator(t *testing.T) {
	v := evalSeq(t, `<r/>`, `"hello" => upper-case()`)
	require.Equal(t, "HELLO", v[0].Atom.ToString())
}

func TestInlineFunctionAndForEach(t *testing.T) {
	v := evalSeq(t, `<r/>`, `for-each((1,2,3), function($x) { $x + 1 })`)
	require.Len(t, v, 3)
	require.Equal(t, float64(2), v[0].Atom.ToFloat64())
}

func TestLegacyPathDelegation(t *testing.T) {
	v := evalSeq(t, `<r><a>x</a><a>y</a></r>`, `/r/a[2]`)
	require.Len(t, v, 1)
	require.Equal(t, "y", v[0].Node.StringValue())
}
