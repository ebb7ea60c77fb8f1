package pattern_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/pattern"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/tree/xmltree"
	"github.com/sigmundgranaas/petty/xpath1"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

func firstOfName(t *testing.T, root tree.Node, local string) tree.Node {
	t.Helper()
	var found tree.Node
	var walk func(tree.Node)
	walk = func(n tree.Node) {
		if found != nil {
			return
		}
		if name, ok := n.Name(); ok && name.Local == local {
			found = n
			return
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(root)
	require.NotNil(t, found, "no %s element found", local)
	return found
}

func TestPatternMatchesSimpleName(t *testing.T) {
	root, err := xmltree.Parse(strings.NewReader(`<catalog><book/></catalog>`))
	require.NoError(t, err)

	p, err := pattern.Compile("book")
	require.NoError(t, err)

	ctx := xpath1.NewContext(root, builtin.NewRegistry())
	require.True(t, p.Matches(ctx, firstOfName(t, root, "book")))
	require.False(t, p.Matches(ctx, firstOfName(t, root, "catalog")))
}

func TestPatternMatchesQualifiedPath(t *testing.T) {
	root, err := xmltree.Parse(strings.NewReader(`<catalog><shelf><book/></shelf><book/></catalog>`))
	require.NoError(t, err)

	p, err := pattern.Compile("shelf/book")
	require.NoError(t, err)

	ctx := xpath1.NewContext(root, builtin.NewRegistry())

	var nested, top tree.Node
	shelf := firstOfName(t, root, "shelf")
	nested = shelf.Children()[0]
	catalog := firstOfName(t, root, "catalog")
	for _, c := range catalog.Children() {
		if name, ok := c.Name(); ok && name.Local == "book" {
			top = c
		}
	}

	require.True(t, p.Matches(ctx, nested))
	require.False(t, p.Matches(ctx, top))
}

func TestPatternUnionAlternatives(t *testing.T) {
	root, err := xmltree.Parse(strings.NewReader(`<r><a/><b/><c/></r>`))
	require.NoError(t, err)

	p, err := pattern.Compile("a | b")
	require.NoError(t, err)

	ctx := xpath1.NewContext(root, builtin.NewRegistry())
	r := firstOfName(t, root, "r")
	for _, c := range r.Children() {
		name, _ := c.Name()
		want := name.Local == "a" || name.Local == "b"
		require.Equal(t, want, p.Matches(ctx, c), "node %s", name.Local)
	}
}

func TestPatternDefaultPriority(t *testing.T) {
	wild, err := pattern.Compile("*")
	require.NoError(t, err)
	require.Equal(t, -0.5, wild.Priority())

	name, err := pattern.Compile("book")
	require.NoError(t, err)
	require.Equal(t, float64(0), name.Priority())

	qualified, err := pattern.Compile("shelf/book")
	require.NoError(t, err)
	require.Equal(t, 0.5, qualified.Priority())

	text, err := pattern.Compile("text()")
	require.NoError(t, err)
	require.Equal(t, -0.25, text.Priority())
}

func TestPatternNotAPathIsError(t *testing.T) {
	_, err := pattern.Compile("1 + 2")
	require.Error(t, err)
}
