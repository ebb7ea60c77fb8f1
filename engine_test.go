package petty_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	petty "github.com/sigmundgranaas/petty"
	"github.com/sigmundgranaas/petty/batch"
	"github.com/sigmundgranaas/petty/exec"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/tree/xmltree"
	"github.com/sigmundgranaas/petty/xpath1"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

const testStylesheet = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/catalog">
    <block>
      <xsl:for-each select="book">
        <paragraph><xsl:value-of select="title"/></paragraph>
      </xsl:for-each>
    </block>
  </xsl:template>
</xsl:stylesheet>`

const testDocument = `<catalog><book><title>A</title></book><book><title>B</title></book></catalog>`

func collectText(nodes []*ir.IRNode) []string {
	var out []string
	for _, n := range nodes {
		if n.Text != "" {
			out = append(out, n.Text)
		}
		out = append(out, collectText(n.Children)...)
	}
	return out
}

func TestEngineCompileAndTransform(t *testing.T) {
	engine := petty.New(petty.Config{})

	ss, err := engine.Compile(testStylesheet)
	require.NoError(t, err)

	doc, err := xmltree.Parse(strings.NewReader(testDocument))
	require.NoError(t, err)

	nodes, err := engine.Transform(ss, doc, "")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, collectText(nodes))
}

func TestEngineCompileError(t *testing.T) {
	engine := petty.New(petty.Config{})
	_, err := engine.Compile("<xsl:stylesheet xmlns:xsl=\"http://www.w3.org/1999/XSL/Transform\">")
	require.Error(t, err)
}

func TestEngineExtensionFunction(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r">
    <paragraph><xsl:value-of select="shout('hi')"/></paragraph>
  </xsl:template>
</xsl:stylesheet>`

	shout := petty.ExtensionKey{Name: tree.QName{Local: "shout"}, Arity: 1}
	engine := petty.New(petty.Config{
		Extensions: map[petty.ExtensionKey]petty.Function{
			shout: func(ctx *xpath1.Context, args []xpath1.Value) (xpath1.Value, error) {
				return xpath1.String(strings.ToUpper(args[0].ToString())), nil
			},
		},
	})

	stylesheet, err := engine.Compile(ss)
	require.NoError(t, err)

	doc, err := xmltree.Parse(strings.NewReader(`<r/>`))
	require.NoError(t, err)

	nodes, err := engine.Transform(stylesheet, doc, "")
	require.NoError(t, err)
	require.Equal(t, []string{"HI"}, collectText(nodes))
}

func TestEngineWithBatch(t *testing.T) {
	engine := petty.New(petty.Config{})
	ss, err := engine.Compile(testStylesheet)
	require.NoError(t, err)

	docA, err := xmltree.Parse(strings.NewReader(`<catalog><book><title>A</title></book></catalog>`))
	require.NoError(t, err)
	docB, err := xmltree.Parse(strings.NewReader(`<catalog><book><title>B</title></book></catalog>`))
	require.NoError(t, err)

	cfg := batch.Config{
		Stylesheet:       ss,
		Funcs:            builtin.NewRegistry(),
		NewBuilder:       func() ir.Builder { return ir.NewTreeBuilder() },
		ConcurrencyLimit: 2,
		ExecOptions:      []exec.Option{},
	}

	results, err := batch.Run(context.Background(), cfg, []batch.Job{{Doc: docA}, {Doc: docB}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []string{"A"}, collectText(results[0].Nodes))
	require.Equal(t, []string{"B"}, collectText(results[1].Nodes))
}
