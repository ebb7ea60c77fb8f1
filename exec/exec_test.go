package exec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/compile"
	"github.com/sigmundgranaas/petty/exec"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/tree/xmltree"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

func runDoc(t *testing.T, stylesheet, doc string, opts ...exec.Option) []*ir.IRNode {
	t.Helper()
	ss, err := compile.Compile(stylesheet)
	require.NoError(t, err)
	root, err := xmltree.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	b := ir.NewTreeBuilder()
	ex := exec.New(ss, b, builtin.NewRegistry(), opts...)
	require.NoError(t, ex.Run(root, ""))
	return b.Finalize()
}

func allText(nodes []*ir.IRNode) []string {
	var out []string
	for _, n := range nodes {
		if n.Text != "" {
			out = append(out, n.Text)
		}
		out = append(out, allText(n.Children)...)
	}
	return out
}

func TestExecIfChoose(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r">
    <xsl:choose>
      <xsl:when test="@flag = 'yes'"><text>yes-branch</text></xsl:when>
      <xsl:otherwise><text>no-branch</text></xsl:otherwise>
    </xsl:choose>
  </xsl:template>
</xsl:stylesheet>`

	require.Equal(t, []string{"yes-branch"}, allText(runDoc(t, ss, `<r flag="yes"/>`)))
	require.Equal(t, []string{"no-branch"}, allText(runDoc(t, ss, `<r flag="no"/>`)))
}

func TestExecApplyTemplatesAndPriority(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r"><xsl:apply-templates select="item"/></xsl:template>
  <xsl:template match="item"><text>generic</text></xsl:template>
  <xsl:template match="item[@special='true']" priority="10"><text>special</text></xsl:template>
</xsl:stylesheet>`

	got := allText(runDoc(t, ss, `<r><item/><item special="true"/></r>`))
	require.Equal(t, []string{"generic", "special"}, got)
}

func TestExecCallTemplateWithParam(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r">
    <xsl:call-template name="greet">
      <xsl:with-param name="who" select="'world'"/>
    </xsl:call-template>
  </xsl:template>
  <xsl:template name="greet">
    <xsl:param name="who"/>
    <xsl:value-of select="concat('hello, ', $who)"/>
  </xsl:template>
</xsl:stylesheet>`

	require.Equal(t, []string{"hello, world"}, allText(runDoc(t, ss, `<r/>`)))
}

func TestExecForEachGroupBy(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r">
    <xsl:for-each-group select="item" group-by="@cat">
      <paragraph><xsl:value-of select="current-grouping-key()"/></paragraph>
    </xsl:for-each-group>
  </xsl:template>
</xsl:stylesheet>`

	got := allText(runDoc(t, ss, `<r><item cat="a"/><item cat="b"/><item cat="a"/></r>`))
	require.Equal(t, []string{"a", "b"}, got)
}

func TestExecVariableScopingAndStrict(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r">
    <xsl:value-of select="$undeclared"/>
  </xsl:template>
</xsl:stylesheet>`

	// Non-strict: the undeclared variable is an empty node-set, so
	// value-of emits only empty text, which allText leaves out.
	require.Equal(t, []string(nil), allText(runDoc(t, ss, `<r/>`)))

	ssc, err := compile.Compile(ss)
	require.NoError(t, err)
	root, err := xmltree.Parse(strings.NewReader(`<r/>`))
	require.NoError(t, err)
	b := ir.NewTreeBuilder()
	ex := exec.New(ssc, b, builtin.NewRegistry(), exec.WithStrict(true))
	require.Error(t, ex.Run(root, ""))
}

func TestExecDefaultModeFallback(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r"><text>matched</text></xsl:template>
</xsl:stylesheet>`

	require.Equal(t, []string{"matched"}, allText(runDoc(t, ss, `<r/>`)))
}
