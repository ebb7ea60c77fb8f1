package compile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/compile"
)

func TestCompileTemplateAndApplyTemplates(t *testing.T) {
	const src = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/catalog">
    <block><xsl:apply-templates select="book"/></block>
  </xsl:template>
  <xsl:template match="book">
    <paragraph><xsl:value-of select="title"/></paragraph>
  </xsl:template>
</xsl:stylesheet>`

	ss, err := compile.Compile(src)
	require.NoError(t, err)

	mode, ok := ss.Modes["#default"]
	require.True(t, ok)
	require.Len(t, mode.Templates, 2)
}

func TestCompileNamedTemplate(t *testing.T) {
	const src = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template name="greet"><text>hi</text></xsl:template>
</xsl:stylesheet>`

	ss, err := compile.Compile(src)
	require.NoError(t, err)
	_, ok := ss.NamedTemplates["greet"]
	require.True(t, ok)
}

func TestCompileVariableAndFunction(t *testing.T) {
	const src = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:variable name="limit" select="10"/>
  <xsl:function name="double">
    <xsl:param name="x"/>
    <xsl:value-of select="$x * 2"/>
  </xsl:function>
</xsl:stylesheet>`

	ss, err := compile.Compile(src)
	require.NoError(t, err)
	require.Len(t, ss.GlobalVars, 1)
	require.Equal(t, "limit", ss.GlobalVars[0].Name.Local)
	require.Len(t, ss.Functions, 1)
}

func TestCompileKeyAndAccumulator(t *testing.T) {
	const src = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:key name="by-id" match="item" use="@id"/>
  <xsl:accumulator name="total" initial-value="0">
    <xsl:accumulator-rule match="item" select="$value + 1"/>
  </xsl:accumulator>
</xsl:stylesheet>`

	ss, err := compile.Compile(src)
	require.NoError(t, err)
	_, ok := ss.Keys["by-id"]
	require.True(t, ok)
	_, ok = ss.Accumulators["total"]
	require.True(t, ok)
}

func TestCompileMalformedXMLIsError(t *testing.T) {
	_, err := compile.Compile(`<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform">`)
	require.Error(t, err)
}

func TestCompileSkipsForwardCompatibleUnknownElement(t *testing.T) {
	const src = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:unknown-future-instruction/>
  <xsl:template match="/"><text>ok</text></xsl:template>
</xsl:stylesheet>`

	ss, err := compile.Compile(src)
	require.NoError(t, err)
	require.Contains(t, ss.Modes, "#default")
}
