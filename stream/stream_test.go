package stream_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/compile"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/stream"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

// queueSource turns a fixed slice of events into a stream.Source, the
// event-sequence shape a real pull parser would otherwise supply.
func queueSource(events []stream.Event) stream.Source {
	i := 0
	return func() (stream.Event, bool, error) {
		if i >= len(events) {
			return stream.Event{}, false, nil
		}
		ev := events[i]
		i++
		return ev, true, nil
	}
}

func start(local string) stream.Event {
	return stream.Event{Kind: stream.StartElement, Name: tree.QName{Local: local}}
}

func end() stream.Event {
	return stream.Event{Kind: stream.EndElement}
}

func text(s string) stream.Event {
	return stream.Event{Kind: stream.TextEvent, Text: s}
}

func flattenText(nodes []*ir.IRNode) []string {
	var out []string
	for _, n := range nodes {
		if n.Text != "" {
			out = append(out, n.Text)
		}
		out = append(out, flattenText(n.Children)...)
	}
	return out
}

func TestStreamAppliesTemplatesAndPassesTextThrough(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/catalog">
    <block><xsl:apply-templates/></block>
  </xsl:template>
  <xsl:template match="book">
    <paragraph><xsl:apply-templates/></paragraph>
  </xsl:template>
</xsl:stylesheet>`

	stylesheet, err := compile.Compile(ss)
	require.NoError(t, err)

	events := []stream.Event{
		start("catalog"),
		start("book"),
		start("title"),
		text("A"),
		end(),
		end(),
		end(),
	}

	b := ir.NewTreeBuilder()
	ex := stream.New(stylesheet, b, builtin.NewRegistry())
	require.NoError(t, ex.Run(queueSource(events), ""))

	require.Equal(t, []string{"A"}, flattenText(b.Finalize()))
}

func TestStreamValueOfOnStaticLiteralIsStreamable(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r">
    <xsl:value-of select="'ok'"/>
  </xsl:template>
</xsl:stylesheet>`

	stylesheet, err := compile.Compile(ss)
	require.NoError(t, err)

	events := []stream.Event{start("r"), end()}

	b := ir.NewTreeBuilder()
	ex := stream.New(stylesheet, b, builtin.NewRegistry())
	require.NoError(t, ex.Run(queueSource(events), ""))
	require.Equal(t, []string{"ok"}, flattenText(b.Finalize()))
}

func TestStreamRejectsNonStreamableInstruction(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r"><xsl:copy-of select="."/></xsl:template>
</xsl:stylesheet>`

	stylesheet, err := compile.Compile(ss)
	require.NoError(t, err)

	events := []stream.Event{start("r"), end()}

	b := ir.NewTreeBuilder()
	ex := stream.New(stylesheet, b, builtin.NewRegistry())
	require.Error(t, ex.Run(queueSource(events), ""))
}

func TestStreamRejectsForEachOverGroundedSelect(t *testing.T) {
	const ss = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r">
    <xsl:for-each select="1"><xsl:value-of select="."/></xsl:for-each>
  </xsl:template>
</xsl:stylesheet>`

	stylesheet, err := compile.Compile(ss)
	require.NoError(t, err)

	events := []stream.Event{start("r"), end()}
	b := ir.NewTreeBuilder()
	ex := stream.New(stylesheet, b, builtin.NewRegistry())
	require.Error(t, ex.Run(queueSource(events), ""))
}
