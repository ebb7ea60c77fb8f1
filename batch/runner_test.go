package batch_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/batch"
	"github.com/sigmundgranaas/petty/compile"
	"github.com/sigmundgranaas/petty/exec"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/tree/xmltree"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

const stylesheet = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r"><xsl:value-of select="@n"/></xsl:template>
</xsl:stylesheet>`

func mustDoc(t *testing.T, n string) batch.Job {
	t.Helper()
	doc, err := xmltree.Parse(strings.NewReader(`<r n="` + n + `"/>`))
	require.NoError(t, err)
	return batch.Job{Doc: doc}
}

func flatText(nodes []*ir.IRNode) string {
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(n.Text)
		sb.WriteString(flatText(n.Children))
	}
	return sb.String()
}

func baseConfig(t *testing.T, limit int) batch.Config {
	t.Helper()
	ss, err := compile.Compile(stylesheet)
	require.NoError(t, err)
	return batch.Config{
		Stylesheet:       ss,
		Funcs:            builtin.NewRegistry(),
		NewBuilder:       func() ir.Builder { return ir.NewTreeBuilder() },
		ConcurrencyLimit: limit,
		ExecOptions:      []exec.Option{},
	}
}

func TestBatchRunSequentialPreservesOrder(t *testing.T) {
	cfg := baseConfig(t, 0)
	jobs := []batch.Job{mustDoc(t, "1"), mustDoc(t, "2"), mustDoc(t, "3")}

	results, err := batch.Run(context.Background(), cfg, jobs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, string(rune('1'+i)), flatText(r.Nodes))
	}
}

func TestBatchRunConcurrentPreservesOrder(t *testing.T) {
	cfg := baseConfig(t, 4)
	jobs := make([]batch.Job, 20)
	for i := range jobs {
		jobs[i] = mustDoc(t, string(rune('a'+i)))
	}

	results, err := batch.Run(context.Background(), cfg, jobs)
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, string(rune('a'+i)), flatText(r.Nodes))
	}
}

func TestBatchStopsOnFirstErrorByDefault(t *testing.T) {
	ss, err := compile.Compile(`<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r"><xsl:value-of select="$undeclared"/></xsl:template>
</xsl:stylesheet>`)
	require.NoError(t, err)

	cfg := batch.Config{
		Stylesheet:       ss,
		Funcs:            builtin.NewRegistry(),
		NewBuilder:       func() ir.Builder { return ir.NewTreeBuilder() },
		ConcurrencyLimit: 0,
		ExecOptions:      []exec.Option{exec.WithStrict(true)},
	}

	doc, err := xmltree.Parse(strings.NewReader(`<r/>`))
	require.NoError(t, err)

	results, err := batch.Run(context.Background(), cfg, []batch.Job{{Doc: doc}, {Doc: doc}})
	require.Error(t, err)
	require.Error(t, results[0].Err)
}

func TestBatchContinueOnError(t *testing.T) {
	ss, err := compile.Compile(`<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/r"><xsl:value-of select="$undeclared"/></xsl:template>
</xsl:stylesheet>`)
	require.NoError(t, err)

	doc, err := xmltree.Parse(strings.NewReader(`<r/>`))
	require.NoError(t, err)

	cfg := batch.Config{
		Stylesheet:       ss,
		Funcs:            builtin.NewRegistry(),
		NewBuilder:       func() ir.Builder { return ir.NewTreeBuilder() },
		ConcurrencyLimit: 0,
		ContinueOnError:  true,
		ExecOptions:      []exec.Option{exec.WithStrict(true)},
	}

	results, err := batch.Run(context.Background(), cfg, []batch.Job{{Doc: doc}, {Doc: doc}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.Error(t, results[1].Err)
}
