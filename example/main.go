// Command example demonstrates compiling a stylesheet and transforming
// an XML document through the tree-building executor.
package main

import (
	"fmt"
	"os"
	"strings"

	petty "github.com/sigmundgranaas/petty"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/tree/xmltree"
)

const stylesheet = `<?xml version="1.0"?>
<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform" version="1.0">
  <xsl:template match="/catalog">
    <block>
      <xsl:for-each select="book">
        <paragraph>
          <xsl:value-of select="title"/>
          <xsl:text> by </xsl:text>
          <xsl:value-of select="author"/>
        </paragraph>
      </xsl:for-each>
    </block>
  </xsl:template>
</xsl:stylesheet>`

const document = `<catalog>
  <book><title>The Pragmatic Programmer</title><author>Hunt &amp; Thomas</author></book>
  <book><title>The Go Programming Language</title><author>Donovan &amp; Kernighan</author></book>
</catalog>`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	engine := petty.New(petty.Config{InitialMode: "#default"})

	ss, err := engine.Compile(stylesheet)
	if err != nil {
		return err
	}

	doc, err := xmltree.Parse(strings.NewReader(document))
	if err != nil {
		return err
	}

	nodes, err := engine.Transform(ss, doc, "")
	if err != nil {
		return err
	}

	for _, n := range nodes {
		printNode(n, 0)
	}
	return nil
}

func printNode(n *ir.IRNode, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Text != "" {
		fmt.Printf("%s%s\n", indent, n.Text)
	}
	for _, c := range n.Children {
		printNode(c, depth+1)
	}
}
