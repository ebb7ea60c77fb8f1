// Package compile implements the template compiler (spec §4.H, §4.I):
// a single-pass, event-driven consumer of the template source (spec
// §6.4) that resolves attribute-value/text-value templates, lifts
// XPath source to parsed expressions, and builds the instruction tree
// (package instr) plus the compiled stylesheet's mode tables.
//
// Grounded on tree/xmltree's use of encoding/xml as the base tokenizer
// (the same stdlib justification applies here: no XML-facing library in
// the example corpus replaces it), driven recursively the way a
// descent parser consumes a token stream rather than via an explicit
// stack machine.
package compile

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	xerrors "github.com/sigmundgranaas/petty/errors"
	"github.com/sigmundgranaas/petty/instr"
	"github.com/sigmundgranaas/petty/pattern"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// Namespace is the transformation namespace whose element names are
// instructions (spec §6.4); anything outside it is a literal result
// element.
const Namespace = "http://www.w3.org/1999/XSL/Transform"

// Compiler holds the state threaded through one compile pass: the
// stylesheet under construction and the logger diagnostics are routed
// through (spec SPEC_FULL §3 "Logging").
type Compiler struct {
	ss     *instr.Stylesheet
	log    *logrus.Entry
	source string
	nextFn int // synthesizes unique names for anonymous named templates
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger overrides the default logrus.StandardLogger() entry.
func WithLogger(l *logrus.Entry) Option { return func(c *Compiler) { c.log = l } }

// Compile parses template source into a compiled Stylesheet (spec
// §4.H, §4.I).
func Compile(source string, opts ...Option) (*instr.Stylesheet, error) {
	c := &Compiler{ss: instr.NewStylesheet(), log: logrus.NewEntry(logrus.StandardLogger()), source: source}
	for _, o := range opts {
		o(c)
	}
	dec := xml.NewDecoder(strings.NewReader(source))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Space != Namespace || (se.Name.Local != "stylesheet" && se.Name.Local != "transform") {
			return nil, xerrors.ErrParse.New("root element must be xsl:stylesheet or xsl:transform")
		}
		if err := c.compileTopLevel(dec, se); err != nil {
			return nil, err
		}
		return c.ss, nil
	}
}

func (c *Compiler) pos(dec *xml.Decoder) (int, int) { return lineCol(c.source, int(dec.InputOffset())) }

func lineCol(src string, offset int) (line, col int) {
	line, col = 1, 1
	if offset > len(src) {
		offset = len(src)
	}
	for i := 0; i < offset; i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func attr(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == local && (a.Name.Space == "" || a.Name.Space == Namespace) {
			return a.Value, true
		}
	}
	return "", false
}

func requireAttr(c *Compiler, dec *xml.Decoder, se xml.StartElement, local string) (string, error) {
	v, ok := attr(se, local)
	if !ok {
		line, col := c.pos(dec)
		return "", xerrors.At(line, col, xerrors.XTSE0010.New(local, se.Name.Local))
	}
	return v, nil
}

func parseExpr(src string) (xpath1.Expr, error) { return xpath1.Parse(src) }

func qnameOf(n xml.Name) tree.QName {
	prefix := ""
	local := n.Local
	if i := strings.IndexByte(local, ':'); i >= 0 {
		prefix, local = local[:i], local[i+1:]
	}
	return tree.QName{Prefix: prefix, Local: local, Namespace: n.Space}
}

// parseAVT lexes an attribute or text value containing "{...}"
// segments into static/dynamic runs (spec §4.I step 3, §4.I "Text
// value templates"): "{{"/"}}" escape to literal braces; an
// unescaped "{" opens an expression that runs to its matching "}",
// with brace nesting tracked so an embedded map/array constructor's
// braces don't end the segment early.
func parseAVT(s string) (instr.AVT, error) {
	var out instr.AVT
	var lit strings.Builder
	i := 0
	for i < len(s) {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			lit.WriteByte('{')
			i += 2
		case strings.HasPrefix(s[i:], "}}"):
			lit.WriteByte('}')
			i += 2
		case s[i] == '{':
			if lit.Len() > 0 {
				out = append(out, instr.AVTSegment{Literal: lit.String()})
				lit.Reset()
			}
			depth := 1
			start := i + 1
			j := start
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '{':
					depth++
				case '}':
					depth--
					if depth == 0 {
						continue
					}
				}
				j++
			}
			exprSrc := s[start:j]
			expr, err := parseExpr(exprSrc)
			if err != nil {
				return nil, err
			}
			out = append(out, instr.AVTSegment{Expr: expr})
			i = j + 1
		default:
			lit.WriteByte(s[i])
			i++
		}
	}
	if lit.Len() > 0 {
		out = append(out, instr.AVTSegment{Literal: lit.String()})
	}
	return out, nil
}

func staticAVT(s string) instr.AVT { return instr.AVT{{Literal: s}} }

// compileTopLevel parses the direct children of xsl:stylesheet (spec
// §3.5 "global variables/params, template rules, ..., keys,
// attribute-sets, accumulators").
func (c *Compiler) compileTopLevel(dec *xml.Decoder, se xml.StartElement) error {
	expandText := attrIsYes(se, "expand-text")
	for {
		tok, err := dec.Token()
		if err != nil {
			return xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			if t.Name.Space != Namespace {
				if err := skipElement(dec); err != nil {
					return err
				}
				continue
			}
			if err := c.compileDeclaration(dec, t, expandText); err != nil {
				return err
			}
		}
	}
}

func attrIsYes(se xml.StartElement, local string) bool {
	v, ok := attr(se, local)
	return ok && v == "yes"
}

func (c *Compiler) compileDeclaration(dec *xml.Decoder, se xml.StartElement, expandText bool) error {
	switch se.Name.Local {
	case "template":
		return c.compileTemplate(dec, se, expandText)
	case "variable":
		v, err := c.compileVariable(dec, se, expandText)
		if err != nil {
			return err
		}
		c.ss.GlobalVars = append(c.ss.GlobalVars, v)
		return nil
	case "param":
		p, err := c.compileParam(dec, se, expandText)
		if err != nil {
			return err
		}
		c.ss.GlobalParams = append(c.ss.GlobalParams, p)
		return nil
	case "function":
		return c.compileFunction(dec, se, expandText)
	case "key":
		return c.compileKey(dec, se)
	case "attribute-set":
		return c.compileAttributeSet(dec, se, expandText)
	case "accumulator":
		return c.compileAccumulator(dec, se)
	case "import", "include":
		// External document loading is out of scope (spec §1
		// Non-goals); record the reference for diagnostics only.
		href, _ := attr(se, "href")
		c.log.WithField("href", href).Warn("compile: import/include not resolved (external document loading is out of scope)")
		return skipElement(dec)
	case "output", "decimal-format", "character-map", "strip-space", "preserve-space", "namespace-alias", "mode":
		return skipElement(dec)
	default:
		line, col := c.pos(dec)
		c.log.WithField("element", se.Name.Local).WithField("line", line).WithField("col", col).
			Warn("compile: unknown forward-compatible top-level element")
		return skipElement(dec)
	}
}

func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return xerrors.ErrParse.New(err.Error())
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func (c *Compiler) compileTemplate(dec *xml.Decoder, se xml.StartElement, expandText bool) error {
	t := &instr.Template{}
	if name, ok := attr(se, "name"); ok {
		t.Name = name
	}
	if matchSrc, ok := attr(se, "match"); ok {
		p, err := pattern.Compile(matchSrc)
		if err != nil {
			return err
		}
		t.Match = p
		t.Priority = p.Priority()
	}
	if modeAttr, ok := attr(se, "mode"); ok {
		t.Modes = strings.Fields(modeAttr)
	}
	if prio, ok := attr(se, "priority"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(prio), 64); err == nil {
			t.Priority = v
			t.Explicit = true
		}
	}
	if t.Name == "" && t.Match == nil {
		line, col := c.pos(dec)
		return xerrors.At(line, col, xerrors.XTSE0010.New("match", "template"))
	}

	body, params, err := c.compileBodyWithParams(dec, expandText)
	if err != nil {
		return err
	}
	t.Params = params
	t.Body = body

	if t.Name != "" {
		if _, dup := c.ss.NamedTemplates[t.Name]; dup {
			return xerrors.XTSE0630.New(t.Name)
		}
		c.ss.NamedTemplates[t.Name] = &instr.NamedTemplate{Name: t.Name, Params: params, Body: body}
	}
	if t.Match != nil {
		c.ss.AddTemplate(t)
	}
	return nil
}

// compileBodyWithParams reads a container's children, splitting any
// leading xsl:param declarations from the instruction body (spec §3.4
// "Param" only appears before other content, per XSLT convention).
func (c *Compiler) compileBodyWithParams(dec *xml.Decoder, expandText bool) (instr.Body, []instr.Param, error) {
	var params []instr.Param
	var body instr.Body
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return body, params, nil
		case xml.CharData:
			if ins := c.compileCharData(string(t), expandText); ins != nil {
				body = append(body, ins)
			}
		case xml.StartElement:
			if t.Name.Space == Namespace && t.Name.Local == "param" && len(body) == 0 {
				p, err := c.compileParam(dec, t, expandText)
				if err != nil {
					return nil, nil, err
				}
				params = append(params, p)
				continue
			}
			ins, err := c.compileElement(dec, t, expandText)
			if err != nil {
				return nil, nil, err
			}
			if ins != nil {
				body = append(body, ins)
			}
		}
	}
}

func (c *Compiler) compileBody(dec *xml.Decoder, expandText bool) (instr.Body, error) {
	body, _, err := c.compileBodyWithParams(dec, expandText)
	return body, err
}

func (c *Compiler) compileCharData(s string, expandText bool) instr.Instr {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if !expandText || !strings.ContainsAny(s, "{}") {
		return instr.Text{Value: s}
	}
	avt, err := parseAVT(s)
	if err != nil || avt.Static() {
		return instr.Text{Value: s}
	}
	return instr.TextValueTemplate{Segments: avt}
}

func childExpandText(se xml.StartElement, inherited bool) bool {
	if v, ok := attr(se, "expand-text"); ok {
		return v == "yes"
	}
	return inherited
}

// compileElement dispatches one child element to the Instr it
// compiles to (spec §4.H instruction variants); literal (non-XSLT)
// elements become ContentTag/EmptyTag (spec §4.I "Literal result
// elements").
func (c *Compiler) compileElement(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	expandText = childExpandText(se, expandText)
	if se.Name.Space != Namespace {
		return c.compileLiteral(dec, se, expandText)
	}
	switch se.Name.Local {
	case "value-of":
		return c.compileValueOf(dec, se)
	case "text":
		return c.compileTextInstr(dec, se)
	case "if":
		return c.compileIf(dec, se, expandText)
	case "choose":
		return c.compileChoose(dec, se, expandText)
	case "for-each":
		return c.compileForEach(dec, se, expandText)
	case "for-each-group":
		return c.compileForEachGroup(dec, se, expandText)
	case "apply-templates":
		return c.compileApplyTemplates(dec, se, expandText)
	case "call-template":
		return c.compileCallTemplate(dec, se, expandText)
	case "next-match":
		return c.compileNextMatch(dec, se, expandText, false)
	case "apply-imports":
		return c.compileNextMatch(dec, se, expandText, true)
	case "variable":
		v, err := c.compileVariable(dec, se, expandText)
		return v, err
	case "copy":
		return c.compileCopy(dec, se, expandText)
	case "copy-of":
		src, err := requireAttr(c, dec, se, "select")
		if err != nil {
			return nil, err
		}
		expr, err := parseExpr(src)
		if err != nil {
			return nil, err
		}
		return instr.CopyOf{Expr: expr}, skipElement(dec)
	case "sequence":
		src, err := requireAttr(c, dec, se, "select")
		if err != nil {
			return nil, err
		}
		expr, err := parseExpr(src)
		if err != nil {
			return nil, err
		}
		return instr.Sequence{Expr: expr}, skipElement(dec)
	case "try":
		return c.compileTry(dec, se, expandText)
	case "iterate":
		return c.compileIterate(dec, se, expandText)
	case "next-iteration":
		return c.compileNextIteration(dec, se, expandText)
	case "break":
		return instr.Break{}, skipElement(dec)
	case "map":
		return c.compileMap(dec, se)
	case "array":
		return c.compileArray(dec, se, expandText)
	case "analyze-string":
		return c.compileAnalyzeString(dec, se, expandText)
	case "assert":
		return c.compileAssert(dec, se)
	case "message":
		return c.compileMessage(dec, se)
	case "result-document":
		return c.compileResultDocument(dec, se, expandText)
	case "number":
		return c.compileNumber(dec, se)
	case "fallback":
		return nil, skipElement(dec)
	default:
		line, col := c.pos(dec)
		c.log.WithField("element", se.Name.Local).WithField("line", line).WithField("col", col).
			Warn("compile: unknown forward-compatible instruction")
		return c.compileFallbackBody(dec, se, expandText)
	}
}

// compileFallbackBody honors "Unknown XSLT elements ... their body is
// still compiled so that fallback children are reachable" (spec §4.I):
// we surface only a fallback child's body, if present, else nothing.
func (c *Compiler) compileFallbackBody(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return nil, err
	}
	for _, ins := range body {
		if _, ok := ins.(instr.Text); ok {
			continue
		}
		return instr.Choose{Whens: []instr.When{{Test: xpath1.NumberLit{Value: 1}, Body: instr.Body{ins}}}}, nil
	}
	return nil, nil
}

func (c *Compiler) compileLiteral(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	name := qnameOf(se.Name)
	style := map[string]instr.AVT{}
	var attrs []instr.Attr
	for _, a := range se.Attr {
		qn := qnameOf(a.Name)
		avt, err := parseAVT(a.Value)
		if err != nil {
			return nil, err
		}
		if isStyleAttr(qn.Local) {
			style[qn.Local] = avt
		} else {
			attrs = append(attrs, instr.Attr{Name: qn, Value: avt})
		}
	}
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return instr.EmptyTag{Name: name, Style: style, Attrs: attrs}, nil
	}
	return instr.ContentTag{Name: name, Style: style, Attrs: attrs, Body: body, ExpandText: expandText}, nil
}

// isStyleAttr recognizes style-bearing attributes by convention;
// concrete property grammars are a leaf utility out of scope (spec
// §1), so this engine only routes them to Style rather than parsing
// them.
func isStyleAttr(local string) bool {
	switch local {
	case "style", "class", "font", "color", "border", "width", "height", "align":
		return true
	default:
		return false
	}
}

func (c *Compiler) compileValueOf(dec *xml.Decoder, se xml.StartElement) (instr.Instr, error) {
	src, err := requireAttr(c, dec, se, "select")
	if err != nil {
		return nil, err
	}
	expr, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	var sep instr.AVT
	if sv, ok := attr(se, "separator"); ok {
		sep, err = parseAVT(sv)
		if err != nil {
			return nil, err
		}
	}
	return instr.ValueOf{Expr: expr, Separator: sep}, skipElement(dec)
}

func (c *Compiler) compileTextInstr(dec *xml.Decoder, se xml.StartElement) (instr.Instr, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return instr.Text{Value: sb.String()}, nil
		}
	}
}

func (c *Compiler) compileIf(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	testSrc, err := requireAttr(c, dec, se, "test")
	if err != nil {
		return nil, err
	}
	test, err := parseExpr(testSrc)
	if err != nil {
		return nil, err
	}
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return nil, err
	}
	return instr.If{Test: test, Then: body}, nil
}

func (c *Compiler) compileChoose(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	var whens []instr.When
	var otherwise instr.Body
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return instr.Choose{Whens: whens, Otherwise: otherwise}, nil
		case xml.StartElement:
			switch t.Name.Local {
			case "when":
				testSrc, err := requireAttr(c, dec, t, "test")
				if err != nil {
					return nil, err
				}
				test, err := parseExpr(testSrc)
				if err != nil {
					return nil, err
				}
				body, err := c.compileBody(dec, expandText)
				if err != nil {
					return nil, err
				}
				whens = append(whens, instr.When{Test: test, Body: body})
			case "otherwise":
				body, err := c.compileBody(dec, expandText)
				if err != nil {
					return nil, err
				}
				otherwise = body
			default:
				if err := skipElement(dec); err != nil {
					return nil, err
				}
			}
		}
	}
}

// compileSortKeys consumes leading xsl:sort children, returning them
// plus the remaining body (spec §4.J "Sort keys").
func (c *Compiler) compileSortKeys(dec *xml.Decoder, expandText bool) ([]instr.SortKey, instr.Body, error) {
	var keys []instr.SortKey
	var body instr.Body
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return keys, body, nil
		case xml.CharData:
			if ins := c.compileCharData(string(t), expandText); ins != nil {
				body = append(body, ins)
			}
		case xml.StartElement:
			if t.Name.Space == Namespace && t.Name.Local == "sort" && len(body) == 0 {
				k, err := c.compileSortKey(dec, t)
				if err != nil {
					return nil, nil, err
				}
				keys = append(keys, k)
				continue
			}
			ins, err := c.compileElement(dec, t, expandText)
			if err != nil {
				return nil, nil, err
			}
			if ins != nil {
				body = append(body, ins)
			}
		}
	}
}

func (c *Compiler) compileSortKey(dec *xml.Decoder, se xml.StartElement) (instr.SortKey, error) {
	k := instr.SortKey{}
	selectSrc, _ := attr(se, "select")
	if selectSrc == "" {
		selectSrc = "."
	}
	expr, err := parseExpr(selectSrc)
	if err != nil {
		return k, err
	}
	k.Expr = expr
	if order, ok := attr(se, "order"); ok && order == "descending" {
		k.Descending = true
	}
	if dt, ok := attr(se, "data-type"); ok && dt == "number" {
		k.DataType = instr.SortNumber
	}
	if lang, ok := attr(se, "lang"); ok {
		k.Lang = lang
	}
	if co, ok := attr(se, "case-order"); ok {
		if co == "upper-first" {
			k.CaseOrder = instr.UpperFirst
		} else if co == "lower-first" {
			k.CaseOrder = instr.LowerFirst
		}
	}
	return k, skipElement(dec)
}

func (c *Compiler) compileForEach(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	src, err := requireAttr(c, dec, se, "select")
	if err != nil {
		return nil, err
	}
	expr, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	keys, body, err := c.compileSortKeys(dec, expandText)
	if err != nil {
		return nil, err
	}
	return instr.ForEach{Select: expr, SortKeys: keys, Body: body}, nil
}

func (c *Compiler) compileForEachGroup(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	src, err := requireAttr(c, dec, se, "select")
	if err != nil {
		return nil, err
	}
	expr, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	fg := instr.ForEachGroup{Select: expr}
	if by, ok := attr(se, "group-by"); ok {
		keyExpr, err := parseExpr(by)
		if err != nil {
			return nil, err
		}
		fg.Kind = instr.GroupBy
		fg.GroupKey = keyExpr
	} else if adj, ok := attr(se, "group-adjacent"); ok {
		keyExpr, err := parseExpr(adj)
		if err != nil {
			return nil, err
		}
		fg.Kind = instr.GroupAdjacent
		fg.GroupKey = keyExpr
	} else if sw, ok := attr(se, "group-starting-with"); ok {
		p, err := pattern.Compile(sw)
		if err != nil {
			return nil, err
		}
		fg.Kind = instr.GroupStartingWith
		fg.GroupPattern = p
	} else if ew, ok := attr(se, "group-ending-with"); ok {
		p, err := pattern.Compile(ew)
		if err != nil {
			return nil, err
		}
		fg.Kind = instr.GroupEndingWith
		fg.GroupPattern = p
	}
	keys, body, err := c.compileSortKeys(dec, expandText)
	if err != nil {
		return nil, err
	}
	fg.SortKeys = keys
	fg.Body = body
	return fg, nil
}

func (c *Compiler) compileWithParams(dec *xml.Decoder, expandText bool) ([]instr.WithParam, instr.Body, error) {
	var params []instr.WithParam
	var body instr.Body
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return params, body, nil
		case xml.CharData:
			if ins := c.compileCharData(string(t), expandText); ins != nil {
				body = append(body, ins)
			}
		case xml.StartElement:
			if t.Name.Space == Namespace && t.Name.Local == "with-param" && len(body) == 0 {
				wp, err := c.compileWithParam(dec, t, expandText)
				if err != nil {
					return nil, nil, err
				}
				params = append(params, wp)
				continue
			}
			ins, err := c.compileElement(dec, t, expandText)
			if err != nil {
				return nil, nil, err
			}
			if ins != nil {
				body = append(body, ins)
			}
		}
	}
}

func (c *Compiler) compileWithParam(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.WithParam, error) {
	nameSrc, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return instr.WithParam{}, err
	}
	wp := instr.WithParam{Name: tree.QName{Local: nameSrc}, Tunnel: attrIsYes(se, "tunnel")}
	if sel, ok := attr(se, "select"); ok {
		expr, err := parseExpr(sel)
		if err != nil {
			return instr.WithParam{}, err
		}
		wp.Select = expr
		return wp, skipElement(dec)
	}
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return instr.WithParam{}, err
	}
	wp.Body = body
	return wp, nil
}

func (c *Compiler) compileApplyTemplates(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	at := instr.ApplyTemplates{}
	if sel, ok := attr(se, "select"); ok {
		expr, err := parseExpr(sel)
		if err != nil {
			return nil, err
		}
		at.Select = expr
	}
	if mode, ok := attr(se, "mode"); ok {
		at.Mode = mode
	}
	keys, withParams, body, err := c.compileSortAndParams(dec, expandText)
	if err != nil {
		return nil, err
	}
	_ = body // apply-templates carries no inline body beyond sort/with-param
	at.SortKeys = keys
	at.WithParams = withParams
	return at, nil
}

// compileSortAndParams handles the two containers (apply-templates)
// may hold: leading xsl:sort and xsl:with-param children.
func (c *Compiler) compileSortAndParams(dec *xml.Decoder, expandText bool) ([]instr.SortKey, []instr.WithParam, instr.Body, error) {
	var keys []instr.SortKey
	var params []instr.WithParam
	var body instr.Body
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return keys, params, body, nil
		case xml.CharData:
		case xml.StartElement:
			switch {
			case t.Name.Space == Namespace && t.Name.Local == "sort":
				k, err := c.compileSortKey(dec, t)
				if err != nil {
					return nil, nil, nil, err
				}
				keys = append(keys, k)
			case t.Name.Space == Namespace && t.Name.Local == "with-param":
				wp, err := c.compileWithParam(dec, t, expandText)
				if err != nil {
					return nil, nil, nil, err
				}
				params = append(params, wp)
			default:
				if err := skipElement(dec); err != nil {
					return nil, nil, nil, err
				}
			}
		}
	}
}

func (c *Compiler) compileCallTemplate(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	name, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return nil, err
	}
	params, _, err := c.compileWithParams(dec, expandText)
	if err != nil {
		return nil, err
	}
	return instr.CallTemplate{Name: name, WithParams: params}, nil
}

func (c *Compiler) compileNextMatch(dec *xml.Decoder, se xml.StartElement, expandText bool, imports bool) (instr.Instr, error) {
	params, _, err := c.compileWithParams(dec, expandText)
	if err != nil {
		return nil, err
	}
	if imports {
		return instr.ApplyImports{WithParams: params}, nil
	}
	return instr.NextMatch{WithParams: params}, nil
}

func (c *Compiler) compileVariable(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Variable, error) {
	name, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return instr.Variable{}, err
	}
	v := instr.Variable{Name: tree.QName{Local: name}}
	if sel, ok := attr(se, "select"); ok {
		expr, err := parseExpr(sel)
		if err != nil {
			return instr.Variable{}, err
		}
		v.Select = expr
		return v, skipElement(dec)
	}
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return instr.Variable{}, err
	}
	v.Body = body
	return v, nil
}

func (c *Compiler) compileParam(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Param, error) {
	name, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return instr.Param{}, err
	}
	p := instr.Param{Name: tree.QName{Local: name}, Required: attrIsYes(se, "required"), Tunnel: attrIsYes(se, "tunnel")}
	if sel, ok := attr(se, "select"); ok {
		expr, err := parseExpr(sel)
		if err != nil {
			return instr.Param{}, err
		}
		p.Select = expr
		return p, skipElement(dec)
	}
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return instr.Param{}, err
	}
	p.Body = body
	return p, nil
}

func (c *Compiler) compileFunction(dec *xml.Decoder, se xml.StartElement, expandText bool) error {
	name, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return err
	}
	body, params, err := c.compileBodyWithParams(dec, expandText)
	if err != nil {
		return err
	}
	qn := tree.QName{Local: name}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		qn = tree.QName{Prefix: name[:i], Local: name[i+1:]}
	}
	key := instr.FunctionKey(qn, len(params))
	c.ss.Functions[key] = &instr.StyleFunction{Name: qn, Params: params, Body: body}
	return nil
}

func (c *Compiler) compileKey(dec *xml.Decoder, se xml.StartElement) error {
	name, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return err
	}
	matchSrc, err := requireAttr(c, dec, se, "match")
	if err != nil {
		return err
	}
	p, err := pattern.Compile(matchSrc)
	if err != nil {
		return err
	}
	useSrc, err := requireAttr(c, dec, se, "use")
	if err != nil {
		return err
	}
	use, err := parseExpr(useSrc)
	if err != nil {
		return err
	}
	c.ss.Keys[name] = &instr.Key{Name: name, Match: p, Use: use}
	return skipElement(dec)
}

func (c *Compiler) compileAttributeSet(dec *xml.Decoder, se xml.StartElement, expandText bool) error {
	name, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return err
	}
	var attrs []instr.Attr
	for {
		tok, err := dec.Token()
		if err != nil {
			return xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			c.ss.AttributeSets[name] = attrs
			return nil
		case xml.StartElement:
			if t.Name.Space == Namespace && t.Name.Local == "attribute" {
				aname, err := requireAttr(c, dec, t, "name")
				if err != nil {
					return err
				}
				var sb strings.Builder
				for {
					tok2, err := dec.Token()
					if err != nil {
						return xerrors.ErrParse.New(err.Error())
					}
					if cd, ok := tok2.(xml.CharData); ok {
						sb.Write(cd)
					}
					if _, ok := tok2.(xml.EndElement); ok {
						break
					}
				}
				avt, err := parseAVT(sb.String())
				if err != nil {
					return err
				}
				attrs = append(attrs, instr.Attr{Name: tree.QName{Local: aname}, Value: avt})
			} else if err := skipElement(dec); err != nil {
				return err
			}
		}
	}
}

func (c *Compiler) compileAccumulator(dec *xml.Decoder, se xml.StartElement) error {
	name, err := requireAttr(c, dec, se, "name")
	if err != nil {
		return err
	}
	acc := &instr.Accumulator{Name: name}
	if initial, ok := attr(se, "initial-value"); ok {
		expr, err := parseExpr(initial)
		if err != nil {
			return err
		}
		acc.Initial = expr
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			c.ss.Accumulators[name] = acc
			return nil
		case xml.StartElement:
			if t.Name.Space == Namespace && t.Name.Local == "accumulator-rule" {
				rule, phase, err := c.compileAccumulatorRule(dec, t)
				if err != nil {
					return err
				}
				if phase == instr.AccumulatorAfter {
					acc.After = append(acc.After, rule)
				} else {
					acc.Before = append(acc.Before, rule)
				}
			} else if err := skipElement(dec); err != nil {
				return err
			}
		}
	}
}

func (c *Compiler) compileAccumulatorRule(dec *xml.Decoder, se xml.StartElement) (instr.AccumulatorRule, instr.AccumulatorPhase, error) {
	matchSrc, err := requireAttr(c, dec, se, "match")
	if err != nil {
		return instr.AccumulatorRule{}, 0, err
	}
	p, err := pattern.Compile(matchSrc)
	if err != nil {
		return instr.AccumulatorRule{}, 0, err
	}
	valueSrc, err := requireAttr(c, dec, se, "select")
	if err != nil {
		return instr.AccumulatorRule{}, 0, err
	}
	value, err := parseExpr(valueSrc)
	if err != nil {
		return instr.AccumulatorRule{}, 0, err
	}
	phase := instr.AccumulatorBefore
	if ph, ok := attr(se, "phase"); ok && ph == "end" {
		phase = instr.AccumulatorAfter
	}
	return instr.AccumulatorRule{Match: p, Value: value}, phase, skipElement(dec)
}

func (c *Compiler) compileCopy(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	style := map[string]instr.AVT{}
	for _, a := range se.Attr {
		qn := qnameOf(a.Name)
		if isStyleAttr(qn.Local) {
			avt, err := parseAVT(a.Value)
			if err != nil {
				return nil, err
			}
			style[qn.Local] = avt
		}
	}
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return nil, err
	}
	return instr.Copy{Style: style, Body: body}, nil
}

func (c *Compiler) compileTry(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	t := instr.Try{Rollback: attrIsYes(se, "rollback-output")}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		switch tk := tok.(type) {
		case xml.EndElement:
			return t, nil
		case xml.CharData:
			if ins := c.compileCharData(string(tk), expandText); ins != nil {
				t.Body = append(t.Body, ins)
			}
		case xml.StartElement:
			if tk.Name.Space == Namespace && tk.Name.Local == "catch" {
				codes := strings.Fields(attrOr(tk, "errors", "*"))
				body, err := c.compileBody(dec, expandText)
				if err != nil {
					return nil, err
				}
				t.Catches = append(t.Catches, instr.Catch{Codes: codes, Body: body})
				continue
			}
			ins, err := c.compileElement(dec, tk, expandText)
			if err != nil {
				return nil, err
			}
			if ins != nil {
				t.Body = append(t.Body, ins)
			}
		}
	}
}

func attrOr(se xml.StartElement, local, def string) string {
	if v, ok := attr(se, local); ok {
		return v
	}
	return def
}

func (c *Compiler) compileIterate(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	src, err := requireAttr(c, dec, se, "select")
	if err != nil {
		return nil, err
	}
	expr, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	it := instr.IterateInstr{Select: expr}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		switch tk := tok.(type) {
		case xml.EndElement:
			return it, nil
		case xml.CharData:
			if ins := c.compileCharData(string(tk), expandText); ins != nil {
				it.Body = append(it.Body, ins)
			}
		case xml.StartElement:
			switch {
			case tk.Name.Space == Namespace && tk.Name.Local == "param" && len(it.Body) == 0:
				p, err := c.compileParam(dec, tk, expandText)
				if err != nil {
					return nil, err
				}
				it.Params = append(it.Params, instr.IterateParam{Name: p.Name, Select: p.Select})
			case tk.Name.Space == Namespace && tk.Name.Local == "on-completion":
				body, err := c.compileBody(dec, expandText)
				if err != nil {
					return nil, err
				}
				it.OnCompletion = body
			default:
				ins, err := c.compileElement(dec, tk, expandText)
				if err != nil {
					return nil, err
				}
				if ins != nil {
					it.Body = append(it.Body, ins)
				}
			}
		}
	}
}

func (c *Compiler) compileNextIteration(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	params, _, err := c.compileWithParams(dec, expandText)
	if err != nil {
		return nil, err
	}
	return instr.NextIteration{Params: params}, nil
}

func (c *Compiler) compileMap(dec *xml.Decoder, se xml.StartElement) (instr.Instr, error) {
	var entries []instr.MapEntryInstr
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return instr.MapInstr{Entries: entries}, nil
		case xml.StartElement:
			if t.Name.Space == Namespace && t.Name.Local == "map-entry" {
				keySrc, err := requireAttr(c, dec, t, "key")
				if err != nil {
					return nil, err
				}
				key, err := parseExpr(keySrc)
				if err != nil {
					return nil, err
				}
				valSrc, err := requireAttr(c, dec, t, "select")
				if err != nil {
					return nil, err
				}
				val, err := parseExpr(valSrc)
				if err != nil {
					return nil, err
				}
				entries = append(entries, instr.MapEntryInstr{Key: key, Value: val})
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			if err := skipElement(dec); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Compiler) compileArray(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	var members []instr.ArrayMember
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return instr.ArrayInstr{Members: members}, nil
		case xml.StartElement:
			if t.Name.Space == Namespace && t.Name.Local == "array-member" {
				if sel, ok := attr(t, "select"); ok {
					expr, err := parseExpr(sel)
					if err != nil {
						return nil, err
					}
					members = append(members, instr.ArrayMember{Select: expr})
					if err := skipElement(dec); err != nil {
						return nil, err
					}
					continue
				}
				body, err := c.compileBody(dec, expandText)
				if err != nil {
					return nil, err
				}
				members = append(members, instr.ArrayMember{Body: body})
				continue
			}
			if err := skipElement(dec); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Compiler) compileAnalyzeString(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	src, err := requireAttr(c, dec, se, "select")
	if err != nil {
		return nil, err
	}
	expr, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	regexSrc, err := requireAttr(c, dec, se, "regex")
	if err != nil {
		return nil, err
	}
	regexAVT, err := parseAVT(regexSrc)
	if err != nil {
		return nil, err
	}
	flagsAVT := staticAVT(attrOr(se, "flags", ""))
	as := instr.AnalyzeString{Select: expr, Regex: regexAVT, Flags: flagsAVT}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, xerrors.ErrParse.New(err.Error())
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return as, nil
		case xml.StartElement:
			switch {
			case t.Name.Space == Namespace && t.Name.Local == "matching-substring":
				body, err := c.compileBody(dec, expandText)
				if err != nil {
					return nil, err
				}
				as.Matching = body
			case t.Name.Space == Namespace && t.Name.Local == "non-matching-substring":
				body, err := c.compileBody(dec, expandText)
				if err != nil {
					return nil, err
				}
				as.NonMatching = body
			default:
				if err := skipElement(dec); err != nil {
					return nil, err
				}
			}
		}
	}
}

func (c *Compiler) compileAssert(dec *xml.Decoder, se xml.StartElement) (instr.Instr, error) {
	testSrc, err := requireAttr(c, dec, se, "test")
	if err != nil {
		return nil, err
	}
	test, err := parseExpr(testSrc)
	if err != nil {
		return nil, err
	}
	msg, err := parseAVT(attrOr(se, "message", "assertion failed"))
	if err != nil {
		return nil, err
	}
	return instr.Assert{
		Test:      test,
		Code:      attrOr(se, "error-code", "XTMM9000"),
		Message:   msg,
		Terminate: attrOr(se, "terminate", "yes") != "no",
	}, skipElement(dec)
}

func (c *Compiler) compileMessage(dec *xml.Decoder, se xml.StartElement) (instr.Instr, error) {
	m := instr.Message{Terminate: attrIsYes(se, "terminate")}
	if sel, ok := attr(se, "select"); ok {
		expr, err := parseExpr(sel)
		if err != nil {
			return nil, err
		}
		m.Select = expr
	}
	return m, skipElement(dec)
}

func (c *Compiler) compileResultDocument(dec *xml.Decoder, se xml.StartElement, expandText bool) (instr.Instr, error) {
	hrefSrc, err := requireAttr(c, dec, se, "href")
	if err != nil {
		return nil, err
	}
	href, err := parseAVT(hrefSrc)
	if err != nil {
		return nil, err
	}
	body, err := c.compileBody(dec, expandText)
	if err != nil {
		return nil, err
	}
	return instr.ResultDocument{Format: attrOr(se, "format", ""), Href: href, Body: body}, nil
}

func (c *Compiler) compileNumber(dec *xml.Decoder, se xml.StartElement) (instr.Instr, error) {
	n := instr.Number{}
	switch attrOr(se, "level", "single") {
	case "multiple":
		n.Level = instr.LevelMultiple
	case "any":
		n.Level = instr.LevelAny
	default:
		n.Level = instr.LevelSingle
	}
	if countSrc, ok := attr(se, "count"); ok {
		p, err := pattern.Compile(countSrc)
		if err != nil {
			return nil, err
		}
		n.Count = p
	}
	if fromSrc, ok := attr(se, "from"); ok {
		p, err := pattern.Compile(fromSrc)
		if err != nil {
			return nil, err
		}
		n.From = p
	}
	format, err := parseAVT(attrOr(se, "format", "1"))
	if err != nil {
		return nil, err
	}
	n.Format = format
	if sel, ok := attr(se, "select"); ok {
		expr, err := parseExpr(sel)
		if err != nil {
			return nil, err
		}
		n.Select = expr
	}
	return n, skipElement(dec)
}
