// Package exec is the tree-building executor (spec §4.J, component J):
// it interprets a compiled instruction tree against a fully materialized
// input document, driving an ir.Builder as it goes. It is the
// non-streaming counterpart to package stream.
package exec

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/sirupsen/logrus"

	xerrors "github.com/sigmundgranaas/petty/errors"
	"github.com/sigmundgranaas/petty/exec/sortgroup"
	"github.com/sigmundgranaas/petty/instr"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// control-flow sentinels let Break/NextIteration unwind execBody without
// being mistaken for a dynamic error a Try/Catch should handle (spec §9
// "prefer a result-returning style ... try/catch boundaries must be
// observable").
type controlSignal struct{ kind string }

func (c controlSignal) Error() string {
	return "exec: " + c.kind + " outside its enclosing instruction"
}

var (
	errBreak        = controlSignal{kind: "break"}
	errNextIterator = controlSignal{kind: "next-iteration"}
)

func isControlSignal(err error) bool {
	return err == errBreak || err == errNextIterator
}

// Executor interprets one compiled instruction tree (spec §3.5) against
// one input document, emitting IR through the ir.Builder it was created
// with.
type Executor struct {
	ss          *instr.Stylesheet
	out         ir.Builder
	funcs       xpath1.FunctionRegistry
	log         *logrus.Entry
	strict      bool
	globals     *xpath1.VarScope
	extParams   map[tree.QName]xpath1.Value
	regexCache  map[string]*regexp2.Regexp
	accumBefore map[string]xpath1.Value
	accumAfter  map[string]xpath1.Value
}

// Option configures an Executor at construction (spec §6.5 "extension
// surface", generalized to executor-level knobs the way xpath1/compile's
// functional options already do).
type Option func(*Executor)

func WithLogger(l *logrus.Entry) Option { return func(e *Executor) { e.log = l } }
func WithStrict(strict bool) Option     { return func(e *Executor) { e.strict = strict } }

// WithGlobalParams seeds the stylesheet's global <xsl:param> declarations
// with caller-supplied values, the tree-building analog of a command-line
// "--param" binding.
func WithGlobalParams(params map[tree.QName]xpath1.Value) Option {
	return func(e *Executor) { e.extParams = params }
}

func New(ss *instr.Stylesheet, out ir.Builder, baseFuncs xpath1.FunctionRegistry, opts ...Option) *Executor {
	e := &Executor{
		ss:          ss,
		out:         out,
		log:         logrus.NewEntry(logrus.StandardLogger()),
		regexCache:  make(map[string]*regexp2.Regexp),
		accumBefore: make(map[string]xpath1.Value),
		accumAfter:  make(map[string]xpath1.Value),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.funcs = wrapRegistry(baseFuncs)
	return e
}

// execContext is the per-activation record threaded through every
// exec* call: the xpath1 evaluation context plus executor-only state
// that does not belong on xpath1.Context (dispatch mode, tunnel
// params, next-match candidate list, enclosing iterate loop).
type execContext struct {
	xp         *xpath1.Context
	mode       string
	tunnel     map[tree.QName]xpath1.Value
	candidates []*instr.Template
	candIdx    int
	iter       *iterateState
}

type iterateState struct {
	next map[tree.QName]xpath1.Value
}

func (c execContext) withItem(n tree.Node, pos, size int) execContext {
	cp := c
	cp.xp = c.xp.WithItem(n, pos, size)
	return cp
}

// Run builds the key indices and accumulator initial values, binds
// global variables/params, and applies templates starting at root in
// initialMode (spec §4.J "Template dispatch", §3.6 document root).
func (e *Executor) Run(root tree.Node, initialMode string) error {
	keys := xpath1.NewKeyIndex()
	base := xpath1.NewContext(root, e.funcs)
	base.Keys = keys
	base.Strict = e.strict
	e.globals = xpath1.NewVarScope(nil)
	base.Vars = e.globals

	if err := e.buildKeyIndices(base, root); err != nil {
		return err
	}
	if err := e.initAccumulators(base); err != nil {
		return err
	}
	if err := e.bindGlobals(base); err != nil {
		return err
	}

	if initialMode == "" {
		initialMode = e.ss.InitialMode
	}
	if initialMode == "" {
		initialMode = "#default"
	}
	ctx := execContext{xp: base, mode: initialMode, tunnel: map[tree.QName]xpath1.Value{}}
	return e.applyTemplatesOne(ctx, root, 1, 1, nil, ctx.tunnel)
}

func (e *Executor) buildKeyIndices(base *xpath1.Context, root tree.Node) error {
	if len(e.ss.Keys) == 0 {
		return nil
	}
	var nodes []tree.Node
	walkDocOrder(root, &nodes)
	for _, k := range e.ss.Keys {
		for _, n := range nodes {
			if !k.Match.Matches(base, n) {
				continue
			}
			sub := base.WithItem(n, 1, 1)
			v, err := xpath1.Eval(sub, k.Use)
			if err != nil {
				return err
			}
			if v.Kind == xpath1.KindNodeSet {
				for _, vn := range v.Nodes {
					base.Keys.Add(k.Name, vn.StringValue(), n)
				}
			} else {
				base.Keys.Add(k.Name, v.ToString(), n)
			}
		}
	}
	return nil
}

func (e *Executor) initAccumulators(base *xpath1.Context) error {
	for name, acc := range e.ss.Accumulators {
		v, err := xpath1.Eval(base, acc.Initial)
		if err != nil {
			return err
		}
		e.accumBefore[name] = v
		e.accumAfter[name] = v
	}
	return nil
}

func (e *Executor) bindGlobals(base *xpath1.Context) error {
	for _, v := range e.ss.GlobalVars {
		val, err := e.evalVarBinding(execContext{xp: base, tunnel: map[tree.QName]xpath1.Value{}}, v.Select, v.Body)
		if err != nil {
			return err
		}
		e.globals.Set(v.Name, val)
	}
	for _, p := range e.ss.GlobalParams {
		if v, ok := e.extParams[p.Name]; ok {
			e.globals.Set(p.Name, v)
			continue
		}
		val, err := e.paramDefault(execContext{xp: base, tunnel: map[tree.QName]xpath1.Value{}}, p)
		if err != nil {
			return err
		}
		e.globals.Set(p.Name, val)
	}
	return nil
}

// evalVarBinding implements the "exactly one of Select/Body supplies the
// value" rule (spec §3.4 Variable doc comment) for both Variable and
// global-var bindings: Select wins if present, else Body is run through
// a scratch ir.TreeBuilder and its text content becomes the value.
func (e *Executor) evalVarBinding(ctx execContext, sel xpath1.Expr, body instr.Body) (xpath1.Value, error) {
	if sel != nil {
		return xpath1.Eval(ctx.xp, sel)
	}
	if len(body) == 0 {
		return xpath1.NodeSet(nil), nil
	}
	scratch := ir.NewTreeBuilder()
	saved := e.out
	e.out = scratch
	err := e.execBody(ctx, body)
	e.out = saved
	if err != nil {
		return xpath1.Value{}, err
	}
	return xpath1.String(collectText(scratch.Finalize())), nil
}

func collectText(nodes []*ir.IRNode) string {
	var sb strings.Builder
	var walk func([]*ir.IRNode)
	walk = func(ns []*ir.IRNode) {
		for _, n := range ns {
			sb.WriteString(n.Text)
			walk(n.Children)
		}
	}
	walk(nodes)
	return sb.String()
}

func (e *Executor) paramDefault(ctx execContext, p instr.Param) (xpath1.Value, error) {
	if p.Select != nil || len(p.Body) > 0 {
		return e.evalVarBinding(ctx, p.Select, p.Body)
	}
	if p.Required {
		return xpath1.Value{}, xerrors.XTSE0010.New(p.Name.Local, "xsl:param")
	}
	return xpath1.NodeSet(nil), nil
}

// execBody runs a sequence of sibling instructions in source order
// (spec §3.6, §5 "instruction order is source order").
func (e *Executor) execBody(ctx execContext, body instr.Body) error {
	for _, in := range body {
		if err := e.execInstr(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execInstr(ctx execContext, in instr.Instr) error {
	switch v := in.(type) {
	case instr.Text:
		e.out.AddText(v.Value)
		return nil
	case instr.TextValueTemplate:
		s, err := e.renderAVT(ctx, v.Segments)
		if err != nil {
			return err
		}
		e.out.AddText(s)
		return nil
	case instr.ContentTag:
		return e.execTag(ctx, v.Name, v.Style, v.Attrs, v.Body)
	case instr.EmptyTag:
		return e.execTag(ctx, v.Name, v.Style, v.Attrs, nil)
	case instr.ValueOf:
		return e.execValueOf(ctx, v)
	case instr.CopyOf:
		return e.execCopyOf(ctx, v)
	case instr.Copy:
		return e.execCopy(ctx, v)
	case instr.Sequence:
		val, err := xpath1.Eval(ctx.xp, v.Expr)
		if err != nil {
			return err
		}
		e.out.AddText(val.ToString())
		return nil
	case instr.If:
		return e.execIf(ctx, v)
	case instr.Choose:
		return e.execChoose(ctx, v)
	case instr.ForEach:
		return e.execForEach(ctx, v)
	case instr.ForEachGroup:
		return e.execForEachGroup(ctx, v)
	case instr.ApplyTemplates:
		return e.execApplyTemplates(ctx, v)
	case instr.CallTemplate:
		return e.execCallTemplate(ctx, v)
	case instr.NextMatch:
		return e.execNextMatch(ctx, v.WithParams, false)
	case instr.ApplyImports:
		return e.execNextMatch(ctx, v.WithParams, true)
	case instr.Variable:
		val, err := e.evalVarBinding(ctx, v.Select, v.Body)
		if err != nil {
			return err
		}
		ctx.xp.Vars.Set(v.Name, val)
		return nil
	case instr.Param:
		if _, ok := ctx.xp.Vars.Get(v.Name); !ok {
			val, err := e.paramDefault(ctx, v)
			if err != nil {
				return err
			}
			ctx.xp.Vars.Set(v.Name, val)
		}
		return nil
	case instr.Try:
		return e.execTry(ctx, v)
	case instr.IterateInstr:
		return e.execIterate(ctx, v)
	case instr.NextIteration:
		return e.execNextIteration(ctx, v)
	case instr.Break:
		if ctx.iter == nil {
			return xerrors.FOER0000.New("xsl:break outside xsl:iterate")
		}
		return errBreak
	case instr.MapInstr:
		return e.execMap(ctx, v)
	case instr.ArrayInstr:
		return e.execArray(ctx, v)
	case instr.AnalyzeString:
		return e.execAnalyzeString(ctx, v)
	case instr.Assert:
		return e.execAssert(ctx, v)
	case instr.Message:
		return e.execMessage(ctx, v)
	case instr.AccumulatorRef:
		m := e.accumBefore
		if v.Phase == instr.AccumulatorAfter {
			m = e.accumAfter
		}
		e.out.AddText(m[v.Name].ToString())
		return nil
	case instr.ResultDocument:
		return e.execResultDocument(ctx, v)
	case instr.Number:
		return e.execNumber(ctx, v)
	default:
		return nil
	}
}

// renderAVT interpolates an attribute-value-template/text-value-
// template's "{…}" segments against ctx (spec §4.I step 3).
func (e *Executor) renderAVT(ctx execContext, avt instr.AVT) (string, error) {
	if avt.Static() {
		return avt.StaticString(), nil
	}
	var sb strings.Builder
	for _, seg := range avt {
		if seg.Expr == nil {
			sb.WriteString(seg.Literal)
			continue
		}
		v, err := xpath1.Eval(ctx.xp, seg.Expr)
		if err != nil {
			return "", err
		}
		sb.WriteString(v.ToString())
	}
	return sb.String(), nil
}

func (e *Executor) resolveStyle(ctx execContext, style map[string]instr.AVT) (map[string]string, error) {
	if len(style) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(style))
	for k, avt := range style {
		s, err := e.renderAVT(ctx, avt)
		if err != nil {
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}

func (e *Executor) resolveAttrs(ctx execContext, attrs []instr.Attr) (map[string]string, error) {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		s, err := e.renderAVT(ctx, a.Value)
		if err != nil {
			return nil, err
		}
		out[a.Name.Local] = s
	}
	return out, nil
}

func (e *Executor) execValueOf(ctx execContext, v instr.ValueOf) error {
	val, err := xpath1.Eval(ctx.xp, v.Expr)
	if err != nil {
		return err
	}
	sep := " "
	if v.Separator != nil {
		sep, err = e.renderAVT(ctx, v.Separator)
		if err != nil {
			return err
		}
	}
	if val.Kind == xpath1.KindNodeSet {
		parts := make([]string, len(val.Nodes))
		for i, n := range val.Nodes {
			parts[i] = n.StringValue()
		}
		e.out.AddText(strings.Join(parts, sep))
		return nil
	}
	e.out.AddText(val.ToString())
	return nil
}

func (e *Executor) execIf(ctx execContext, v instr.If) error {
	val, err := xpath1.Eval(ctx.xp, v.Test)
	if err != nil {
		return err
	}
	if val.ToBoolean() {
		return e.execBody(ctx, v.Then)
	}
	return nil
}

func (e *Executor) execChoose(ctx execContext, v instr.Choose) error {
	for _, w := range v.Whens {
		val, err := xpath1.Eval(ctx.xp, w.Test)
		if err != nil {
			return err
		}
		if val.ToBoolean() {
			return e.execBody(ctx, w.Body)
		}
	}
	if v.Otherwise != nil {
		return e.execBody(ctx, v.Otherwise)
	}
	return nil
}

func (e *Executor) selectNodes(ctx execContext, expr xpath1.Expr) ([]tree.Node, error) {
	if expr == nil {
		return ctx.xp.Item.Children(), nil
	}
	v, err := xpath1.Eval(ctx.xp, expr)
	if err != nil {
		return nil, err
	}
	return v.ToNodeSet(), nil
}

func (e *Executor) evalWithParams(ctx execContext, params []instr.WithParam) (map[tree.QName]xpath1.Value, map[tree.QName]xpath1.Value, error) {
	regular := map[tree.QName]xpath1.Value{}
	tunnel := map[tree.QName]xpath1.Value{}
	for _, p := range params {
		val, err := e.evalVarBinding(ctx, p.Select, p.Body)
		if err != nil {
			return nil, nil, err
		}
		if p.Tunnel {
			tunnel[p.Name] = val
		} else {
			regular[p.Name] = val
		}
	}
	return regular, tunnel, nil
}

func mergeTunnel(parent, overrides map[tree.QName]xpath1.Value) map[tree.QName]xpath1.Value {
	out := make(map[tree.QName]xpath1.Value, len(parent)+len(overrides))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func describeNode(n tree.Node) string {
	if name, ok := n.Name(); ok {
		return name.Local
	}
	return "#text"
}

// applyTemplatesOne dispatches exactly one node through the mode table
// (spec §4.J "Template dispatch"): group matches by descending
// priority, take the top tier, break ties with the mode's
// OnMultipleMatch policy, fall back to the built-in rule when nothing
// matches.
func (e *Executor) applyTemplatesOne(ctx execContext, node tree.Node, pos, size int, params, tunnel map[tree.QName]xpath1.Value) error {
	modeTable, ok := e.ss.Modes[ctx.mode]
	if !ok {
		modeTable = &instr.Mode{OnNoMatch: instr.DeepSkip, OnMultipleMatch: instr.UseLast}
	}
	itemCtx := ctx.xp.WithItem(node, pos, size)

	var fullMatches []*instr.Template
	for _, t := range modeTable.Templates {
		if t.Match.Matches(itemCtx, node) {
			fullMatches = append(fullMatches, t)
		}
	}
	if len(fullMatches) == 0 {
		return e.applyBuiltInRule(ctx, modeTable, node, pos, size, tunnel)
	}

	bestPriority := fullMatches[0].Priority
	tiedLen := 1
	for tiedLen < len(fullMatches) && fullMatches[tiedLen].Priority == bestPriority {
		tiedLen++
	}

	var chosen *instr.Template
	chosenIdx := 0
	switch {
	case tiedLen == 1:
		chosen = fullMatches[0]
	case modeTable.OnMultipleMatch == instr.FailOnMultipleMatch:
		return xerrors.XTDE0540.New(describeNode(node), ctx.mode)
	default:
		chosenIdx = tiedLen - 1
		chosen = fullMatches[chosenIdx]
	}

	tmplVars := xpath1.NewVarScope(e.globals)
	bodyCtx := execContext{
		xp:         itemCtx.WithVars(tmplVars),
		mode:       ctx.mode,
		tunnel:     tunnel,
		candidates: fullMatches,
		candIdx:    chosenIdx,
	}
	tmplVars.Set(varCurrentNode, xpath1.NodeSet([]tree.Node{node}))

	for _, p := range chosen.Params {
		if v, ok := params[p.Name]; ok {
			tmplVars.Set(p.Name, v)
			continue
		}
		if v, ok := tunnel[p.Name]; ok {
			tmplVars.Set(p.Name, v)
			continue
		}
		val, err := e.paramDefault(bodyCtx, p)
		if err != nil {
			return err
		}
		tmplVars.Set(p.Name, val)
	}

	if err := e.runAccumulatorPhase(instr.AccumulatorBefore, node, bodyCtx.xp); err != nil {
		return err
	}
	if err := e.execBody(bodyCtx, chosen.Body); err != nil {
		return err
	}
	return e.runAccumulatorPhase(instr.AccumulatorAfter, node, bodyCtx.xp)
}

// applyBuiltInRule implements the four built-in-rule behaviors a mode
// can declare for nodes no template matches (spec §4.J "built-in
// rules").
func (e *Executor) applyBuiltInRule(ctx execContext, modeTable *instr.Mode, node tree.Node, pos, size int, tunnel map[tree.QName]xpath1.Value) error {
	switch modeTable.OnNoMatch {
	case instr.FailOnNoMatch:
		return xerrors.FOER0000.New("no template rule matches " + describeNode(node) + " in mode " + ctx.mode)
	case instr.TextOnlyCopy:
		e.out.AddText(node.StringValue())
		return nil
	case instr.ShallowCopy:
		return e.copyShallowAndRecurse(ctx, node, tunnel)
	default: // DeepSkip
		return e.applyTemplatesToChildren(ctx, node, tunnel)
	}
}

func (e *Executor) applyTemplatesToChildren(ctx execContext, node tree.Node, tunnel map[tree.QName]xpath1.Value) error {
	children := node.Children()
	n := len(children)
	for i, c := range children {
		sub := ctx
		sub.tunnel = tunnel
		if err := e.applyTemplatesOne(sub, c, i+1, n, nil, tunnel); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) copyShallowAndRecurse(ctx execContext, node tree.Node, tunnel map[tree.QName]xpath1.Value) error {
	kind, _ := tagKindOf(node)
	attrs := shallowAttrStrings(node)
	return e.dispatchTag(kind, attrs, nil, func() error {
		return e.applyTemplatesToChildren(ctx, node, tunnel)
	})
}

func (e *Executor) execApplyTemplates(ctx execContext, v instr.ApplyTemplates) error {
	nodes, err := e.selectNodes(ctx, v.Select)
	if err != nil {
		return err
	}
	items := make([]sortgroup.Item, len(nodes))
	for i, n := range nodes {
		items[i] = sortgroup.Item{Node: n, Index: i}
	}
	if len(v.SortKeys) > 0 {
		items, err = sortgroup.Sort(items, v.SortKeys, func(it sortgroup.Item, pos, size int) *xpath1.Context {
			return ctx.xp.WithItem(it.Node, pos, size)
		})
		if err != nil {
			return err
		}
	}
	regular, tunnel, err := e.evalWithParams(ctx, v.WithParams)
	if err != nil {
		return err
	}
	mode := ctx.mode
	if v.Mode != "" {
		mode = v.Mode
	}
	mergedTunnel := mergeTunnel(ctx.tunnel, tunnel)
	n := len(items)
	for i, it := range items {
		sub := ctx
		sub.mode = mode
		sub.tunnel = mergedTunnel
		if err := e.applyTemplatesOne(sub, it.Node, i+1, n, regular, mergedTunnel); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execCallTemplate(ctx execContext, v instr.CallTemplate) error {
	nt, ok := e.ss.NamedTemplates[v.Name]
	if !ok {
		return xerrors.XTSE0580.New(v.Name)
	}
	regular, tunnel, err := e.evalWithParams(ctx, v.WithParams)
	if err != nil {
		return err
	}
	mergedTunnel := mergeTunnel(ctx.tunnel, tunnel)
	tmplVars := xpath1.NewVarScope(e.globals)
	bodyCtx := execContext{xp: ctx.xp.WithVars(tmplVars), mode: ctx.mode, tunnel: mergedTunnel}
	for _, p := range nt.Params {
		if val, ok := regular[p.Name]; ok {
			tmplVars.Set(p.Name, val)
			continue
		}
		if val, ok := mergedTunnel[p.Name]; ok {
			tmplVars.Set(p.Name, val)
			continue
		}
		val, err := e.paramDefault(bodyCtx, p)
		if err != nil {
			return err
		}
		tmplVars.Set(p.Name, val)
	}
	return e.execBody(bodyCtx, nt.Body)
}

// execNextMatch backs both xsl:next-match and xsl:apply-imports: it
// resumes the same dispatch started by applyTemplatesOne, at the first
// remaining candidate after the one currently executing (spec §4.J
// "NextMatch/ApplyImports").
func (e *Executor) execNextMatch(ctx execContext, withParams []instr.WithParam, importsOnly bool) error {
	if ctx.candidates == nil {
		return nil
	}
	for i := ctx.candIdx + 1; i < len(ctx.candidates); i++ {
		t := ctx.candidates[i]
		if importsOnly && !t.Imported {
			continue
		}
		regular, tunnel, err := e.evalWithParams(ctx, withParams)
		if err != nil {
			return err
		}
		mergedTunnel := mergeTunnel(ctx.tunnel, tunnel)
		tmplVars := xpath1.NewVarScope(e.globals)
		bodyCtx := execContext{
			xp:         ctx.xp.WithVars(tmplVars),
			mode:       ctx.mode,
			tunnel:     mergedTunnel,
			candidates: ctx.candidates,
			candIdx:    i,
		}
		for _, p := range t.Params {
			if v, ok := regular[p.Name]; ok {
				tmplVars.Set(p.Name, v)
				continue
			}
			if v, ok := mergedTunnel[p.Name]; ok {
				tmplVars.Set(p.Name, v)
				continue
			}
			val, err := e.paramDefault(bodyCtx, p)
			if err != nil {
				return err
			}
			tmplVars.Set(p.Name, val)
		}
		return e.execBody(bodyCtx, t.Body)
	}
	modeTable, ok := e.ss.Modes[ctx.mode]
	if !ok {
		modeTable = &instr.Mode{OnNoMatch: instr.DeepSkip}
	}
	return e.applyBuiltInRule(ctx, modeTable, ctx.xp.Item, ctx.xp.Position, ctx.xp.Size, ctx.tunnel)
}

// tagKind is the fixed container shape a literal result element or a
// shallow-copied source node maps to (spec §6.2): the IR has no
// generic "arbitrary element" node, so every tag name resolves to one
// of these shapes.
type tagKind int

const (
	tagBlock tagKind = iota
	tagParagraph
	tagInline
	tagHyperlink
	tagImage
	tagList
	tagListItem
	tagTable
	tagTableRow
	tagTableCell
)

func tagKindFor(name tree.QName) tagKind {
	switch strings.ToLower(name.Local) {
	case "a", "hyperlink":
		return tagHyperlink
	case "img", "image":
		return tagImage
	case "table":
		return tagTable
	case "tr", "row":
		return tagTableRow
	case "td", "cell":
		return tagTableCell
	case "ul", "ol", "list":
		return tagList
	case "li", "item", "list-item":
		return tagListItem
	case "p", "paragraph":
		return tagParagraph
	case "span", "inline":
		return tagInline
	default:
		return tagBlock
	}
}

func tagKindOf(n tree.Node) (tagKind, tree.QName) {
	name, ok := n.Name()
	if !ok {
		return tagBlock, tree.QName{}
	}
	return tagKindFor(name), name
}

func shallowAttrStrings(n tree.Node) map[string]string {
	attrs := n.Attributes()
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if name, ok := a.Name(); ok {
			out[name.Local] = a.StringValue()
		}
	}
	return out
}

// withStack guarantees end always runs after start, even when body
// fails: ir.TreeBuilder.StageRollback only truncates emitted children,
// it never pops the open-container stack, so a container left open by
// an erroring instruction would corrupt every Try/Catch rollback for
// the rest of the run.
func (e *Executor) withStack(start, end func(), body func() error) error {
	start()
	err := body()
	end()
	return err
}

// dispatchTag routes one tag occurrence (literal result element or a
// shallow-copied source element) to its IR shape. Hyperlink and Image
// have no Start/End pair in the builder contract, so their body runs
// first and the leaf marker is appended after it.
func (e *Executor) dispatchTag(kind tagKind, attrs, style map[string]string, body func() error) error {
	var styleVal ir.Style
	if style != nil {
		styleVal = style
	}
	switch kind {
	case tagHyperlink:
		if err := body(); err != nil {
			return err
		}
		e.out.Hyperlink(attrs["href"], styleVal)
		return nil
	case tagImage:
		if err := body(); err != nil {
			return err
		}
		e.out.Image(attrs["src"], styleVal)
		return nil
	case tagTable:
		columns, _ := strconv.Atoi(attrs["columns"])
		header := attrs["header"] == "true" || attrs["header"] == "1"
		return e.withStack(func() { e.out.StartTable(columns, header, styleVal) }, e.out.EndTable, body)
	case tagTableRow:
		return e.withStack(func() { e.out.StartTableRow(styleVal) }, e.out.EndTableRow, body)
	case tagTableCell:
		return e.withStack(func() { e.out.StartTableCell(styleVal) }, e.out.EndTableCell, body)
	case tagList:
		return e.withStack(func() { e.out.StartList(styleVal) }, e.out.EndList, body)
	case tagListItem:
		return e.withStack(func() { e.out.StartListItem(styleVal) }, e.out.EndListItem, body)
	case tagParagraph:
		return e.withStack(func() { e.out.StartParagraph(styleVal) }, e.out.EndParagraph, body)
	case tagInline:
		return e.withStack(func() { e.out.StartInline(styleVal) }, e.out.EndInline, body)
	default:
		return e.withStack(func() { e.out.StartBlock(styleVal) }, e.out.EndBlock, body)
	}
}

func (e *Executor) execTag(ctx execContext, name tree.QName, styleSrc map[string]instr.AVT, attrs []instr.Attr, body instr.Body) error {
	style, err := e.resolveStyle(ctx, styleSrc)
	if err != nil {
		return err
	}
	resolved, err := e.resolveAttrs(ctx, attrs)
	if err != nil {
		return err
	}
	return e.dispatchTag(tagKindFor(name), resolved, style, func() error {
		return e.execBody(ctx, body)
	})
}

func (e *Executor) execCopy(ctx execContext, v instr.Copy) error {
	node := ctx.xp.Item
	kind, _ := tagKindOf(node)
	attrs := shallowAttrStrings(node)
	style, err := e.resolveStyle(ctx, v.Style)
	if err != nil {
		return err
	}
	return e.dispatchTag(kind, attrs, style, func() error {
		return e.execBody(ctx, v.Body)
	})
}

func (e *Executor) execCopyOf(ctx execContext, v instr.CopyOf) error {
	val, err := xpath1.Eval(ctx.xp, v.Expr)
	if err != nil {
		return err
	}
	if val.Kind != xpath1.KindNodeSet {
		e.out.AddText(val.ToString())
		return nil
	}
	for _, n := range val.Nodes {
		if err := e.copyNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) copyNode(n tree.Node) error {
	switch n.Kind() {
	case tree.Text, tree.Comment, tree.ProcessingInstruction, tree.Attribute:
		e.out.AddText(n.StringValue())
		return nil
	default:
		kind, _ := tagKindOf(n)
		attrs := shallowAttrStrings(n)
		return e.dispatchTag(kind, attrs, nil, func() error {
			for _, c := range n.Children() {
				if err := e.copyNode(c); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

func (e *Executor) execForEach(ctx execContext, v instr.ForEach) error {
	nodes, err := e.selectNodes(ctx, v.Select)
	if err != nil {
		return err
	}
	items := make([]sortgroup.Item, len(nodes))
	for i, n := range nodes {
		items[i] = sortgroup.Item{Node: n, Index: i}
	}
	ctxFor := func(it sortgroup.Item, pos, size int) *xpath1.Context { return ctx.xp.WithItem(it.Node, pos, size) }
	if len(v.SortKeys) > 0 {
		items, err = sortgroup.Sort(items, v.SortKeys, ctxFor)
		if err != nil {
			return err
		}
	}
	n := len(items)
	for i, it := range items {
		sub := ctx
		sub.xp = ctx.xp.WithItem(it.Node, i+1, n).WithVars(xpath1.NewVarScope(ctx.xp.Vars))
		if err := e.execBody(sub, v.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execForEachGroup(ctx execContext, v instr.ForEachGroup) error {
	nodes, err := e.selectNodes(ctx, v.Select)
	if err != nil {
		return err
	}
	items := make([]sortgroup.Item, len(nodes))
	for i, n := range nodes {
		items[i] = sortgroup.Item{Node: n, Index: i}
	}
	ctxFor := func(it sortgroup.Item, pos, size int) *xpath1.Context { return ctx.xp.WithItem(it.Node, pos, size) }

	var groups []sortgroup.Group
	switch v.Kind {
	case instr.GroupBy:
		groups, err = sortgroup.GroupBy(items, v.GroupKey, ctxFor)
	case instr.GroupAdjacent:
		groups, err = sortgroup.GroupAdjacent(items, v.GroupKey, ctxFor)
	case instr.GroupStartingWith:
		groups = sortgroup.GroupStartingWith(items, v.GroupPattern, ctxFor)
	case instr.GroupEndingWith:
		groups = sortgroup.GroupEndingWith(items, v.GroupPattern, ctxFor)
	default:
		groups = []sortgroup.Group{{Members: items}}
	}
	if err != nil {
		return err
	}

	for _, g := range groups {
		if len(g.Members) == 0 {
			continue
		}
		members := g.Members
		if len(v.SortKeys) > 0 {
			members, err = sortgroup.Sort(members, v.SortKeys, ctxFor)
			if err != nil {
				return err
			}
		}
		groupNodes := make([]tree.Node, len(members))
		for i, m := range members {
			groupNodes[i] = m.Node
		}

		sub := ctx
		sub.xp = ctx.xp.WithItem(members[0].Node, 1, len(members)).WithVars(xpath1.NewVarScope(ctx.xp.Vars))
		sub.xp.Vars.Set(varCurrentGroup, xpath1.NodeSet(groupNodes))
		sub.xp.Vars.Set(varCurrentGroupingKey, xpath1.String(g.Key))
		if err := e.execBody(sub, v.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execTry(ctx execContext, v instr.Try) error {
	e.out.StageBegin()
	err := e.execBody(ctx, v.Body)
	if err == nil {
		e.out.StageCommit()
		return nil
	}
	if isControlSignal(err) {
		e.out.StageCommit()
		return err
	}
	if v.Rollback {
		e.out.StageRollback()
	} else {
		e.out.StageCommit()
	}
	code := classifyErrorCode(err)
	for _, c := range v.Catches {
		if matchesCatch(c.Codes, code) {
			return e.execBody(ctx, c.Body)
		}
	}
	return err
}

// classifyErrorCode extracts the leading "CODE:" token that the coded
// error kinds in package errors put at the start of their message (spec
// §7 taxonomy), so xsl:catch can match on it without string-matching
// the whole message. A message without such a token (ErrParse's
// "parse error: ...", for instance) yields "".
func classifyErrorCode(err error) string {
	msg := err.Error()
	i := strings.Index(msg, ":")
	if i <= 0 {
		return ""
	}
	code := msg[:i]
	for _, r := range code {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return ""
		}
	}
	return code
}

func matchesCatch(codes []string, code string) bool {
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if c == "*" || c == code {
			return true
		}
	}
	return false
}

func (e *Executor) execIterate(ctx execContext, v instr.IterateInstr) error {
	nodes, err := e.selectNodes(ctx, v.Select)
	if err != nil {
		return err
	}

	bindings := map[tree.QName]xpath1.Value{}
	for _, p := range v.Params {
		val, err := xpath1.Eval(ctx.xp, p.Select)
		if err != nil {
			return err
		}
		bindings[p.Name] = val
	}

	n := len(nodes)
	broke := false
	for i, node := range nodes {
		iter := &iterateState{}
		sub := ctx
		sub.xp = ctx.xp.WithItem(node, i+1, n).WithVars(xpath1.NewVarScope(ctx.xp.Vars))
		sub.iter = iter
		for name, val := range bindings {
			sub.xp.Vars.Set(name, val)
		}
		err := e.execBody(sub, v.Body)
		if err == errBreak {
			broke = true
			break
		}
		if err != nil && !isControlSignal(err) {
			return err
		}
		if iter.next != nil {
			for name, val := range iter.next {
				bindings[name] = val
			}
		}
	}
	if broke {
		return nil
	}
	final := ctx
	final.xp = ctx.xp.WithVars(xpath1.NewVarScope(ctx.xp.Vars))
	for name, val := range bindings {
		final.xp.Vars.Set(name, val)
	}
	return e.execBody(final, v.OnCompletion)
}

func (e *Executor) execNextIteration(ctx execContext, v instr.NextIteration) error {
	if ctx.iter == nil {
		return xerrors.FOER0000.New("xsl:next-iteration outside xsl:iterate")
	}
	next := map[tree.QName]xpath1.Value{}
	for _, p := range v.Params {
		val, err := e.evalVarBinding(ctx, p.Select, p.Body)
		if err != nil {
			return err
		}
		next[p.Name] = val
	}
	ctx.iter.next = next
	return errNextIterator
}

// execMap/execArray are a documented simplification (spec §9 Open
// Questions "higher-order-function simplifications"): the compiler
// pipeline only ever produces xpath1.Expr inside templates (see
// instr.MapInstr/ArrayInstr doc comments), and xpath1.Value has no
// map/array variant, so a true addressable XDM map or array cannot be
// constructed here. Entries are emitted sequentially instead, the way
// xsl:sequence would.
func (e *Executor) execMap(ctx execContext, v instr.MapInstr) error {
	for _, entry := range v.Entries {
		val, err := xpath1.Eval(ctx.xp, entry.Value)
		if err != nil {
			return err
		}
		e.out.AddText(val.ToString())
	}
	return nil
}

func (e *Executor) execArray(ctx execContext, v instr.ArrayInstr) error {
	for _, m := range v.Members {
		if m.Select != nil {
			val, err := xpath1.Eval(ctx.xp, m.Select)
			if err != nil {
				return err
			}
			e.out.AddText(val.ToString())
			continue
		}
		if err := e.execBody(ctx, m.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) compileRegex(pattern, flags string) (*regexp2.Regexp, error) {
	key := pattern + "\x00" + flags
	if re, ok := e.regexCache[key]; ok {
		return re, nil
	}
	opts := regexp2.None
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 's':
			opts |= regexp2.Singleline
		case 'm':
			opts |= regexp2.Multiline
		case 'x':
			opts |= regexp2.IgnorePatternWhitespace
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, xerrors.FORX0002.New(err.Error())
	}
	e.regexCache[key] = re
	return re, nil
}

// execAnalyzeString partitions Select's string value into matching and
// non-matching runs (spec §4.J "Analyze-string"). Zero-length boundary
// segments are omitted, matching the scenario in spec §8 where a
// single-character match leaves no empty text segment between runs.
func (e *Executor) execAnalyzeString(ctx execContext, v instr.AnalyzeString) error {
	val, err := xpath1.Eval(ctx.xp, v.Select)
	if err != nil {
		return err
	}
	subject := val.ToString()

	pat, err := e.renderAVT(ctx, v.Regex)
	if err != nil {
		return err
	}
	flags := ""
	if v.Flags != nil {
		flags, err = e.renderAVT(ctx, v.Flags)
		if err != nil {
			return err
		}
	}
	re, err := e.compileRegex(pat, flags)
	if err != nil {
		return err
	}

	pos := 0
	m, err := re.FindStringMatch(subject)
	if err != nil {
		return xerrors.FORX0002.New(err.Error())
	}
	for m != nil {
		start := m.Index
		if start > pos {
			if err := e.runAnalyzeSegment(ctx, v.NonMatching, subject[pos:start], nil); err != nil {
				return err
			}
		}
		matched := m.String()
		if len(matched) > 0 {
			if err := e.runAnalyzeSegment(ctx, v.Matching, matched, m.Groups()); err != nil {
				return err
			}
		}
		pos = start + len(matched)
		m, err = re.FindNextMatch(m)
		if err != nil {
			return xerrors.FORX0002.New(err.Error())
		}
	}
	if pos < len(subject) {
		if err := e.runAnalyzeSegment(ctx, v.NonMatching, subject[pos:], nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runAnalyzeSegment(ctx execContext, body instr.Body, segment string, groups []regexp2.Group) error {
	if len(body) == 0 {
		e.out.AddText(segment)
		return nil
	}
	node := newStringNode(segment)
	sub := ctx
	sub.xp = ctx.xp.WithItem(node, 1, 1).WithVars(xpath1.NewVarScope(ctx.xp.Vars))
	if groups != nil && len(groups) > 1 {
		groupNodes := make([]tree.Node, 0, len(groups)-1)
		for _, g := range groups[1:] {
			groupNodes = append(groupNodes, newStringNode(g.String()))
		}
		sub.xp.Vars.Set(varRegexGroups, xpath1.NodeSet(groupNodes))
	}
	return e.execBody(sub, body)
}

func (e *Executor) execAssert(ctx execContext, v instr.Assert) error {
	val, err := xpath1.Eval(ctx.xp, v.Test)
	if err != nil {
		return err
	}
	if val.ToBoolean() {
		return nil
	}
	msg, err := e.renderAVT(ctx, v.Message)
	if err != nil {
		return err
	}
	if v.Terminate {
		return xerrors.ErrAssertionFailed.New(v.Code, msg)
	}
	e.log.Warn(v.Code + ": " + msg)
	return nil
}

func (e *Executor) execMessage(ctx execContext, v instr.Message) error {
	val, err := xpath1.Eval(ctx.xp, v.Select)
	if err != nil {
		return err
	}
	text := val.ToString()
	if v.Terminate {
		return xerrors.XTMM9000.New(text)
	}
	e.log.Info(text)
	return nil
}

// execResultDocument is a documented simplification (spec §9): rather
// than opening a genuinely separate output destination, Href/Format
// are logged and Body is run into the same builder as the primary
// result, since ir.Builder exposes no multi-destination contract.
func (e *Executor) execResultDocument(ctx execContext, v instr.ResultDocument) error {
	href, err := e.renderAVT(ctx, v.Href)
	if err != nil {
		return err
	}
	e.log.WithField("href", href).WithField("format", v.Format).
		Debug("xsl:result-document routed to the primary output")
	return e.execBody(ctx, v.Body)
}

func (e *Executor) execNumber(ctx execContext, v instr.Number) error {
	node := ctx.xp.Item
	if v.Select != nil {
		val, err := xpath1.Eval(ctx.xp, v.Select)
		if err != nil {
			return err
		}
		nodes := val.ToNodeSet()
		if len(nodes) == 0 {
			return nil
		}
		node = nodes[0]
	}
	counters := countCounters(&ctx, v.Level, node, v.Count, v.From)
	format, err := e.renderAVT(ctx, v.Format)
	if err != nil {
		return err
	}
	e.out.AddText(formatCounters(counters, format))
	return nil
}

// runAccumulatorPhase evaluates, for each accumulator, the first
// before/after rule whose pattern matches node (spec §3.4/§4.J
// accumulators; later matching rules are not evaluated), updating
// that accumulator's current value. Rule expressions see their current
// value as $value, the one hidden binding exposed under its literal
// name since user-authored rule expressions must reference it by name.
func (e *Executor) runAccumulatorPhase(phase instr.AccumulatorPhase, node tree.Node, xp *xpath1.Context) error {
	varValue := tree.QName{Local: "value"}
	for name, acc := range e.ss.Accumulators {
		rules := acc.Before
		target := e.accumBefore
		if phase == instr.AccumulatorAfter {
			rules = acc.After
			target = e.accumAfter
		}
		for _, r := range rules {
			if !r.Match.Matches(xp, node) {
				continue
			}
			sub := xp.WithItem(node, 1, 1).WithVars(xpath1.NewVarScope(xp.Vars))
			sub.Vars.Set(varValue, target[name])
			val, err := xpath1.Eval(sub, r.Value)
			if err != nil {
				return err
			}
			target[name] = val
			break
		}
	}
	return nil
}
