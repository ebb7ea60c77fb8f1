// Package instr defines the compiled instruction tree (spec §3.4): the
// tagged union of instruction kinds a template compiles down to, plus
// the compiled-stylesheet container (spec §3.5) both executors walk.
// Instructions reference parsed expressions, never source text, except
// match patterns, which carry a *pattern.Pattern compiled lazily at
// template-compile time (spec §3.4 "never source strings except for
// match patterns").
package instr

import (
	"github.com/sigmundgranaas/petty/pattern"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// Instr is the marker interface for every compiled instruction kind.
type Instr interface{ instrNode() }

// Body is a sequence of sibling instructions, the shape every
// container instruction (If/ForEach/Template/...) holds for its
// children (spec §3.4).
type Body []Instr

// AVTSegment is one piece of an attribute-value template or text-value
// template: either a literal run or a parsed expression to interpolate
// (spec §4.I "attribute-value-template", glossary "Text value
// template").
type AVTSegment struct {
	Literal string
	Expr    xpath1.Expr // nil when this segment is the literal run
}

// AVT is an attribute value containing "{...}" segments (spec §4.I
// step 3, glossary "Attribute value template").
type AVT []AVTSegment

// Static reports whether the AVT has no expression segments, so the
// executor can skip per-activation evaluation for plain attributes.
func (a AVT) Static() bool {
	for _, seg := range a {
		if seg.Expr != nil {
			return false
		}
	}
	return true
}

// StaticString returns the literal concatenation of a Static AVT.
func (a AVT) StaticString() string {
	out := ""
	for _, seg := range a {
		out += seg.Literal
	}
	return out
}

// Text is a literal string instruction (spec §3.4).
type Text struct{ Value string }

// TextValueTemplate is character data with expand-text enabled:
// alternating static/expression segments (spec §3.4, §4.I "Text value
// templates").
type TextValueTemplate struct{ Segments AVT }

// Attr is one resolved, non-style attribute on a literal result
// element, its value an attribute-value template.
type Attr struct {
	Name  tree.QName
	Value AVT
}

// ContentTag is a literal result element with a body (spec §3.4).
type ContentTag struct {
	Name       tree.QName
	Style      map[string]AVT // style-bearing attributes, resolved through the style utility (out of scope: opaque key/AVT pairs)
	Attrs      []Attr
	Body       Body
	ExpandText bool
}

// EmptyTag is a literal result element known at compile time to have
// no body (spec §3.4).
type EmptyTag struct {
	Name  tree.QName
	Style map[string]AVT
	Attrs []Attr
}

// ValueOf emits the string value of Expr, joining multiple items with
// an optional separator AVT (spec §3.4).
type ValueOf struct {
	Expr      xpath1.Expr
	Separator AVT // nil means the default single space
}

// CopyOf emits a deep copy of every node Expr selects (spec §3.4,
// §4.J "Copy vs CopyOf").
type CopyOf struct{ Expr xpath1.Expr }

// Copy emits a shallow copy of the context node, then runs Body in a
// context still rooted at the original node (spec §4.J).
type Copy struct {
	Style map[string]AVT
	Body  Body
}

// Sequence emits the items Expr selects without copying semantics,
// used where a construct needs a bare selection result without the
// structural copy Copy/CopyOf perform.
type Sequence struct{ Expr xpath1.Expr }

// If is a single conditional (spec §3.4).
type If struct {
	Test xpath1.Expr
	Then Body
}

// When is one branch of Choose.
type When struct {
	Test xpath1.Expr
	Body Body
}

// Choose is "when+, otherwise?" (spec §3.4).
type Choose struct {
	Whens     []When
	Otherwise Body // nil if absent
}

// SortKey is one sort specification evaluated lazily per item (spec
// §4.J "Sort keys").
type SortKey struct {
	Expr       xpath1.Expr
	Descending bool
	DataType   SortDataType
	Lang       string
	CaseOrder  CaseOrder
}

type SortDataType int

const (
	SortText SortDataType = iota
	SortNumber
)

type CaseOrder int

const (
	CaseOrderDefault CaseOrder = iota
	UpperFirst
	LowerFirst
)

// GroupKind selects one of for-each-group's four grouping policies
// (spec §4.J "For-each-group").
type GroupKind int

const (
	GroupNone GroupKind = iota
	GroupBy
	GroupAdjacent
	GroupStartingWith
	GroupEndingWith
)

// ForEach iterates Select in document order (or sort-key order when
// SortKeys is non-empty), running Body once per item (spec §3.4).
type ForEach struct {
	Select   xpath1.Expr
	SortKeys []SortKey
	Body     Body
}

// ForEachGroup implements the four for-each-group policies (spec
// §3.4, §4.J). GroupKey is used by GroupBy/GroupAdjacent; GroupPattern
// by GroupStartingWith/GroupEndingWith.
type ForEachGroup struct {
	Select       xpath1.Expr
	Kind         GroupKind
	GroupKey     xpath1.Expr
	GroupPattern *pattern.Pattern
	SortKeys     []SortKey
	Body         Body
}

// WithParam is one with-param passed to ApplyTemplates/CallTemplate.
type WithParam struct {
	Name   tree.QName
	Select xpath1.Expr
	Body   Body
	Tunnel bool
}

// ApplyTemplates dispatches template rules over Select (default:
// children of context) in the given Mode (spec §3.4, §4.J "Template
// dispatch").
type ApplyTemplates struct {
	Select     xpath1.Expr // nil selects children of the context node
	Mode       string
	SortKeys   []SortKey
	WithParams []WithParam
}

// CallTemplate invokes a named template by name (spec §3.4, §4.J).
type CallTemplate struct {
	Name       string
	WithParams []WithParam
}

// NextMatch resumes dispatch at the next lower-priority rule for the
// current node/mode (spec §3.4, §4.J).
type NextMatch struct{ WithParams []WithParam }

// ApplyImports is NextMatch restricted to imported rules (spec §3.4).
type ApplyImports struct{ WithParams []WithParam }

// Variable introduces a binding visible to subsequent siblings and
// their descendants (spec §3.4, §4.J "Variable scoping"). Exactly one
// of Select/Body supplies the value; Body is used when there is no
// select attribute (the variable's value is the string content the body
// produces).
type Variable struct {
	Name   tree.QName
	Select xpath1.Expr
	Body   Body
}

// Param is like Variable but accepts a caller-supplied binding first,
// falling back to Select/Body as a default (spec §3.4, §4.J).
// Required params have no default; tunnel params pass through
// intermediate CallTemplate/ApplyTemplates invocations undeclared.
type Param struct {
	Name     tree.QName
	Select   xpath1.Expr
	Body     Body
	Required bool
	Tunnel   bool
}

// Catch is one handler in a Try (spec §3.4, §4.J "Try/catch"). Codes
// containing "*" match any error.
type Catch struct {
	Codes []string
	Body  Body
}

// Try surrounds Body; on a non-fatal error it tries each Catch in
// order (spec §3.4, §4.J). Rollback discards any output the failed
// body staged.
type Try struct {
	Body     Body
	Catches  []Catch
	Rollback bool
}

// IterateParam is one mutable binding carried across Iterate's loop
// body (spec §3.4, §4.J "Iterate").
type IterateParam struct {
	Name   tree.QName
	Select xpath1.Expr
}

// IterateInstr is an imperative sequence loop (spec §3.4, §4.J).
type IterateInstr struct {
	Select       xpath1.Expr
	Params       []IterateParam
	Body         Body
	OnCompletion Body
}

// NextIteration sets the next loop iteration's param bindings (spec
// §3.4).
type NextIteration struct {
	Params []WithParam
}

// Break terminates an enclosing Iterate early (spec §3.4).
type Break struct{}

// MapEntryInstr is one key/value pair of a Map instruction.
type MapEntryInstr struct {
	Key   xpath1.Expr
	Value xpath1.Expr
}

// MapInstr holds an xsl:map's entries (spec §3.4). Every expression in
// a compiled template is an xpath1.Expr, and xpath1.Value has no map
// variant, so the executor emits each entry's value as content in order
// and builds no addressable XDM map (see exec.execMap).
type MapInstr struct{ Entries []MapEntryInstr }

// ArrayMember is one member of a constructed Array instruction, via
// either a select expression or a body whose output becomes the
// member's sequence.
type ArrayMember struct {
	Select xpath1.Expr
	Body   Body
}

// ArrayInstr holds an xsl:array's members (spec §3.4). As with
// MapInstr, the executor emits each member as content in order and
// builds no addressable XDM array.
type ArrayInstr struct{ Members []ArrayMember }

// AnalyzeString partitions Select's string value into segments
// matching/not matching Regex (spec §3.4, §4.J "Analyze-string").
type AnalyzeString struct {
	Select      xpath1.Expr
	Regex       AVT
	Flags       AVT
	Matching    Body
	NonMatching Body
}

// Assert raises an error with Code if Test is false (spec §3.4, §7.5).
type Assert struct {
	Test      xpath1.Expr
	Code      string
	Message   AVT
	Terminate bool
}

// Message emits a diagnostic, optionally terminating the run (spec
// §3.4, §7.5 "xsl:message terminate=yes").
type Message struct {
	Select    xpath1.Expr
	Terminate bool
}

// AccumulatorPhase selects one of an accumulator rule's two activation
// points in streaming mode (spec §3.4, §4.K).
type AccumulatorPhase int

const (
	AccumulatorBefore AccumulatorPhase = iota
	AccumulatorAfter
)

// AccumulatorRef looks up an accumulator's current value by name
// (spec §3.4).
type AccumulatorRef struct {
	Name  string
	Phase AccumulatorPhase
}

// ResultDocument carries an xsl:result-document's Href, Format and Body
// (spec §3.4). The executor logs Href/Format and runs Body into the
// primary output; no secondary destination is opened.
type ResultDocument struct {
	Format string
	Href   AVT
	Body   Body
}

// NumberLevel selects one of Number's three counting strategies (spec
// §3.4, §4.J "Number").
type NumberLevel int

const (
	LevelSingle NumberLevel = iota
	LevelMultiple
	LevelAny
)

// Number implements xsl:number (spec §3.4, §4.J).
type Number struct {
	Level  NumberLevel
	Count  *pattern.Pattern
	From   *pattern.Pattern
	Format AVT
	Select xpath1.Expr // nil means the context node
}

func (Text) instrNode()              {}
func (TextValueTemplate) instrNode() {}
func (ContentTag) instrNode()        {}
func (EmptyTag) instrNode()          {}
func (ValueOf) instrNode()           {}
func (CopyOf) instrNode()            {}
func (Copy) instrNode()              {}
func (Sequence) instrNode()          {}
func (If) instrNode()                {}
func (Choose) instrNode()            {}
func (ForEach) instrNode()           {}
func (ForEachGroup) instrNode()      {}
func (ApplyTemplates) instrNode()    {}
func (CallTemplate) instrNode()      {}
func (NextMatch) instrNode()         {}
func (ApplyImports) instrNode()      {}
func (Variable) instrNode()          {}
func (Param) instrNode()             {}
func (Try) instrNode()               {}
func (IterateInstr) instrNode()      {}
func (NextIteration) instrNode()     {}
func (Break) instrNode()             {}
func (MapInstr) instrNode()          {}
func (ArrayInstr) instrNode()        {}
func (AnalyzeString) instrNode()     {}
func (Assert) instrNode()            {}
func (Message) instrNode()           {}
func (AccumulatorRef) instrNode()    {}
func (ResultDocument) instrNode()    {}
func (Number) instrNode()            {}

// Template is a compiled template rule: a pattern, the mode(s) it is
// registered under, priority, and a body (spec §3.4/§3.5).
type Template struct {
	Name     string // compile-time identity for NextMatch/import-precedence tie-breaks
	Match    *pattern.Pattern
	Modes    []string
	Priority float64
	Explicit bool // true when an explicit priority attribute was given
	Params   []Param
	Body     Body
	Imported bool // lower-priority import-added rule (spec §4.I "Imports and includes")
}

// NamedTemplate is a template invoked by name via CallTemplate (spec
// §3.5 "named templates by name").
type NamedTemplate struct {
	Name   string
	Params []Param
	Body   Body
}

// StyleFunction is a stylesheet-declared function callable from
// expressions by (name, arity) (spec §3.5 "stylesheet functions by
// (name,arity)").
type StyleFunction struct {
	Name   tree.QName
	Params []Param
	Body   Body
}

// Key is a compiled <key> declaration: match selects the nodes to
// index, use computes the indexed value per node (spec §3.5 "keys").
type Key struct {
	Name  string
	Match *pattern.Pattern
	Use   xpath1.Expr
}

// Accumulator is a streaming-era stateful value updated by
// pattern-triggered rules (spec §3.4/§3.5, glossary "Accumulator").
type Accumulator struct {
	Name    string
	Initial xpath1.Expr
	Before  []AccumulatorRule
	After   []AccumulatorRule
}

// AccumulatorRule is one pattern-guarded update rule within an
// accumulator.
type AccumulatorRule struct {
	Match *pattern.Pattern
	Value xpath1.Expr
}

// OnNoMatch selects the built-in template-rule behavior applied when
// ApplyTemplates finds no matching rule for a node (spec §4.J
// "built-in rules").
type OnNoMatch int

const (
	DeepSkip OnNoMatch = iota
	TextOnlyCopy
	ShallowCopy
	FailOnNoMatch
)

// OnMultipleMatch is a mode's tie-break policy among equal-priority
// rules (spec §4.M "Tie-break").
type OnMultipleMatch int

const (
	UseLast OnMultipleMatch = iota
	FailOnMultipleMatch
)

// Mode is one dispatch table: templates sorted by descending priority
// (spec §3.5, §9 "Mode tables ... sorted by descending priority").
type Mode struct {
	Name            string
	Templates       []*Template
	OnNoMatch       OnNoMatch
	OnMultipleMatch OnMultipleMatch
}

// Stylesheet is the compiled, read-only-after-compile unit both
// executors interpret (spec §3.5).
type Stylesheet struct {
	Modes          map[string]*Mode
	NamedTemplates map[string]*NamedTemplate
	Functions      map[functionKey]*StyleFunction
	Keys           map[string]*Key
	AttributeSets  map[string][]Attr
	Accumulators   map[string]*Accumulator
	GlobalVars     []Variable
	GlobalParams   []Param
	InitialMode    string
	Streamable     bool // neither compile nor either executor sets or reads this flag
}

type functionKey struct {
	Name  tree.QName
	Arity int
}

func FunctionKey(name tree.QName, arity int) functionKey {
	return functionKey{Name: name, Arity: arity}
}

func NewStylesheet() *Stylesheet {
	return &Stylesheet{
		Modes:          make(map[string]*Mode),
		NamedTemplates: make(map[string]*NamedTemplate),
		Functions:      make(map[functionKey]*StyleFunction),
		Keys:           make(map[string]*Key),
		AttributeSets:  make(map[string][]Attr),
		Accumulators:   make(map[string]*Accumulator),
	}
}

// ModeFor returns the named mode's table, creating it (with default
// policies) on first use.
func (s *Stylesheet) ModeFor(name string) *Mode {
	m, ok := s.Modes[name]
	if !ok {
		m = &Mode{Name: name, OnNoMatch: DeepSkip, OnMultipleMatch: UseLast}
		s.Modes[name] = m
	}
	return m
}

// AddTemplate registers t under each of its declared modes, keeping
// each mode's Templates slice sorted by descending priority (spec §9).
func (s *Stylesheet) AddTemplate(t *Template) {
	modes := t.Modes
	if len(modes) == 0 {
		modes = []string{"#default"}
	}
	for _, name := range modes {
		m := s.ModeFor(name)
		m.Templates = append(m.Templates, t)
	}
	for _, name := range modes {
		m := s.Modes[name]
		insertionSortTemplates(m.Templates)
	}
}

func insertionSortTemplates(ts []*Template) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j-1].Priority < ts[j].Priority; j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}
