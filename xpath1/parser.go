package xpath1

import (
	"fmt"

	"github.com/sigmundgranaas/petty/tree"

	xerrors "github.com/sigmundgranaas/petty/errors"
)

// Parser is a recursive-descent, combinator-style parser over a
// pre-scanned token stream (spec §4.B). Pre-scanning (rather than a
// streaming lexer) makes the lookahead the grammar's ambiguity rules
// need — "name followed by (", "name followed by ::" — a simple index
// peek instead of a pushback buffer.
type Parser struct {
	tokens []Token
	pos    int
	src    string
}

// ParseError carries the original expression text and a human-readable
// description of where parsing failed (spec §4.B failure mode).
type ParseError struct {
	Source  string
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	remainder := e.Source
	if e.Pos >= 0 && e.Pos < len(e.Source) {
		remainder = e.Source[e.Pos:]
	}
	return fmt.Sprintf("%s (at position %d, near %q)", e.Message, e.Pos, remainder)
}

func Parse(src string) (Expr, error) {
	p := NewParser(src)
	expr, err := p.ParseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind != TokEOF {
		return nil, p.errorf("unexpected trailing input")
	}
	return expr, nil
}

func NewParser(src string) *Parser {
	lex := NewLexer(src)
	var toks []Token
	for {
		t := lex.Next()
		toks = append(toks, t)
		if t.Kind == TokEOF {
			break
		}
	}
	return &Parser{tokens: toks, src: src}
}

// ParsePrefix parses as much of the input as forms one Expr and
// reports how many source bytes were consumed, letting a caller
// embedding XPath 1.0 syntax inside a larger grammar (xpath31's
// location-path fallback) resume its own tokenizer from that offset.
func (p *Parser) ParsePrefix() (Expr, int, error) {
	e, err := p.ParseExpr()
	if err != nil {
		return nil, 0, err
	}
	consumed := p.cur().Pos
	if p.cur().Kind == TokEOF {
		consumed = len(p.src)
	}
	return e, consumed, nil
}

func (p *Parser) cur() Token  { return p.tokens[p.pos] }
func (p *Parser) peek(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}
func (p *Parser) advance() Token { t := p.cur(); if p.pos < len(p.tokens)-1 { p.pos++ }; return t }

func (p *Parser) errorf(format string, args ...interface{}) error {
	return xerrors.ErrParse.Wrap(&ParseError{Source: p.src, Pos: p.cur().Pos, Message: fmt.Sprintf(format, args...)})
}

func (p *Parser) expect(k TokenKind, what string) (Token, error) {
	if p.cur().Kind != k {
		return Token{}, p.errorf("expected %s", what)
	}
	return p.advance(), nil
}

// ParseExpr parses a full XPath 1.0 Expr production (top of the
// precedence table: OrExpr).
func (p *Parser) ParseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokName && p.cur().Text == "or" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokName && p.cur().Text == "and" {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokEq || p.cur().Kind == TokNe {
		op := OpEq
		if p.cur().Kind == TokNe {
			op = OpNe
		}
		p.advance()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseRelational() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.cur().Kind {
		case TokLt:
			op = OpLt
		case TokLe:
			op = OpLe
		case TokGt:
			op = OpGt
		case TokGe:
			op = OpGe
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokPlus || p.cur().Kind == TokMinus {
		op := OpAdd
		if p.cur().Kind == TokMinus {
			op = OpSub
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch {
		case p.cur().Kind == TokStar:
			op = OpMul
		case p.cur().Kind == TokName && p.cur().Text == "div":
			op = OpDiv
		case p.cur().Kind == TokName && p.cur().Text == "mod":
			op = OpMod
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur().Kind == TokMinus {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryMinusExpr{X: x}, nil
	}
	return p.parseUnion()
}

func (p *Parser) parseUnion() (Expr, error) {
	left, err := p.parsePathExpr()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokPipe {
		p.advance()
		right, err := p.parsePathExpr()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpUnion, Left: left, Right: right}
	}
	return left, nil
}

// parsePathExpr resolves a LocationPath or a FilterExpr possibly
// continued with a relative path (spec §4.B location-path grammar).
func (p *Parser) parsePathExpr() (Expr, error) {
	if p.cur().Kind == TokDoubleSlash {
		p.advance()
		steps, err := p.parseRelativeSteps()
		if err != nil {
			return nil, err
		}
		steps = append([]Step{{Axis: DescendantOrSelf, Test: NodeTest{Kind: TestAnyNode}}}, steps...)
		return PathExpr{Absolute: true, Steps: steps}, nil
	}
	if p.cur().Kind == TokSlash {
		p.advance()
		if !startsStep(p.cur()) {
			return PathExpr{Absolute: true}, nil
		}
		steps, err := p.parseRelativeSteps()
		if err != nil {
			return nil, err
		}
		return PathExpr{Absolute: true, Steps: steps}, nil
	}
	if startsStep(p.cur()) {
		steps, err := p.parseRelativeSteps()
		if err != nil {
			return nil, err
		}
		return PathExpr{Steps: steps}, nil
	}
	// FilterExpr: primary expression, optionally with predicates and a
	// continuing relative path.
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	preds, err := p.parsePredicates()
	if err != nil {
		return nil, err
	}
	var root Expr = primary
	if len(preds) > 0 {
		root = FilterExpr{Primary: primary, Predicates: preds}
	}
	if p.cur().Kind == TokSlash || p.cur().Kind == TokDoubleSlash {
		descend := p.cur().Kind == TokDoubleSlash
		p.advance()
		steps, err := p.parseRelativeSteps()
		if err != nil {
			return nil, err
		}
		if descend {
			steps = append([]Step{{Axis: DescendantOrSelf, Test: NodeTest{Kind: TestAnyNode}}}, steps...)
		}
		return PathExpr{Root: root, Steps: steps}, nil
	}
	return root, nil
}

func startsStep(t Token) bool {
	switch t.Kind {
	case TokAt, TokDot, TokDoubleDot, TokStar:
		return true
	case TokName:
		return true
	default:
		return false
	}
}

func (p *Parser) parseRelativeSteps() ([]Step, error) {
	var steps []Step
	for {
		step, err := p.parseStep()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
		if p.cur().Kind == TokDoubleSlash {
			p.advance()
			steps = append(steps, Step{Axis: DescendantOrSelf, Test: NodeTest{Kind: TestAnyNode}})
			continue
		}
		if p.cur().Kind == TokSlash {
			p.advance()
			continue
		}
		break
	}
	return steps, nil
}

func (p *Parser) parseStep() (Step, error) {
	if p.cur().Kind == TokDot {
		p.advance()
		return Step{Axis: SelfAxis, Test: NodeTest{Kind: TestAnyNode}}, nil
	}
	if p.cur().Kind == TokDoubleDot {
		p.advance()
		return Step{Axis: Parent, Test: NodeTest{Kind: TestAnyNode}}, nil
	}
	axis := Child
	if p.cur().Kind == TokAt {
		p.advance()
		axis = AttributeAxis
	} else if p.cur().Kind == TokName && p.peek(1).Kind == TokDoubleColon {
		axisName := p.advance().Text
		p.advance() // ::
		a, err := axisFromName(axisName)
		if err != nil {
			return Step{}, p.errorf("%s", err.Error())
		}
		axis = a
	}
	test, err := p.parseNodeTest(axis)
	if err != nil {
		return Step{}, err
	}
	preds, err := p.parsePredicates()
	if err != nil {
		return Step{}, err
	}
	return Step{Axis: axis, Test: test, Predicates: preds}, nil
}

func axisFromName(name string) (Axis, error) {
	switch name {
	case "child":
		return Child, nil
	case "descendant":
		return Descendant, nil
	case "descendant-or-self":
		return DescendantOrSelf, nil
	case "parent":
		return Parent, nil
	case "ancestor":
		return Ancestor, nil
	case "ancestor-or-self":
		return AncestorOrSelf, nil
	case "self":
		return SelfAxis, nil
	case "attribute":
		return AttributeAxis, nil
	case "following-sibling":
		return FollowingSibling, nil
	case "preceding-sibling":
		return PrecedingSibling, nil
	case "following":
		return Following, nil
	case "preceding":
		return Preceding, nil
	default:
		return 0, fmt.Errorf("unknown axis %q", name)
	}
}

var nodeTypeNames = map[string]bool{
	"node": true, "text": true, "comment": true, "processing-instruction": true,
}

func (p *Parser) parseNodeTest(axis Axis) (NodeTest, error) {
	if p.cur().Kind == TokStar {
		p.advance()
		return NodeTest{Kind: TestWildcard}, nil
	}
	if p.cur().Kind == TokName && nodeTypeNames[p.cur().Text] && p.peek(1).Kind == TokLParen {
		name := p.advance().Text
		p.advance() // (
		var pitarg string
		if name == "processing-instruction" && p.cur().Kind == TokString {
			pitarg = p.advance().Text
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return NodeTest{}, err
		}
		switch name {
		case "node":
			return NodeTest{Kind: TestAnyNode}, nil
		case "text":
			return NodeTest{Kind: TestTextNode}, nil
		case "comment":
			return NodeTest{Kind: TestCommentNode}, nil
		case "processing-instruction":
			return NodeTest{Kind: TestPI, PITarg: pitarg}, nil
		}
	}
	if p.cur().Kind == TokName {
		name := p.advance().Text
		return NodeTest{Kind: TestName, Name: splitQName(name)}, nil
	}
	return NodeTest{}, p.errorf("expected a node test")
}

func splitQName(s string) tree.QName {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return tree.QName{Prefix: s[:i], Local: s[i+1:]}
		}
	}
	return tree.QName{Local: s}
}

func (p *Parser) parsePredicates() ([]Expr, error) {
	var preds []Expr
	for p.cur().Kind == TokLBracket {
		p.advance()
		e, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRBracket, "]"); err != nil {
			return nil, err
		}
		preds = append(preds, e)
	}
	return preds, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur().Kind {
	case TokVariable:
		name := p.advance().Text
		return VariableRef{Name: splitQName(name)}, nil
	case TokLParen:
		p.advance()
		e, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case TokString:
		return StringLit{Value: p.advance().Text}, nil
	case TokNumber:
		return parseNumberLit(p.advance().Text)
	case TokName:
		// A name immediately followed by "(" that is not a reserved
		// node-type test name is a function call (spec §4.B ambiguity
		// rule); otherwise it falls through to being a bare name used
		// nowhere in primary position (a parse error).
		if p.peek(1).Kind == TokLParen && !nodeTypeNames[p.cur().Text] {
			name := p.advance().Text
			p.advance() // (
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			return FunctionCall{Name: splitQName(name), Args: args}, nil
		}
		return nil, p.errorf("unexpected name %q in primary expression", p.cur().Text)
	default:
		return nil, p.errorf("unexpected token in primary expression")
	}
}

func (p *Parser) parseArgList() ([]Expr, error) {
	var args []Expr
	if p.cur().Kind == TokRParen {
		p.advance()
		return args, nil
	}
	for {
		e, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TokRParen, ")"); err != nil {
		return nil, err
	}
	return args, nil
}

func parseNumberLit(text string) (Expr, error) {
	var v float64
	_, err := fmt.Sscanf(text, "%g", &v)
	if err != nil {
		return nil, fmt.Errorf("invalid number literal %q", text)
	}
	return NumberLit{Value: v}, nil
}
