package xpath31

import (
	"fmt"
	"strconv"

	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// Parser implements the precedence chain of spec §4.E:
//
//	for/let/if/quantified -> or -> and -> comparison -> "||" -> "to" ->
//	+/- -> "*"/"div"/"idiv"/"mod" -> union/intersect/except ->
//	instance-of -> treat-as -> castable-as -> cast-as -> unary +/- ->
//	arrow "=>" -> simple-map "!" -> postfix -> primary
//
// The location-path/literal/core-operator subset is identical to
// XPath 1.0's grammar, so parsePrimary falls back to xpath1.NewParser
// whenever it finds itself looking at a location-path production that
// isn't more naturally a 3.1 production (map/array constructors,
// inline functions, etc).
type Parser struct {
	toks []Token
	pos  int
	src  string
}

type ParseError struct {
	Pos     int
	Message string
}

func (e *ParseError) Error() string { return fmt.Sprintf("xpath31: %s (at %d)", e.Message, e.Pos) }

func Parse(src string) (Expr, error) {
	p := NewParser(src)
	e, err := p.ParseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind != TEOF {
		return nil, &ParseError{Pos: p.cur().Pos, Message: "unexpected trailing input: " + p.cur().Text}
	}
	return e, nil
}

func NewParser(src string) *Parser {
	lx := NewLexer(src)
	var toks []Token
	for {
		t := lx.Next()
		toks = append(toks, t)
		if t.Kind == TEOF {
			break
		}
	}
	return &Parser{toks: toks, src: src}
}

func (p *Parser) cur() Token { return p.toks[p.pos] }
func (p *Parser) peek(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *Parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(format string, a ...interface{}) error {
	return &ParseError{Pos: p.cur().Pos, Message: fmt.Sprintf(format, a...)}
}

func (p *Parser) expect(k TokenKind, what string) (Token, error) {
	if p.cur().Kind != k {
		return Token{}, p.errorf("expected %s, got %q", what, p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) isKeyword(word string) bool {
	return p.cur().Kind == TName && p.cur().Text == word
}

// ParseExpr is the entry point: a comma-separated sequence of
// single-exprs. A lone expression is returned as is; two or more are
// collected into a dedicated CommaExpr, whose items the evaluator
// concatenates.
func (p *Parser) ParseExpr() (Expr, error) {
	first, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind != TComma {
		return first, nil
	}
	items := []Expr{first}
	for p.cur().Kind == TComma {
		p.advance()
		e, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return CommaExpr{Items: items}, nil
}

// parseSingle parses one ExprSingle production (spec grammar: the
// for/let/if/quantified forms bind more loosely than everything else
// and consume through to the end of the enclosing expression).
func (p *Parser) parseSingle() (Expr, error) {
	switch {
	case p.isKeyword("for"), p.isKeyword("let"):
		return p.parseForLet()
	case p.isKeyword("if"):
		return p.parseIf()
	case p.isKeyword("some"), p.isKeyword("every"):
		return p.parseQuantified()
	default:
		return p.parseOr()
	}
}

func (p *Parser) parseForLet() (Expr, error) {
	var bindings []Binding
	for p.isKeyword("for") || p.isKeyword("let") {
		isFor := p.isKeyword("for")
		p.advance()
		for {
			v, err := p.expect(TVariable, "variable")
			if err != nil {
				return nil, err
			}
			name := qnameFromName(v.Text)
			if isFor {
				if !p.isKeyword("in") {
					return nil, p.errorf("expected 'in' in for-binding")
				}
			} else {
				if p.cur().Kind != TAssign {
					return nil, p.errorf("expected ':=' in let-binding")
				}
			}
			p.advance()
			e, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, Binding{Name: name, Expr: e, IsFor: isFor})
			if p.cur().Kind == TComma {
				p.advance()
				continue
			}
			break
		}
	}
	if !p.isKeyword("return") {
		return nil, p.errorf("expected 'return'")
	}
	p.advance()
	ret, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	return ForLetExpr{Bindings: bindings, Return: ret}, nil
}

func (p *Parser) parseIf() (Expr, error) {
	p.advance()
	if _, err := p.expect(TLParen, "("); err != nil {
		return nil, err
	}
	cond, err := p.ParseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TRParen, ")"); err != nil {
		return nil, err
	}
	if !p.isKeyword("then") {
		return nil, p.errorf("expected 'then'")
	}
	p.advance()
	then, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("else") {
		return nil, p.errorf("expected 'else'")
	}
	p.advance()
	els, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	return IfExpr{Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) parseQuantified() (Expr, error) {
	kind := QuantSome
	if p.isKeyword("every") {
		kind = QuantEvery
	}
	p.advance()
	var bindings []Binding
	for {
		v, err := p.expect(TVariable, "variable")
		if err != nil {
			return nil, err
		}
		if !p.isKeyword("in") {
			return nil, p.errorf("expected 'in'")
		}
		p.advance()
		e, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, Binding{Name: qnameFromName(v.Text), Expr: e, IsFor: true})
		if p.cur().Kind == TComma {
			p.advance()
			continue
		}
		break
	}
	if !p.isKeyword("satisfies") {
		return nil, p.errorf("expected 'satisfies'")
	}
	p.advance()
	test, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	return QuantifiedExpr{Kind: kind, Bindings: bindings, Test: test}, nil
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = LogicExpr{Op: LOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = LogicExpr{Op: LAnd, Left: left, Right: right}
	}
	return left, nil
}

var valueCmpOps = map[string]CmpOp{"eq": CmpValEq, "ne": CmpValNe, "lt": CmpValLt, "le": CmpValLe, "gt": CmpValGt, "ge": CmpValGe}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	if op, ok := valueCmpOps[p.cur().Text]; ok && p.cur().Kind == TName {
		p.advance()
		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		return CompareExpr{Op: op, Left: left, Right: right}, nil
	}
	var op CmpOp
	have := true
	switch p.cur().Kind {
	case TEq:
		op = CmpEq
	case TNe:
		op = CmpNe
	case TLt:
		op = CmpLt
	case TLe:
		op = CmpLe
	case TGt:
		op = CmpGt
	case TGe:
		op = CmpGe
	default:
		have = false
	}
	if !have {
		return left, nil
	}
	p.advance()
	right, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	return CompareExpr{Op: op, Left: left, Right: right}, nil
}

func (p *Parser) parseConcat() (Expr, error) {
	left, err := p.parseRange()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TConcat {
		p.advance()
		right, err := p.parseRange()
		if err != nil {
			return nil, err
		}
		left = StringConcatExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseRange() (Expr, error) {
	low, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("to") {
		p.advance()
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return RangeExpr{Low: low, High: high}, nil
	}
	return low, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TPlus || p.cur().Kind == TMinus {
		op := ArAdd
		if p.cur().Kind == TMinus {
			op = ArSub
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ArithExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	for {
		var op ArithOp
		switch {
		case p.cur().Kind == TStar:
			op = ArMul
		case p.isKeyword("div"):
			op = ArDiv
		case p.isKeyword("idiv"):
			op = ArIDiv
		case p.isKeyword("mod"):
			op = ArMod
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		left = ArithExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnion() (Expr, error) {
	left, err := p.parseInstanceOf()
	if err != nil {
		return nil, err
	}
	for {
		var op UnionOp
		switch {
		case p.cur().Kind == TPipe, p.isKeyword("union"):
			op = SetUnion
		case p.isKeyword("intersect"):
			op = SetIntersect
		case p.isKeyword("except"):
			op = SetExcept
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseInstanceOf()
		if err != nil {
			return nil, err
		}
		left = SetExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseInstanceOf() (Expr, error) {
	left, err := p.parseTreatAs()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("instance") {
		p.advance()
		if !p.isKeyword("of") {
			return nil, p.errorf("expected 'of'")
		}
		p.advance()
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		return InstanceOfExpr{X: left, Type: st}, nil
	}
	return left, nil
}

func (p *Parser) parseTreatAs() (Expr, error) {
	left, err := p.parseCastableAs()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("treat") {
		p.advance()
		if !p.isKeyword("as") {
			return nil, p.errorf("expected 'as'")
		}
		p.advance()
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		return TreatAsExpr{X: left, Type: st}, nil
	}
	return left, nil
}

func (p *Parser) parseCastableAs() (Expr, error) {
	left, err := p.parseCastAs()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("castable") {
		p.advance()
		if !p.isKeyword("as") {
			return nil, p.errorf("expected 'as'")
		}
		p.advance()
		name, opt, err := p.parseAtomicTypeName()
		if err != nil {
			return nil, err
		}
		return CastExpr{Kind: CastableAs, X: left, Target: name, Optional: opt}, nil
	}
	return left, nil
}

func (p *Parser) parseCastAs() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("cast") {
		p.advance()
		if !p.isKeyword("as") {
			return nil, p.errorf("expected 'as'")
		}
		p.advance()
		name, opt, err := p.parseAtomicTypeName()
		if err != nil {
			return nil, err
		}
		return CastExpr{Kind: CastAs, X: left, Target: name, Optional: opt}, nil
	}
	return left, nil
}

func (p *Parser) parseAtomicTypeName() (string, bool, error) {
	name, err := p.expect(TName, "type name")
	if err != nil {
		return "", false, err
	}
	opt := false
	if p.cur().Kind == TQuestion {
		p.advance()
		opt = true
	}
	return name.Text, opt, nil
}

func (p *Parser) parseSequenceType() (SequenceType, error) {
	if p.isKeyword("empty-sequence") {
		p.advance()
		if _, err := p.expect(TLParen, "("); err != nil {
			return SequenceType{}, err
		}
		if _, err := p.expect(TRParen, ")"); err != nil {
			return SequenceType{}, err
		}
		return SequenceType{ItemTypeName: "empty-sequence()"}, nil
	}
	name, err := p.expect(TName, "item type")
	if err != nil {
		return SequenceType{}, err
	}
	typeName := name.Text
	if p.cur().Kind == TLParen {
		depth := 0
		for {
			if p.cur().Kind == TLParen {
				depth++
			} else if p.cur().Kind == TRParen {
				depth--
			}
			typeName += p.cur().Text
			p.advance()
			if depth == 0 {
				break
			}
			if p.cur().Kind == TEOF {
				return SequenceType{}, p.errorf("unterminated type expression")
			}
		}
	}
	var occ byte
	switch p.cur().Kind {
	case TQuestion:
		occ = '?'
		p.advance()
	case TStar:
		occ = '*'
		p.advance()
	case TPlus:
		occ = '+'
		p.advance()
	}
	return SequenceType{ItemTypeName: typeName, Occurrence: occ}, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur().Kind == TMinus {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: UMinus, X: x}, nil
	}
	if p.cur().Kind == TPlus {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: UPlus, X: x}, nil
	}
	return p.parseArrow()
}

func (p *Parser) parseArrow() (Expr, error) {
	left, err := p.parseSimpleMap()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TArrow {
		p.advance()
		target, err := p.parseArrowTarget()
		if err != nil {
			return nil, err
		}
		left = ArrowExpr{Base: left, Target: target}
	}
	return left, nil
}

func (p *Parser) parseArrowTarget() (Expr, error) {
	name, err := p.expect(TName, "function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TLParen, "("); err != nil {
		return nil, err
	}
	args, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	return FunctionCallExpr{Name: qnameFromName(name.Text), Args: args}, nil
}

func (p *Parser) parseSimpleMap() (Expr, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TBang {
		p.advance()
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		left = SimpleMapExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case TQuestion:
			p.advance()
			lk, key, idx, kexpr, err := p.parseLookupSuffix()
			if err != nil {
				return nil, err
			}
			e = PostfixLookupExpr{Base: e, Kind: lk, Key: key, Int: idx, Expr: kexpr}
		case TLParen:
			p.advance()
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			e = DynamicCallExpr{Callee: e, Args: args}
		case TLBracket:
			p.advance()
			pred, err := p.ParseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TRBracket, "]"); err != nil {
				return nil, err
			}
			e = PostfixLookupExpr{Base: e, Kind: LookupExpr1, Expr: pred}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parseLookupSuffix() (LookupKind, string, *int, Expr, error) {
	switch {
	case p.cur().Kind == TStar:
		p.advance()
		return LookupWildcard, "", nil, nil, nil
	case p.cur().Kind == TLParen:
		p.advance()
		e, err := p.ParseExpr()
		if err != nil {
			return 0, "", nil, nil, err
		}
		if _, err := p.expect(TRParen, ")"); err != nil {
			return 0, "", nil, nil, err
		}
		return LookupExpr1, "", nil, e, nil
	case p.cur().Kind == TNumber:
		n := p.advance().Text
		iv, err := strconv.Atoi(n)
		if err != nil {
			return 0, "", nil, nil, p.errorf("invalid lookup index %q", n)
		}
		return LookupKey, "", &iv, nil, nil
	case p.cur().Kind == TName:
		name := p.advance().Text
		return LookupKey, name, nil, nil, nil
	default:
		return 0, "", nil, nil, p.errorf("expected lookup key after '?'")
	}
}

func (p *Parser) parseArgList() ([]Expr, error) {
	var args []Expr
	if p.cur().Kind == TRParen {
		p.advance()
		return args, nil
	}
	for {
		if p.cur().Kind == TQuestion && (p.peek(1).Kind == TComma || p.peek(1).Kind == TRParen) {
			p.advance()
			args = append(args, Placeholder{})
		} else {
			e, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
		}
		if p.cur().Kind == TComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TRParen, ")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch {
	case tok.Kind == TString:
		p.advance()
		return StringLit{Value: tok.Text}, nil
	case tok.Kind == TNumber:
		p.advance()
		f, _ := strconv.ParseFloat(tok.Text, 64)
		return NumberLit{Value: f}, nil
	case tok.Kind == TVariable:
		p.advance()
		return VariableRefExpr{Name: qnameFromName(tok.Text)}, nil
	case tok.Kind == TLParen:
		p.advance()
		if p.cur().Kind == TRParen {
			p.advance()
			return CommaExpr{}, nil
		}
		e, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TRParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case tok.Kind == TQuestion:
		p.advance()
		return Placeholder{}, nil
	case p.isKeyword("map") && p.peek(1).Kind == TLBrace:
		return p.parseMapConstructor()
	case p.isKeyword("array") && (p.peek(1).Kind == TLBrace || p.peek(1).Kind == TLBracket):
		return p.parseArrayConstructor()
	case tok.Kind == TLBracket:
		return p.parseArrayConstructor()
	case p.isKeyword("function") && p.peek(1).Kind == TLParen:
		return p.parseInlineFunction()
	case tok.Kind == TName && p.peek(1).Kind == THash:
		p.advance()
		p.advance()
		arity, err := p.expect(TNumber, "arity")
		if err != nil {
			return nil, err
		}
		n, _ := strconv.Atoi(arity.Text)
		return NamedFunctionRefExpr{Name: qnameFromName(tok.Text), Arity: n}, nil
	case tok.Kind == TName && p.peek(1).Kind == TLParen && !isAxisName(tok.Text) && !isNodeTestFuncName(tok.Text):
		p.advance()
		p.advance()
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return FunctionCallExpr{Name: qnameFromName(tok.Text), Args: args}, nil
	default:
		return p.parseLegacyPath()
	}
}

// parseLegacyPath hands the remaining input, starting at a location
// step / axis / node-test production, to xpath1's parser. We do this
// by re-slicing the original source text from the current token's
// start offset and letting xpath1.NewParser consume as much as forms
// a valid path expression; xpath31's own tokenizer then resumes after
// the consumed span by re-lexing from the byte offset xpath1 stopped
// at. This boundary is approximate for expressions mixing legacy path
// steps with 3.1 postfix/arrow syntax in the same primary, which in
// practice (per spec §4.E) only binds loosely through predicates that
// our parsePostfix already mirrors.
func (p *Parser) parseLegacyPath() (Expr, error) {
	startTok := p.cur()
	remainder := p.src[startTok.Pos:]
	lp := xpath1.NewParser(remainder)
	e, consumed, err := lp.ParsePrefix()
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	newAbsPos := startTok.Pos + consumed
	p.resyncTo(newAbsPos)
	return Legacy{X: e}, nil
}

// resyncTo advances the 3.1 token stream past the byte offset xpath1
// consumed, by re-tokenizing from there. The token list is replaced
// in place from the current position onward.
func (p *Parser) resyncTo(byteOffset int) {
	lx := NewLexer(p.src[byteOffset:])
	var rest []Token
	for {
		t := lx.Next()
		t.Pos += byteOffset
		rest = append(rest, t)
		if t.Kind == TEOF {
			break
		}
	}
	p.toks = append(p.toks[:p.pos], rest...)
}

func (p *Parser) parseMapConstructor() (Expr, error) {
	p.advance()
	p.advance()
	var entries []MapEntry
	if p.cur().Kind != TRBrace {
		for {
			k, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TColon, ":"); err != nil {
				return nil, err
			}
			v, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			entries = append(entries, MapEntry{Key: k, Value: v})
			if p.cur().Kind == TComma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(TRBrace, "}"); err != nil {
		return nil, err
	}
	return MapConstructorExpr{Entries: entries}, nil
}

func (p *Parser) parseArrayConstructor() (Expr, error) {
	if p.isKeyword("array") {
		p.advance()
	}
	if p.cur().Kind == TLBrace {
		p.advance()
		if p.cur().Kind == TRBrace {
			p.advance()
			return ArrayConstructorExpr{Curly: CommaExpr{}}, nil
		}
		e, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TRBrace, "}"); err != nil {
			return nil, err
		}
		return ArrayConstructorExpr{Curly: e}, nil
	}
	if _, err := p.expect(TLBracket, "["); err != nil {
		return nil, err
	}
	var members []Expr
	if p.cur().Kind != TRBracket {
		for {
			e, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			members = append(members, e)
			if p.cur().Kind == TComma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(TRBracket, "]"); err != nil {
		return nil, err
	}
	return ArrayConstructorExpr{Members: members}, nil
}

func (p *Parser) parseInlineFunction() (Expr, error) {
	p.advance()
	if _, err := p.expect(TLParen, "("); err != nil {
		return nil, err
	}
	var params []Param
	if p.cur().Kind != TRParen {
		for {
			v, err := p.expect(TVariable, "parameter")
			if err != nil {
				return nil, err
			}
			param := Param{Name: qnameFromName(v.Text)}
			if p.cur().Kind == TName && p.cur().Text == "as" {
				p.advance()
				st, err := p.parseSequenceType()
				if err != nil {
					return nil, err
				}
				param.Type = st
			}
			params = append(params, param)
			if p.cur().Kind == TComma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(TRParen, ")"); err != nil {
		return nil, err
	}
	var ret SequenceType
	if p.isKeyword("as") {
		p.advance()
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		ret = st
	}
	if _, err := p.expect(TLBrace, "{"); err != nil {
		return nil, err
	}
	var body Expr
	if p.cur().Kind != TRBrace {
		b, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		body = b
	} else {
		body = CommaExpr{}
	}
	if _, err := p.expect(TRBrace, "}"); err != nil {
		return nil, err
	}
	return InlineFunctionExpr{Params: params, Return: ret, Body: body}, nil
}

func qnameFromName(raw string) tree.QName {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return tree.QName{Prefix: raw[:i], Local: raw[i+1:]}
		}
	}
	return tree.QName{Local: raw}
}

func isAxisName(name string) bool {
	switch name {
	case "child", "descendant", "parent", "ancestor", "following-sibling",
		"preceding-sibling", "following", "preceding", "attribute", "namespace",
		"self", "descendant-or-self", "ancestor-or-self":
		return true
	}
	return false
}

func isNodeTestFuncName(name string) bool {
	switch name {
	case "node", "text", "comment", "processing-instruction":
		return true
	}
	return false
}

// CommaExpr is the top-level "," sequence-construction operator (spec
// §4.C "Sequence construction"); kept distinct from other list-shaped
// nodes because it is the only production where "," is not an
// argument/member separator already captured by another node.
type CommaExpr struct{ Items []Expr }

func (CommaExpr) expr31Node() {}
