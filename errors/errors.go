// Package errors defines the structured error taxonomy surfaced by every
// other package in petty (spec §6.3, §7). Each error code is a distinct
// *errors.Kind from gopkg.in/src-d/go-errors.v1, the same error-kind
// package the teacher codebase uses for its auth errors
// (ErrNotAuthorized, ErrNoPermission, ...): a Kind is created once at
// package init and instantiated per occurrence with .New(args...), so
// call sites can test provenance with Kind.Is(err) instead of string
// matching.
package errors

import (
	goerrors "gopkg.in/src-d/go-errors.v1"
)

// Parse errors (§7.1) — malformed expression or template source.
var (
	ErrParse           = goerrors.NewKind("parse error: %s")
	ErrUnexpectedToken = goerrors.NewKind("unexpected token %q at position %d")
	ErrUnterminated    = goerrors.NewKind("unterminated %s starting at position %d")
)

// Type errors (§7.2, XPath error codes per the W3C XPath/XQuery/XSLT
// Functions and Operators and Fatal Error recommendations).
var (
	XPTY0004 = goerrors.NewKind("XPTY0004: wrong type for operand: %s")
	XPTY0019 = goerrors.NewKind("XPTY0019: path step result is not a node sequence")
	XPTY0020 = goerrors.NewKind("XPTY0020: axis step context item is not a node")
	FORG0001 = goerrors.NewKind("FORG0001: invalid value for cast: %s")
	FORG0006 = goerrors.NewKind("FORG0006: invalid argument type: %s")
)

// Dynamic errors (§7.3).
var (
	FOER0000           = goerrors.NewKind("FOER0000: %s")
	FOAR0001           = goerrors.NewKind("FOAR0001: division by zero")
	FOAR0002           = goerrors.NewKind("FOAR0002: numeric operation overflow/underflow")
	FORX0002           = goerrors.NewKind("FORX0002: invalid regular expression: %s")
	FORX0003           = goerrors.NewKind("FORX0003: regular expression matches zero-length string")
	FOAY0001           = goerrors.NewKind("FOAY0001: array index %d out of bounds")
	FOJS0001           = goerrors.NewKind("FOJS0001: invalid JSON: %s")
	XPDY0002           = goerrors.NewKind("XPDY0002: context item is undefined")
	XQST0039           = goerrors.NewKind("XQST0039: duplicate parameter name %q")
	ErrUnknownVariable = goerrors.NewKind("unknown variable %q")
	ErrUnknownKey      = goerrors.NewKind("unknown key %q")
	ErrUnknownFunction = goerrors.NewKind("unknown function %s#%d")
)

// Streaming errors (§7.4).
var (
	ErrNotStreamable            = goerrors.NewKind("expression is not streamable (posture=roaming): %s")
	ErrInstructionNotStreamable = goerrors.NewKind("instruction %s is not permitted in a streaming template")
)

// User errors (§7.5).
var (
	XTMM9000           = goerrors.NewKind("terminated by xsl:message: %s")
	ErrAssertionFailed = goerrors.NewKind("%s: assertion failed: %s")
)

// Structural/compile errors (§7.6).
var (
	XTSE0010            = goerrors.NewKind("XTSE0010: missing required attribute %q on %s")
	XTSE0020            = goerrors.NewKind("XTSE0020: unknown XSLT element %q")
	XTSE0580            = goerrors.NewKind("XTSE0580: named template %q not found")
	XTSE0640            = goerrors.NewKind("XTSE0640: attribute set %q not found")
	XTSE0630            = goerrors.NewKind("XTSE0630: duplicate named template %q")
	ErrUnresolvedImport = goerrors.NewKind("unresolved import/include: %s")
	XTDE0640            = goerrors.NewKind("XTDE0640: circular variable definition for %q")
	XTDE0540            = goerrors.NewKind("XTDE0540: ambiguous template rule match for %s in mode %q")
)

// Located decorates any Kind-produced error with a source position, for
// callers that need line:column reporting (§6.3). It implements error and
// unwraps to the underlying cause.
type Located struct {
	Line, Column int
	Cause        error
	Data         interface{}
}

func (l *Located) Error() string {
	if l.Line == 0 && l.Column == 0 {
		return l.Cause.Error()
	}
	return formatLocated(l)
}

func (l *Located) Unwrap() error { return l.Cause }

func formatLocated(l *Located) string {
	return l.Cause.Error() + " at " + itoa(l.Line) + ":" + itoa(l.Column)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// At wraps err with a source position, unless err is nil.
func At(line, col int, err error) error {
	if err == nil {
		return nil
	}
	return &Located{Line: line, Column: col, Cause: err}
}

// WithData attaches offending-value/function-name payload data to an error
// produced by a Kind, per the "optional data" field in §6.3.
func WithData(err error, data interface{}) error {
	if err == nil {
		return nil
	}
	if l, ok := err.(*Located); ok {
		l.Data = data
		return l
	}
	return &Located{Cause: err, Data: data}
}
