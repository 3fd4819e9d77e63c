package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTerm is returned by the node constructors when a caller
	// violates a construction invariant. It never results from parsing text.
	ErrInvalidTerm = errors.New("invalid query term")

	errEmptyPhrase        = fmt.Errorf("%w: phrase requires at least one term", ErrInvalidTerm)
	errNilOperand         = fmt.Errorf("%w: operand is nil", ErrInvalidTerm)
	errUnscopedNilValue   = fmt.Errorf("%w: unscoped term requires a value", ErrInvalidTerm)
	errNoWildcardChar     = fmt.Errorf("%w: wildcard pattern contains no unescaped '?' or '*'", ErrInvalidTerm)
	errWildcardWhitespace = fmt.Errorf("%w: wildcard pattern contains unescaped whitespace", ErrInvalidTerm)
	errOpenRange          = fmt.Errorf("%w: range requires at least one bound", ErrInvalidTerm)
	errUnsupportedBound   = fmt.Errorf("%w: range bound must be a string, integer or float", ErrInvalidTerm)
	errUnsupportedValue   = fmt.Errorf("%w: value must be a string, integer, float or nil", ErrInvalidTerm)

	errUnsupportedNode = errors.New("unsupported query node type")
)

// SyntaxError reports malformed query text. Pos is the zero-based
// character offset into the input that triggered the error.
type SyntaxError struct {
	Pos int
	Msg string
}

func newSyntaxError(pos int, msg string) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: msg}
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
}

// IsSyntaxError reports whether err is, or wraps, a *SyntaxError.
func IsSyntaxError(err error) bool {
	var syntaxErr *SyntaxError
	return errors.As(err, &syntaxErr)
}
