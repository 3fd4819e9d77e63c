package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Query is a node of a parsed query expression. The set of node types is
// closed: *Phrase, *BinaryOp, *UnaryOp, *FieldValue, *FieldWildcard and
// *FieldRange. Nodes are immutable once built.
type Query interface {
	// Precedence is used to decide parenthesization; higher binds tighter.
	Precedence() int
	String() string
	queryNode()
}

// Operator precedences
const (
	PrecedencePhrase  = 400
	PrecedenceOr      = 500
	PrecedenceAnd     = 600
	PrecedenceNot     = 800
	PrecedenceInclude = 900
	PrecedenceTerm    = 1000
)

// Operators of BinaryOp and UnaryOp nodes
const (
	OpAnd     = KeywordAnd
	OpOr      = KeywordOr
	OpNot     = KeywordNot
	OpInclude = "+"
	OpExclude = "-"
)

// Phrase is an implicit conjunction of adjacent terms, e.g. `cat dog`.
type Phrase struct {
	Terms []Query
}

// BinaryOp combines two terms with AND or OR.
type BinaryOp struct {
	Op    string
	Left  Query
	Right Query
}

// UnaryOp marks a term with NOT, + (include) or - (exclude).
type UnaryOp struct {
	Op   string
	Term Query
}

// FieldValue matches a value, optionally scoped to a named field.
// An empty Name means the term is unscoped free text. Value is a string,
// or nil for a field without a value.
type FieldValue struct {
	Name  string
	Value any
}

// FieldWildcard matches Pattern, where '?' stands for one character and '*'
// for any number of characters. Backslash escapes are kept in Pattern.
type FieldWildcard struct {
	Name    string
	Pattern string
}

// FieldRange matches values between Start and End. A nil bound is open.
// An empty Name parses but cannot be evaluated by a backend.
type FieldRange struct {
	Name      string
	Start     any
	End       any
	Inclusive bool
}

func (*Phrase) queryNode()        {}
func (*BinaryOp) queryNode()      {}
func (*UnaryOp) queryNode()       {}
func (*FieldValue) queryNode()    {}
func (*FieldWildcard) queryNode() {}
func (*FieldRange) queryNode()    {}

// NewPhrase builds a phrase of one or more terms.
func NewPhrase(terms ...Query) (*Phrase, error) {
	if len(terms) == 0 {
		return nil, errEmptyPhrase
	}
	for _, term := range terms {
		if term == nil {
			return nil, errNilOperand
		}
	}
	return &Phrase{Terms: append([]Query(nil), terms...)}, nil
}

// NewBinaryOp builds an AND or OR node.
func NewBinaryOp(op string, left, right Query) (*BinaryOp, error) {
	if op != OpAnd && op != OpOr {
		return nil, fmt.Errorf("%w: unknown binary operator %q", ErrInvalidTerm, op)
	}
	if left == nil || right == nil {
		return nil, errNilOperand
	}
	return &BinaryOp{Op: op, Left: left, Right: right}, nil
}

// NewUnaryOp builds a NOT, + or - node.
func NewUnaryOp(op string, term Query) (*UnaryOp, error) {
	if op != OpNot && op != OpInclude && op != OpExclude {
		return nil, fmt.Errorf("%w: unknown unary operator %q", ErrInvalidTerm, op)
	}
	if term == nil {
		return nil, errNilOperand
	}
	return &UnaryOp{Op: op, Term: term}, nil
}

// NewFieldValue builds an equality term. Integer and float values are
// stored in their decimal string form, the way the parser reads them back
// from String.
func NewFieldValue(name string, value any) (*FieldValue, error) {
	v, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}
	if v == nil {
		if name == "" {
			return nil, errUnscopedNilValue
		}
		return &FieldValue{Name: name}, nil
	}
	return &FieldValue{Name: name, Value: formatScalar(v)}, nil
}

// NewFieldWildcard builds a wildcard term.
func NewFieldWildcard(name, pattern string) (*FieldWildcard, error) {
	if err := checkWildcardPattern(pattern); err != nil {
		return nil, err
	}
	return &FieldWildcard{Name: name, Pattern: pattern}, nil
}

// NewFieldRange builds a range term. If both bounds are given and their
// types differ they are coerced to a common type, preferring string over
// float over int.
func NewFieldRange(name string, start, end any, inclusive bool) (*FieldRange, error) {
	s, err := normalizeValue(start)
	if err != nil {
		return nil, errUnsupportedBound
	}
	e, err := normalizeValue(end)
	if err != nil {
		return nil, errUnsupportedBound
	}
	if s == nil && e == nil {
		return nil, errOpenRange
	}
	if s != nil && e != nil {
		s, e = coerceBounds(s, e)
	}
	return &FieldRange{Name: name, Start: s, End: e, Inclusive: inclusive}, nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, int64, float64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	}
	return nil, errUnsupportedValue
}

func coerceBounds(start, end any) (any, any) {
	_, startStr := start.(string)
	_, endStr := end.(string)
	if startStr || endStr {
		return formatScalar(start), formatScalar(end)
	}
	_, startFloat := start.(float64)
	_, endFloat := end.(float64)
	if startFloat || endFloat {
		return toFloat(start), toFloat(end)
	}
	return start, end
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func formatScalar(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// checkWildcardPattern verifies the pattern has at least one unescaped
// wildcard and no unescaped whitespace.
func checkWildcardPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errNoWildcardChar
	}
	if !HasWildcard(pattern) {
		return errNoWildcardChar
	}
	escaped := false
	for _, ch := range pattern {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if unicode.IsSpace(ch) {
			return errWildcardWhitespace
		}
	}
	return nil
}

// HasWildcard reports whether text contains an unescaped '?' or '*'.
func HasWildcard(text string) bool {
	escaped := false
	for _, ch := range text {
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '?' || ch == '*':
			return true
		}
	}
	return false
}

// Precedence implementations

func (q *Phrase) Precedence() int { return PrecedencePhrase }

func (q *BinaryOp) Precedence() int {
	if q.Op == OpOr {
		return PrecedenceOr
	}
	return PrecedenceAnd
}

func (q *UnaryOp) Precedence() int {
	if q.Op == OpNot {
		return PrecedenceNot
	}
	return PrecedenceInclude
}

func (q *FieldValue) Precedence() int    { return PrecedenceTerm }
func (q *FieldWildcard) Precedence() int { return PrecedenceTerm }
func (q *FieldRange) Precedence() int    { return PrecedenceTerm }

// String renders the canonical surface syntax. Parsing the result yields a
// structurally equal tree.

func (q *Phrase) String() string {
	parts := make([]string, len(q.Terms))
	for i, term := range q.Terms {
		parts[i] = wrap(term, term.Precedence() <= q.Precedence())
	}
	return strings.Join(parts, " ")
}

func (q *BinaryOp) String() string {
	p := q.Precedence()
	left := wrap(q.Left, q.Left.Precedence() < p)
	right := wrap(q.Right, q.Right.Precedence() <= p)
	return left + " " + q.Op + " " + right
}

func (q *UnaryOp) String() string {
	if q.Op == OpNot {
		return OpNot + " " + wrap(q.Term, q.Term.Precedence() < q.Precedence())
	}
	// + and - only take a primary term
	return q.Op + wrap(q.Term, q.Term.Precedence() < PrecedenceTerm)
}

func (q *FieldValue) String() string {
	return withName(q.Name, formatValue(q.Value))
}

func (q *FieldWildcard) String() string {
	return withName(q.Name, escapePattern(q.Pattern))
}

func (q *FieldRange) String() string {
	open, closing := "{", "}"
	if q.Inclusive {
		open, closing = "[", "]"
	}
	return withName(q.Name, open+formatBound(q.Start)+" TO "+formatBound(q.End)+closing)
}

func wrap(q Query, parens bool) string {
	if parens {
		return "(" + q.String() + ")"
	}
	return q.String()
}

func withName(name, text string) string {
	if name == "" {
		return text
	}
	return name + ":" + text
}

func formatBound(v any) string {
	switch val := v.(type) {
	case nil:
		return "*"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return formatFloat(val)
	case string:
		if val == "*" || val == "TO" || isNumeric(val) {
			return `"` + val + `"`
		}
		return quoteText(val)
	}
	return quoteText(formatScalar(v))
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return nullLiteral
	case string:
		return quoteText(val)
	case float64:
		return quoteText(formatFloat(val))
	}
	return quoteText(formatScalar(v))
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func isNumeric(text string) bool {
	_, err := strconv.ParseFloat(text, 64)
	return err == nil
}

const (
	specialChars = `+-:()[]{}"'\?*`
	nullLiteral  = "null"
)

// quoteText returns text in a form the tokenizer reads back as one term with
// the same value.
func quoteText(text string) string {
	if text == "" {
		return `""`
	}
	if isPlainText(text) {
		return text
	}
	if !strings.Contains(text, `"`) {
		return `"` + text + `"`
	}
	if !strings.Contains(text, `'`) {
		return `'` + text + `'`
	}
	var b strings.Builder
	for _, ch := range text {
		if unicode.IsSpace(ch) || strings.ContainsRune(specialChars, ch) {
			b.WriteRune('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// escapePattern escapes tokenizer delimiters in a wildcard pattern while
// keeping its own escape sequences.
func escapePattern(pattern string) string {
	var b strings.Builder
	escaped := false
	for _, ch := range pattern {
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch != '?' && ch != '*' && strings.ContainsRune(specialChars, ch):
			b.WriteRune('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func isPlainText(text string) bool {
	switch text {
	case KeywordAnd, KeywordOr, KeywordNot, nullLiteral:
		return false
	}
	for _, ch := range text {
		if unicode.IsSpace(ch) || strings.ContainsRune(specialChars, ch) {
			return false
		}
	}
	return true
}
