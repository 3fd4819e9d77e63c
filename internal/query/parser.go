package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parser builds a Query from the tokens of one expression.
//
// Grammar, lowest precedence first:
//
//	List    = Or*
//	Or      = And ("OR" And)*
//	And     = Unary ("AND" Unary)*
//	Unary   = "NOT" Unary | ("+" | "-") Primary | Primary
//	Primary = "(" List ")" | QUOTED | TEXT (":" Value)? | Range
//	Value   = TEXT | QUOTED | Range
//	Range   = ("[" | "{") Bound "TO" Bound ("]" | "}")
type Parser struct {
	tokens []Token
	pos    int
	end    int
}

// Parse parses input into a Query. An empty or blank input yields a nil
// Query and no error.
func Parse(input string) (Query, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	return NewParser(tokens, utf8.RuneCountInString(input)).Parse()
}

// NewParser creates a parser over tokens. end is the offset reported for
// errors at the end of input.
func NewParser(tokens []Token, end int) *Parser {
	return &Parser{tokens: tokens, end: end}
}

// Parse consumes all tokens.
func (p *Parser) Parse() (Query, error) {
	q, err := p.parseList(false)
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		return nil, unexpected(tok)
	}
	return q, nil
}

func (p *Parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *Parser) endOfInput() *SyntaxError {
	return newSyntaxError(p.end, "Unexpected end of query")
}

func unexpected(tok Token) *SyntaxError {
	return newSyntaxError(tok.Pos, fmt.Sprintf("Unexpected [%s]", tok.Text))
}

// parseList collapses zero terms to nil and a single term to itself.
func (p *Parser) parseList(inGroup bool) (Query, error) {
	var terms []Query
	for {
		tok, ok := p.peek()
		if !ok || (inGroup && tok.isControl(")")) {
			break
		}
		term, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}

	switch len(terms) {
	case 0:
		return nil, nil
	case 1:
		return terms[0], nil
	}
	return &Phrase{Terms: terms}, nil
}

func (p *Parser) parseOr() (Query, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || !tok.isKeyword(KeywordOr) {
			return left, nil
		}
		p.advance()
		if err := p.requireTerm(tok); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: OpOr, Left: left, Right: right}
	}
}

func (p *Parser) parseAnd() (Query, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || !tok.isKeyword(KeywordAnd) {
			return left, nil
		}
		p.advance()
		if err := p.requireTerm(tok); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: OpAnd, Left: left, Right: right}
	}
}

// requireTerm fails if no term can follow the operator token op.
func (p *Parser) requireTerm(op Token) error {
	tok, ok := p.peek()
	if !ok || tok.isControl(")") || tok.isKeyword(KeywordAnd) || tok.isKeyword(KeywordOr) {
		return newSyntaxError(op.Pos, "Term missing after "+op.Text)
	}
	return nil
}

func (p *Parser) parseUnary() (Query, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.endOfInput()
	}

	switch {
	case tok.isKeyword(KeywordNot):
		p.advance()
		if err := p.requireTerm(tok); err != nil {
			return nil, err
		}
		term, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: OpNot, Term: term}, nil

	case tok.isControl(OpInclude), tok.isControl(OpExclude):
		p.advance()
		next, ok := p.peek()
		if !ok || !next.startsPrimary() {
			return nil, newSyntaxError(tok.Pos, fmt.Sprintf("Term missing after [%s]", tok.Text))
		}
		term, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: tok.Text, Term: term}, nil
	}

	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Query, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.endOfInput()
	}

	switch {
	case tok.isControl("("):
		p.advance()
		inner, err := p.parseList(true)
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok {
			return nil, newSyntaxError(p.end, "Missing matching [)]")
		}
		if inner == nil {
			return nil, unexpected(closing)
		}
		p.advance()
		return inner, nil

	case tok.Kind == TokenQuotedText:
		p.advance()
		if next, ok := p.peek(); ok && next.isControl(":") {
			return nil, newSyntaxError(next.Pos, "Name expected before [:]")
		}
		return &FieldValue{Value: tok.Text}, nil

	case tok.Kind == TokenText:
		p.advance()
		colon, ok := p.peek()
		if !ok || !colon.isControl(":") {
			return textTerm("", tok)
		}
		if !isIdentifier(tok.Text) {
			return nil, newSyntaxError(colon.Pos, "Name expected before [:]")
		}
		p.advance()
		return p.parseValue(tok.Text, colon)

	case tok.isControl("["), tok.isControl("{"):
		return p.parseRange("")

	case tok.isControl(":"):
		return nil, newSyntaxError(tok.Pos, "Name expected before [:]")
	}

	return nil, unexpected(tok)
}

func (p *Parser) parseValue(name string, colon Token) (Query, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, newSyntaxError(colon.Pos, "Missing text after [:]")
	}

	switch {
	case tok.Kind == TokenText:
		p.advance()
		if tok.Text == nullLiteral {
			return &FieldValue{Name: name}, nil
		}
		return textTerm(name, tok)
	case tok.Kind == TokenQuotedText:
		p.advance()
		return &FieldValue{Name: name, Value: tok.Text}, nil
	case tok.isControl("["), tok.isControl("{"):
		return p.parseRange(name)
	}
	return nil, newSyntaxError(colon.Pos, "Missing text after [:]")
}

func (p *Parser) parseRange(name string) (Query, error) {
	open := p.advance()

	start, err := p.parseBound()
	if err != nil {
		return nil, err
	}
	to, ok := p.peek()
	if !ok {
		return nil, p.endOfInput()
	}
	if to.Kind != TokenText || to.Text != "TO" {
		return nil, unexpected(to)
	}
	p.advance()
	end, err := p.parseBound()
	if err != nil {
		return nil, err
	}

	closing, ok := p.peek()
	if !ok {
		return nil, p.endOfInput()
	}
	inclusive := open.Text == "["
	if (inclusive && !closing.isControl("]")) || (!inclusive && !closing.isControl("}")) {
		return nil, unexpected(closing)
	}
	p.advance()

	q, err := NewFieldRange(name, start, end, inclusive)
	if err != nil {
		return nil, newSyntaxError(open.Pos, "Range requires at least one bound")
	}
	return q, nil
}

// parseBound reads one range bound; "*" is an open bound.
func (p *Parser) parseBound() (any, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.endOfInput()
	}

	switch {
	case tok.Kind == TokenQuotedText:
		p.advance()
		return tok.Text, nil
	case tok.Kind == TokenText && tok.Text != "TO":
		p.advance()
		if tok.Text == "*" {
			return nil, nil
		}
		if n, ok := parseNumber(tok.Text); ok {
			return n, nil
		}
		return unescape(tok.Text), nil
	case tok.isControl(OpExclude):
		p.advance()
		next, ok := p.peek()
		if ok && next.Kind == TokenText {
			if n, ok := parseNumber("-" + next.Text); ok {
				p.advance()
				return n, nil
			}
		}
		return nil, unexpected(tok)
	}
	return nil, unexpected(tok)
}

func parseNumber(text string) (any, bool) {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, true
	}
	return nil, false
}

// textTerm turns a TEXT token into a value or, if it holds an unescaped
// wildcard, a wildcard term.
func textTerm(name string, tok Token) (Query, error) {
	if !HasWildcard(tok.Text) {
		return &FieldValue{Name: name, Value: unescape(tok.Text)}, nil
	}
	q, err := NewFieldWildcard(name, normalizePattern(tok.Text))
	if err != nil {
		return nil, newSyntaxError(tok.Pos, fmt.Sprintf("Invalid wildcard [%s]", tok.Text))
	}
	return q, nil
}

func isIdentifier(text string) bool {
	if text == "" {
		return false
	}
	for i, ch := range text {
		if ch == '_' || unicode.IsLetter(ch) || (i > 0 && unicode.IsDigit(ch)) {
			continue
		}
		return false
	}
	return true
}

// unescape drops escaping backslashes.
func unescape(text string) string {
	if !strings.Contains(text, `\`) {
		return text
	}
	var b strings.Builder
	escaped := false
	for _, ch := range text {
		if ch == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(ch)
	}
	if escaped {
		b.WriteRune('\\')
	}
	return b.String()
}

// normalizePattern drops escapes that are meaningless inside a wildcard
// pattern. Escaped '?', '*', '\' and whitespace are kept.
func normalizePattern(text string) string {
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if next == '?' || next == '*' || next == '\\' || unicode.IsSpace(next) {
				b.WriteRune(ch)
			}
			b.WriteRune(next)
			i++
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
