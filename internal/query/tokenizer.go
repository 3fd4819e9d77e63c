package query

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenKind represents the kind of a token
type TokenKind int

const (
	TokenText TokenKind = iota
	TokenKeyword
	TokenControl
	TokenQuotedText
)

func (k TokenKind) String() string {
	switch k {
	case TokenText:
		return "TEXT"
	case TokenKeyword:
		return "KEYWORD"
	case TokenControl:
		return "CONTROL"
	case TokenQuotedText:
		return "QUOTED_TEXT"
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Keywords recognised by the tokenizer. Matching is case-sensitive.
const (
	KeywordAnd = "AND"
	KeywordOr  = "OR"
	KeywordNot = "NOT"
)

// Token is a single lexeme of a query expression.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q@%d)", t.Kind, t.Text, t.Pos)
}

func (t Token) isControl(text string) bool {
	return t.Kind == TokenControl && t.Text == text
}

func (t Token) isKeyword(text string) bool {
	return t.Kind == TokenKeyword && t.Text == text
}

// startsPrimary reports whether t can begin a term after + or -.
func (t Token) startsPrimary() bool {
	return t.Kind == TokenText || t.Kind == TokenQuotedText ||
		t.isControl("(") || t.isControl("[") || t.isControl("{")
}

// Tokenizer splits query expressions into tokens
type Tokenizer struct {
	input  []rune
	pos    int
	level  int
	start  int
	span   strings.Builder
	tokens []Token
}

// Tokenize splits input into its tokens.
func Tokenize(input string) ([]Token, error) {
	return NewTokenizer(input).Tokenize()
}

// NewTokenizer creates a new tokenizer
func NewTokenizer(input string) *Tokenizer {
	return &Tokenizer{input: []rune(input), start: -1}
}

// Tokenize scans the whole input. A Tokenizer is single use.
func (t *Tokenizer) Tokenize() ([]Token, error) {
	for t.pos < len(t.input) {
		ch := t.input[t.pos]
		switch {
		case unicode.IsSpace(ch):
			t.flush()
			t.pos++
		case ch == '\\':
			t.appendSpan(ch)
			t.pos++
			if t.pos < len(t.input) {
				t.appendSpan(t.input[t.pos])
				t.pos++
			}
		case ch == '"' || ch == '\'':
			t.flush()
			if err := t.readQuoted(ch); err != nil {
				return nil, err
			}
		case ch == '(':
			t.flush()
			t.level++
			t.emitControl(ch)
		case ch == ')':
			t.flush()
			t.level--
			if t.level < 0 {
				return nil, newSyntaxError(t.pos, "Missing matching [(]")
			}
			t.emitControl(ch)
		case isControlChar(ch):
			t.flush()
			t.emitControl(ch)
		default:
			t.appendSpan(ch)
			t.pos++
		}
	}
	t.flush()

	if t.level > 0 {
		return nil, newSyntaxError(t.pos, "Missing matching [)]")
	}
	return t.tokens, nil
}

func isControlChar(ch rune) bool {
	switch ch {
	case '+', '-', ':', '[', ']', '{', '}':
		return true
	}
	return false
}

func (t *Tokenizer) appendSpan(ch rune) {
	if t.start < 0 {
		t.start = t.pos
	}
	t.span.WriteRune(ch)
}

// flush emits the pending span, if any, as TEXT or KEYWORD.
func (t *Tokenizer) flush() {
	if t.start < 0 {
		return
	}
	text := t.span.String()
	kind := TokenText
	switch text {
	case KeywordAnd, KeywordOr, KeywordNot:
		kind = TokenKeyword
	}
	t.tokens = append(t.tokens, Token{Kind: kind, Text: text, Pos: t.start})
	t.span.Reset()
	t.start = -1
}

func (t *Tokenizer) emitControl(ch rune) {
	t.tokens = append(t.tokens, Token{Kind: TokenControl, Text: string(ch), Pos: t.pos})
	t.pos++
}

// readQuoted consumes a quoted span including both quote chars.
func (t *Tokenizer) readQuoted(quote rune) error {
	start := t.pos
	t.pos++ // skip opening quote

	var text strings.Builder
	for t.pos < len(t.input) {
		ch := t.input[t.pos]
		if ch == quote {
			t.pos++
			t.tokens = append(t.tokens, Token{Kind: TokenQuotedText, Text: text.String(), Pos: start})
			return nil
		}
		text.WriteRune(ch)
		t.pos++
	}
	return newSyntaxError(t.pos, fmt.Sprintf("Missing matching [%c]", quote))
}
