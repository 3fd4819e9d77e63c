// Package filter lowers parsed queries into backend neutral filters and
// renders them for MongoDB and for SQL databases accessed through GORM.
package filter

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNoWildcard is returned when a wildcard term has no wildcard char.
	ErrNoWildcard = errors.New("filter: wildcard pattern contains neither '?' nor '*'")

	// ErrUnscopedRange is returned for a range term without a field name.
	ErrUnscopedRange = errors.New("filter: range term requires a field name")
)

// MetadataPrefix namespaces all dataset header fields that are not
// top-level document keys.
const MetadataPrefix = "metadata."

// DefaultWildcardField is matched by wildcard terms without a field name.
const DefaultWildcardField = "name"

// SearchTextField holds the words searched by free-text terms.
const SearchTextField = "search_text"

// PlainFields are stored as top-level keys of a dataset document.
var PlainFields = map[string]bool{
	"id":            true,
	"path":          true,
	"submission_id": true,
	"status":        true,
	"group":         true,
	"name":          true,
}

// ResolveField maps a query field name to its document key.
func ResolveField(name string) string {
	if PlainFields[name] {
		return name
	}
	return MetadataPrefix + name
}

// IsMetadataKey reports whether key addresses a metadata field.
func IsMetadataKey(key string) bool {
	return strings.HasPrefix(key, MetadataPrefix)
}

// Filter is a lowered query. The set of filter types is closed.
type Filter interface {
	filterNode()
}

// Equal matches documents whose Key equals Value. A nil Value matches
// documents without the key.
type Equal struct {
	Key   string
	Value any
}

// Range matches documents whose Key lies between Start and End.
type Range struct {
	Key       string
	Start     any
	End       any
	Inclusive bool
}

// Wildcard matches Key against a '?' / '*' pattern.
type Wildcard struct {
	Key     string
	Pattern string
}

// And matches when all filters match.
type And struct {
	Filters []Filter
}

// Or matches when any filter matches.
type Or struct {
	Filters []Filter
}

// Not inverts a filter.
type Not struct {
	Filter Filter
}

// TextTerm is one word or phrase of a full-text search.
type TextTerm struct {
	Value    string
	Excluded bool
}

// Text is a full-text search. Every term that is not excluded must occur in
// the searched text; excluded terms must not.
type Text struct {
	Terms []TextTerm
}

func (*Equal) filterNode()    {}
func (*Range) filterNode()    {}
func (*Wildcard) filterNode() {}
func (*And) filterNode()      {}
func (*Or) filterNode()       {}
func (*Not) filterNode()      {}
func (*Text) filterNode()     {}

// Regex translates the pattern into an anchored regular expression.
func (w *Wildcard) Regex() string {
	var b strings.Builder
	b.WriteByte('^')
	w.walk(func(ch rune, literal bool) {
		switch {
		case !literal && ch == '?':
			b.WriteByte('.')
		case !literal && ch == '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	})
	b.WriteByte('$')
	return b.String()
}

// Like translates the pattern into a LIKE pattern using '\' as escape.
func (w *Wildcard) Like() string {
	var b strings.Builder
	w.walk(func(ch rune, literal bool) {
		switch {
		case !literal && ch == '?':
			b.WriteByte('_')
		case !literal && ch == '*':
			b.WriteByte('%')
		case ch == '%' || ch == '_' || ch == '\\':
			b.WriteByte('\\')
			b.WriteRune(ch)
		default:
			b.WriteRune(ch)
		}
	})
	return b.String()
}

// walk calls fn for every character of the pattern; literal is set for
// escaped characters.
func (w *Wildcard) walk(fn func(ch rune, literal bool)) {
	escaped := false
	for _, ch := range w.Pattern {
		if escaped {
			fn(ch, true)
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		fn(ch, false)
	}
	if escaped {
		fn('\\', true)
	}
}
