package filter

import (
	"fmt"
	"strconv"

	"github.com/nlstn/go-ocdb/internal/query"
)

// Compiler lowers a query tree into a Filter. It keeps no state between
// nodes; a zero Compiler is ready to use and safe for concurrent use.
type Compiler struct{}

var _ query.Visitor[Filter] = Compiler{}

// Compile lowers q. A nil query yields a nil filter, which matches all
// documents.
func Compile(q query.Query) (Filter, error) {
	if q == nil {
		return nil, nil
	}
	return query.Accept[Filter](q, Compiler{})
}

// VisitPhrase merges all free-text children into one Text filter and
// conjoins it with the remaining children.
func (Compiler) VisitPhrase(_ *query.Phrase, terms []Filter) (Filter, error) {
	var text *Text
	var others []Filter
	for _, term := range terms {
		if t, ok := term.(*Text); ok {
			if text == nil {
				text = &Text{}
			}
			text.Terms = append(text.Terms, t.Terms...)
			continue
		}
		others = append(others, term)
	}

	if text == nil {
		return conjoin(others), nil
	}
	if len(others) == 0 {
		return text, nil
	}
	return &And{Filters: append([]Filter{text}, others...)}, nil
}

func (Compiler) VisitBinaryOp(q *query.BinaryOp, left, right Filter) (Filter, error) {
	switch q.Op {
	case query.OpAnd:
		filters := append([]Filter(nil), flattenAnd(left)...)
		return &And{Filters: append(filters, flattenAnd(right)...)}, nil
	case query.OpOr:
		filters := append([]Filter(nil), flattenOr(left)...)
		return &Or{Filters: append(filters, flattenOr(right)...)}, nil
	}
	return nil, fmt.Errorf("filter: unsupported binary operator %q", q.Op)
}

// VisitUnaryOp applies +, - and NOT. On a single free-text term - and NOT
// flip the term's exclusion; everywhere else + is a no-op while - and NOT
// negate the whole child.
func (Compiler) VisitUnaryOp(q *query.UnaryOp, term Filter) (Filter, error) {
	if text, ok := term.(*Text); ok && q.Op != query.OpInclude && len(text.Terms) == 1 {
		t := text.Terms[0]
		return &Text{Terms: []TextTerm{{Value: t.Value, Excluded: !t.Excluded}}}, nil
	}

	switch q.Op {
	case query.OpInclude:
		return term, nil
	case query.OpExclude, query.OpNot:
		if not, ok := term.(*Not); ok {
			return not.Filter, nil
		}
		return &Not{Filter: term}, nil
	}
	return nil, fmt.Errorf("filter: unsupported unary operator %q", q.Op)
}

func (Compiler) VisitFieldValue(q *query.FieldValue) (Filter, error) {
	if q.Name == "" {
		return &Text{Terms: []TextTerm{{Value: scalarString(q.Value)}}}, nil
	}
	return &Equal{Key: ResolveField(q.Name), Value: q.Value}, nil
}

func (Compiler) VisitFieldRange(q *query.FieldRange) (Filter, error) {
	if q.Name == "" {
		return nil, ErrUnscopedRange
	}
	return &Range{Key: ResolveField(q.Name), Start: q.Start, End: q.End, Inclusive: q.Inclusive}, nil
}

func (Compiler) VisitFieldWildcard(q *query.FieldWildcard) (Filter, error) {
	if !query.HasWildcard(q.Pattern) {
		return nil, ErrNoWildcard
	}
	name := q.Name
	if name == "" {
		name = DefaultWildcardField
	}
	return &Wildcard{Key: ResolveField(name), Pattern: q.Pattern}, nil
}

func conjoin(filters []Filter) Filter {
	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	}
	return &And{Filters: filters}
}

func flattenAnd(f Filter) []Filter {
	if and, ok := f.(*And); ok {
		return and.Filters
	}
	return []Filter{f}
}

func flattenOr(f Filter) []Filter {
	if or, ok := f.(*Or); ok {
		return or.Filters
	}
	return []Filter{f}
}

func scalarString(v any) string {
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
