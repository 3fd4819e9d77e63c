package query

import "fmt"

// Visitor folds a Query into a value of type T. Children are visited
// first and their results are passed to the parent's method.
type Visitor[T any] interface {
	VisitPhrase(q *Phrase, terms []T) (T, error)
	VisitBinaryOp(q *BinaryOp, left, right T) (T, error)
	VisitUnaryOp(q *UnaryOp, term T) (T, error)
	VisitFieldValue(q *FieldValue) (T, error)
	VisitFieldRange(q *FieldRange) (T, error)
	VisitFieldWildcard(q *FieldWildcard) (T, error)
}

// Accept walks q bottom-up with v.
func Accept[T any](q Query, v Visitor[T]) (T, error) {
	var zero T
	switch n := q.(type) {
	case *Phrase:
		terms := make([]T, 0, len(n.Terms))
		for _, term := range n.Terms {
			r, err := Accept(term, v)
			if err != nil {
				return zero, err
			}
			terms = append(terms, r)
		}
		return v.VisitPhrase(n, terms)
	case *BinaryOp:
		left, err := Accept(n.Left, v)
		if err != nil {
			return zero, err
		}
		right, err := Accept(n.Right, v)
		if err != nil {
			return zero, err
		}
		return v.VisitBinaryOp(n, left, right)
	case *UnaryOp:
		term, err := Accept(n.Term, v)
		if err != nil {
			return zero, err
		}
		return v.VisitUnaryOp(n, term)
	case *FieldValue:
		return v.VisitFieldValue(n)
	case *FieldRange:
		return v.VisitFieldRange(n)
	case *FieldWildcard:
		return v.VisitFieldWildcard(n)
	}
	return zero, fmt.Errorf("%w: %T", errUnsupportedNode, q)
}
