package filter

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// ToBSON renders f as a MongoDB query document. A nil filter yields an
// empty document.
//
// MongoDB allows a single $text clause, and only at the top level of a
// query or directly under a top-level $and. Free text found there is
// rendered as $text; free text nested deeper, e.g. under $or or $nor, is
// matched with case-insensitive regexes on SearchTextField.
func ToBSON(f Filter) bson.D {
	switch n := f.(type) {
	case *Text:
		return textSearch(n.Terms)
	case *And:
		var terms []TextTerm
		var rest bson.A
		for _, child := range n.Filters {
			if t, ok := child.(*Text); ok {
				terms = append(terms, t.Terms...)
				continue
			}
			rest = append(rest, toBSON(child))
		}
		if terms == nil {
			return bson.D{{Key: "$and", Value: rest}}
		}
		return bson.D{{Key: "$and", Value: append(bson.A{textSearch(terms)}, rest...)}}
	}
	return toBSON(f)
}

func toBSON(f Filter) bson.D {
	switch n := f.(type) {
	case *Equal:
		return bson.D{{Key: n.Key, Value: n.Value}}
	case *Range:
		return bson.D{{Key: n.Key, Value: rangeOps(n)}}
	case *Wildcard:
		return bson.D{{Key: n.Key, Value: bson.D{{Key: "$regex", Value: n.Regex()}}}}
	case *And:
		return bson.D{{Key: "$and", Value: bsonArray(n.Filters)}}
	case *Or:
		return bson.D{{Key: "$or", Value: bsonArray(n.Filters)}}
	case *Not:
		return bson.D{{Key: "$nor", Value: bson.A{toBSON(n.Filter)}}}
	case *Text:
		return textMatch(n.Terms)
	}
	return bson.D{}
}

// ToExtJSON renders f as relaxed MongoDB extended JSON.
func ToExtJSON(f Filter) (string, error) {
	data, err := bson.MarshalExtJSON(ToBSON(f), false, false)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// textSearch builds a $text clause. Every term is quoted so that all of
// them must match, as in the SQL rendering.
func textSearch(terms []TextTerm) bson.D {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		value := strings.ReplaceAll(term.Value, `"`, "")
		if value == "" {
			continue
		}
		phrase := `"` + value + `"`
		if term.Excluded {
			phrase = "-" + phrase
		}
		parts = append(parts, phrase)
	}
	return bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: strings.Join(parts, " ")}}}}
}

// textMatch matches terms with regexes where $text is not allowed.
func textMatch(terms []TextTerm) bson.D {
	var conds bson.A
	for _, term := range terms {
		if term.Value == "" {
			continue
		}
		re := bson.D{
			{Key: "$regex", Value: regexp.QuoteMeta(term.Value)},
			{Key: "$options", Value: "i"},
		}
		if term.Excluded {
			conds = append(conds, bson.D{{Key: SearchTextField, Value: bson.D{{Key: "$not", Value: re}}}})
		} else {
			conds = append(conds, bson.D{{Key: SearchTextField, Value: re}})
		}
	}
	switch len(conds) {
	case 0:
		return bson.D{}
	case 1:
		return conds[0].(bson.D)
	}
	return bson.D{{Key: "$and", Value: conds}}
}

func rangeOps(r *Range) bson.D {
	lower, upper := "$gt", "$lt"
	if r.Inclusive {
		lower, upper = "$gte", "$lte"
	}
	ops := bson.D{}
	if r.Start != nil {
		ops = append(ops, bson.E{Key: lower, Value: r.Start})
	}
	if r.End != nil {
		ops = append(ops, bson.E{Key: upper, Value: r.End})
	}
	return ops
}

func bsonArray(filters []Filter) bson.A {
	arr := make(bson.A, len(filters))
	for i, f := range filters {
		arr[i] = toBSON(f)
	}
	return arr
}
