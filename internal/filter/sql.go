package filter

import (
	"fmt"
	"strings"
)

const likeEscapeClause = "ESCAPE '\\'"

// SQLSchema describes the relational layout queried by ToSQL. Plain keys
// map to columns of Table; metadata keys to rows of MetadataTable.
type SQLSchema struct {
	Table               string
	KeyColumn           string
	Columns             map[string]string
	TextColumn          string
	MetadataTable       string
	MetadataForeignKey  string
	MetadataKeyColumn   string
	MetadataValueColumn string
}

// ToSQL renders f as a WHERE condition and its arguments for the given
// dialect ("sqlite" or "postgres"). A nil filter yields an empty condition.
func ToSQL(f Filter, schema *SQLSchema, dialect string) (string, []interface{}) {
	b := &sqlBuilder{schema: schema, dialect: dialect}
	return b.build(f)
}

type sqlBuilder struct {
	schema  *SQLSchema
	dialect string
}

func (b *sqlBuilder) build(f Filter) (string, []interface{}) {
	switch n := f.(type) {
	case *Equal:
		return b.buildEqual(n)
	case *Range:
		return b.buildRange(n)
	case *Wildcard:
		return b.onField(n.Key, func(column string) (string, []interface{}) {
			return fmt.Sprintf("%s LIKE ? %s", column, likeEscapeClause), []interface{}{n.Like()}
		})
	case *And:
		return b.join(n.Filters, " AND ")
	case *Or:
		return b.join(n.Filters, " OR ")
	case *Not:
		cond, args := b.build(n.Filter)
		if cond == "" {
			return "", nil
		}
		return fmt.Sprintf("NOT (%s)", cond), args
	case *Text:
		return b.buildText(n)
	}
	return "", nil
}

func (b *sqlBuilder) join(filters []Filter, sep string) (string, []interface{}) {
	var parts []string
	var args []interface{}
	for _, f := range filters {
		cond, condArgs := b.build(f)
		if cond == "" {
			continue
		}
		parts = append(parts, "("+cond+")")
		args = append(args, condArgs...)
	}
	return strings.Join(parts, sep), args
}

func (b *sqlBuilder) buildEqual(e *Equal) (string, []interface{}) {
	if e.Value == nil {
		if IsMetadataKey(e.Key) {
			cond, args := b.metadataExists(e.Key, "")
			return "NOT " + cond, args
		}
		return b.column(e.Key) + " IS NULL", nil
	}
	return b.onField(e.Key, func(column string) (string, []interface{}) {
		value := e.Value
		if IsMetadataKey(e.Key) {
			value = scalarString(value)
		}
		return column + " = ?", []interface{}{value}
	})
}

func (b *sqlBuilder) buildRange(r *Range) (string, []interface{}) {
	return b.onField(r.Key, func(column string) (string, []interface{}) {
		if IsMetadataKey(r.Key) && isNumber(r.Start, r.End) {
			column = fmt.Sprintf("CAST(%s AS %s)", column, b.floatType())
		}
		lower, upper := ">", "<"
		if r.Inclusive {
			lower, upper = ">=", "<="
		}
		var parts []string
		var args []interface{}
		if r.Start != nil {
			parts = append(parts, fmt.Sprintf("%s %s ?", column, lower))
			args = append(args, r.Start)
		}
		if r.End != nil {
			parts = append(parts, fmt.Sprintf("%s %s ?", column, upper))
			args = append(args, r.End)
		}
		return strings.Join(parts, " AND "), args
	})
}

// buildText matches every term against the text column.
func (b *sqlBuilder) buildText(t *Text) (string, []interface{}) {
	like := "LIKE"
	if b.dialect == "postgres" {
		like = "ILIKE"
	}
	column := b.qualified(b.schema.TextColumn)

	var parts []string
	var args []interface{}
	for _, term := range t.Terms {
		if term.Value == "" {
			continue
		}
		op := like
		if term.Excluded {
			op = "NOT " + like
		}
		parts = append(parts, fmt.Sprintf("%s %s ? %s", column, op, likeEscapeClause))
		args = append(args, "%"+escapeLikePattern(term.Value)+"%")
	}
	return strings.Join(parts, " AND "), args
}

// onField renders cond against a plain column, or against the value
// column of a correlated metadata row.
func (b *sqlBuilder) onField(key string, cond func(column string) (string, []interface{})) (string, []interface{}) {
	if !IsMetadataKey(key) {
		return cond(b.column(key))
	}
	inner, innerArgs := cond("m." + quoteIdent(b.schema.MetadataValueColumn))
	exists, args := b.metadataExists(key, inner)
	return exists, append(args, innerArgs...)
}

func (b *sqlBuilder) metadataExists(key, cond string) (string, []interface{}) {
	s := b.schema
	query := fmt.Sprintf("EXISTS (SELECT 1 FROM %s m WHERE m.%s = %s AND m.%s = ?",
		quoteIdent(s.MetadataTable),
		quoteIdent(s.MetadataForeignKey),
		b.qualified(s.KeyColumn),
		quoteIdent(s.MetadataKeyColumn))
	if cond != "" {
		query += " AND " + cond
	}
	return query + ")", []interface{}{strings.TrimPrefix(key, MetadataPrefix)}
}

func (b *sqlBuilder) column(key string) string {
	if column, ok := b.schema.Columns[key]; ok {
		return b.qualified(column)
	}
	return b.qualified(key)
}

func (b *sqlBuilder) qualified(column string) string {
	return quoteIdent(b.schema.Table) + "." + quoteIdent(column)
}

func (b *sqlBuilder) floatType() string {
	if b.dialect == "postgres" {
		return "DOUBLE PRECISION"
	}
	return "REAL"
}

func isNumber(values ...any) bool {
	for _, v := range values {
		switch v.(type) {
		case nil, int64, float64:
		default:
			return false
		}
	}
	return true
}

// quoteIdent quotes identifiers in a portable way (double quotes work for sqlite and postgres).
// Embedded double quotes are escaped by doubling them per SQL standard.
func quoteIdent(ident string) string {
	if ident == "" {
		return ident
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func escapeLikePattern(value string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"%", "\\%",
		"_", "\\_",
	)
	return replacer.Replace(value)
}
