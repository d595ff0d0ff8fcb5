package collections

import (
	"sort"
	"strconv"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/entities"
)

// Statement is a pair of list and count queries sharing the same filter.
type Statement struct {
	ListSQL   string
	CountSQL  string
	Args      []any
	CountArgs []any
}

// Build turns a query into SQL. Identifiers come from the validated
// catalogue; every value travels as a positional argument.
func Build(q Query) Statement {
	var where []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	for _, c := range q.Conditions {
		f := c.Filter
		switch f.Kind {
		case entities.KindSearch:
			p := next(c.Value)
			parts := make([]string, len(f.Columns))
			for i, col := range f.Columns {
				parts[i] = col + " ILIKE " + p
			}
			where = append(where, "("+strings.Join(parts, " OR ")+")")
		case entities.KindBool:
			where = append(where, f.Column+" = "+next(true))
		case entities.KindMin:
			where = append(where, f.Column+" >= "+next(c.Value))
		case entities.KindMax:
			where = append(where, f.Column+" <= "+next(c.Value))
		case entities.KindRange:
			if c.Value != nil {
				where = append(where, f.Column+" >= "+next(c.Value))
			}
			if c.Upper != nil {
				where = append(where, f.Column+" < "+next(c.Upper))
			}
		default:
			where = append(where, f.Column+" = "+next(c.Value))
		}
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	countSQL := "SELECT COUNT(*) FROM " + q.Entity.Table + clause
	countArgs := append([]any(nil), args...)

	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	order := q.SortBy + " " + dir
	if q.SortBy != "id" {
		order += ", id ASC"
	}
	listSQL := "SELECT " + strings.Join(q.Entity.Columns, ", ") + " FROM " + q.Entity.Table + clause +
		" ORDER BY " + order
	listSQL += " LIMIT " + next(q.PageSize)
	listSQL += " OFFSET " + next((q.Page-1)*q.PageSize)

	return Statement{ListSQL: listSQL, CountSQL: countSQL, Args: args, CountArgs: countArgs}
}

// ReferenceSQL lists a reference collection ordered by label.
func ReferenceSQL(ref entities.Reference) string {
	return "SELECT " + ref.ID + ", " + ref.Label + " FROM " + ref.Table + " ORDER BY " + ref.Label + ", " + ref.ID
}

func sortStrings(s []string) {
	sort.Strings(s)
}
