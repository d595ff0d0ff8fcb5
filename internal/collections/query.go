// Package collections serves the paginated collection endpoints and the
// reference index endpoints described by the entity catalogue.
package collections

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/report"
)

const defaultPageSize = 20

// Condition is one parsed filter constraint.
type Condition struct {
	Filter entities.Filter
	Value  any
	// Upper is the exclusive upper bound of a range condition.
	Upper any
}

// Query is a validated collection request.
type Query struct {
	Entity     entities.Entity
	Conditions []Condition
	SortBy     string
	SortDesc   bool
	Page       int
	PageSize   int
}

// ParseQuery validates the request parameters against the entity. Unknown
// parameters are ignored; malformed values are validation errors.
func ParseQuery(ent entities.Entity, params url.Values, maxPageSize int) (Query, error) {
	q := Query{Entity: ent, SortBy: ent.DefaultSort, Page: 1, PageSize: defaultPageSize}

	var err error
	if raw := params.Get(report.ParamPage); raw != "" {
		if q.Page, err = positiveInt(report.ParamPage, raw); err != nil {
			return Query{}, err
		}
	}
	if raw := params.Get(report.ParamPageSize); raw != "" {
		if q.PageSize, err = positiveInt(report.ParamPageSize, raw); err != nil {
			return Query{}, err
		}
	}
	if maxPageSize > 0 && q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}

	if field := params.Get(report.ParamSortBy); field != "" {
		if !ent.Sortable(field) {
			return Query{}, fmt.Errorf("%w: cannot sort %s by %q", httpx.ErrValidation, ent.Name, field)
		}
		q.SortBy = field
	}
	switch order := strings.ToLower(params.Get(report.ParamSortOrder)); order {
	case "", string(report.Asc):
	case string(report.Desc):
		q.SortDesc = true
	default:
		return Query{}, fmt.Errorf("%w: sortOrder must be asc or desc, got %q", httpx.ErrValidation, order)
	}

	for _, key := range sortedFilterKeys(ent) {
		f := ent.Filters[key]
		cond, ok, err := parseCondition(f, params)
		if err != nil {
			return Query{}, err
		}
		if ok {
			q.Conditions = append(q.Conditions, cond)
		}
	}
	return q, nil
}

func parseCondition(f entities.Filter, params url.Values) (Condition, bool, error) {
	if f.Kind == entities.KindRange {
		fromParam, toParam := f.RangeParams()
		from, to := params.Get(fromParam), params.Get(toParam)
		if from == "" && to == "" {
			return Condition{}, false, nil
		}
		cond := Condition{Filter: f}
		if from != "" {
			d, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return Condition{}, false, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD), got %q", httpx.ErrValidation, fromParam, from)
			}
			cond.Value = d
		}
		if to != "" {
			d, err := time.Parse(time.DateOnly, to)
			if err != nil {
				return Condition{}, false, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD), got %q", httpx.ErrValidation, toParam, to)
			}
			cond.Upper = d.AddDate(0, 0, 1)
		}
		if from != "" && to != "" && !cond.Value.(time.Time).Before(cond.Upper.(time.Time)) {
			return Condition{}, false, fmt.Errorf("%w: %s is after %s", httpx.ErrValidation, fromParam, toParam)
		}
		return cond, true, nil
	}

	raw := strings.TrimSpace(params.Get(f.ParamName()))
	if raw == "" {
		return Condition{}, false, nil
	}
	switch f.Kind {
	case entities.KindSearch:
		return Condition{Filter: f, Value: "%" + escapeLike(raw) + "%"}, true, nil
	case entities.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Condition{}, false, fmt.Errorf("%w: %s must be a boolean, got %q", httpx.ErrValidation, f.ParamName(), raw)
		}
		if !b {
			return Condition{}, false, nil
		}
		return Condition{Filter: f, Value: true}, true, nil
	}
	v, err := typedValue(f, raw)
	if err != nil {
		return Condition{}, false, err
	}
	return Condition{Filter: f, Value: v}, true, nil
}

func typedValue(f entities.Filter, raw string) (any, error) {
	switch f.Type {
	case entities.TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer, got %q", httpx.ErrValidation, f.ParamName(), raw)
		}
		return n, nil
	case entities.TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a number, got %q", httpx.ErrValidation, f.ParamName(), raw)
		}
		return n, nil
	}
	return raw, nil
}

func positiveInt(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", httpx.ErrValidation, name, raw)
	}
	return n, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func sortedFilterKeys(ent entities.Entity) []string {
	keys := make([]string, 0, len(ent.Filters))
	for k := range ent.Filters {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}
