package report

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Unrecognized is the group label used when a record carries no key at all.
const Unrecognized = "unrecognized"

// Record is an opaque row returned by a collection endpoint. Records are
// snapshots and are never modified by the engine.
type Record map[string]any

// Get returns the raw value of field.
func (r Record) Get(field string) any {
	return r[field]
}

// Group accumulates the records that share one key.
type Group struct {
	Key         string          `json:"key"`
	Count       int             `json:"count"`
	Sum         decimal.Decimal `json:"sum"`
	PositiveSum decimal.Decimal `json:"positiveSum"`
	NegativeSum decimal.Decimal `json:"negativeSum"`
}

// Net returns the group's contribution to the grand total.
func (g Group) Net() decimal.Decimal {
	return g.Sum.Add(g.PositiveSum).Add(g.NegativeSum)
}

// Summary is the result of one aggregation. Groups keep the order in which
// their key first appeared in the input.
type Summary struct {
	Name   string  `json:"name,omitempty"`
	Signed bool    `json:"signed"`
	Groups []Group `json:"groups"`
	index  map[string]int
}

// Len returns the number of groups.
func (s Summary) Len() int {
	return len(s.Groups)
}

// Get returns the group for key.
func (s Summary) Get(key string) (Group, bool) {
	if s.index != nil {
		i, ok := s.index[key]
		if !ok {
			return Group{}, false
		}
		return s.Groups[i], true
	}
	for _, g := range s.Groups {
		if g.Key == key {
			return g, true
		}
	}
	return Group{}, false
}

// Keys returns group keys in first-occurrence order.
func (s Summary) Keys() []string {
	keys := make([]string, len(s.Groups))
	for i, g := range s.Groups {
		keys[i] = g.Key
	}
	return keys
}

// Total returns the sum over every group, which equals the sum of the
// valued field over every aggregated record.
func (s Summary) Total() decimal.Decimal {
	total := decimal.Zero
	for _, g := range s.Groups {
		total = total.Add(g.Net())
	}
	return total
}

// Count returns the number of aggregated records.
func (s Summary) Count() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Count
	}
	return n
}

// Aggregate partitions records by keyFn and reduces valueFn per partition in
// a single pass. With signed set, positive values go to PositiveSum and
// negative values to NegativeSum; zero adds to neither. Otherwise every value
// goes to Sum. An empty key is grouped under Unrecognized.
func Aggregate[R any](records []R, keyFn func(R) string, valueFn func(R) float64, signed bool) Summary {
	summary := Summary{Signed: signed, Groups: []Group{}, index: map[string]int{}}
	for _, rec := range records {
		key := keyFn(rec)
		if key == "" {
			key = Unrecognized
		}
		i, ok := summary.index[key]
		if !ok {
			i = len(summary.Groups)
			summary.index[key] = i
			summary.Groups = append(summary.Groups, Group{Key: key})
		}
		g := &summary.Groups[i]
		g.Count++

		v := valueFn(rec)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		amount := decimal.NewFromFloat(v)
		switch {
		case !signed:
			g.Sum = g.Sum.Add(amount)
		case v > 0:
			g.PositiveSum = g.PositiveSum.Add(amount)
		case v < 0:
			g.NegativeSum = g.NegativeSum.Add(amount)
		}
	}
	return summary
}

// Field returns a key function reading field as a string.
func Field(field string) func(Record) string {
	return func(r Record) string {
		return Stringify(r[field])
	}
}

// NumberField returns a value function reading field as a number. Missing
// and non-numeric values count as zero; numeric strings are parsed.
func NumberField(field string) func(Record) float64 {
	return func(r Record) float64 {
		return ToFloat(r[field])
	}
}

// LabelKey groups by the resolved label of a foreign-key field.
func LabelKey(resolver *Resolver, collection, field string) func(Record) string {
	return func(r Record) string {
		id := r[field]
		if isBlank(id) {
			return ""
		}
		return resolver.Resolve(collection, id)
	}
}

// ToFloat coerces a decoded JSON value to float64, yielding 0 for anything
// that is not a finite number.
func ToFloat(v any) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case decimal.Decimal:
		f = val.InexactFloat64()
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Stringify renders an identifier the way it appears in reference indexes:
// integral floats lose their fraction, nil becomes "".
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return FormatValue(val)
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
