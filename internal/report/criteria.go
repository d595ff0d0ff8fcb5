// Package report implements the filtered report engine shared by every
// back-office list screen: filter snapshots, paginated and full-set fetches,
// grouped summaries and the controller that keeps them consistent.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateRange is a composite filter value. Either bound may be zero for an
// open-ended range; a range with both bounds zero is no constraint at all.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether neither bound is set.
func (d DateRange) IsZero() bool {
	return d.Start.IsZero() && d.End.IsZero()
}

// Criteria is an immutable snapshot of filter values keyed by filter name.
// The zero value is the empty snapshot.
type Criteria struct {
	values map[string]any
}

// Len returns the number of active constraints.
func (c Criteria) Len() int {
	return len(c.values)
}

// Get returns the value stored under key.
func (c Criteria) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the active filter keys in sorted order.
func (c Criteria) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fingerprint returns a canonical encoding of the snapshot. Two snapshots
// with the same fingerprint produce the same query.
func (c Criteria) Fingerprint() string {
	var b strings.Builder
	for i, k := range c.Keys() {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kindOf(c.values[k]))
		b.WriteByte(':')
		b.WriteString(FormatValue(c.values[k]))
	}
	return b.String()
}

// Equal reports whether both snapshots hold identical constraints.
func (c Criteria) Equal(other Criteria) bool {
	return c.Fingerprint() == other.Fingerprint()
}

// With returns a copy of c with key set to value, following Builder.Set rules.
func (c Criteria) With(key string, value any) Criteria {
	b := NewBuilderFrom(c)
	b.Set(key, value)
	return b.Snapshot()
}

// FormatValue renders a criteria value the way it is sent on the wire.
// DateRange renders as "start..end" with date-only bounds.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case DateRange:
		return formatDate(val.Start) + ".." + formatDate(val.End)
	default:
		return fmt.Sprint(val)
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "s"
	case bool:
		return "b"
	case int64, uint64:
		return "i"
	case float64:
		return "f"
	case DateRange:
		return "r"
	default:
		return "x"
	}
}

// Builder holds the mutable filter state of one screen. It is not safe for
// concurrent use; the Controller serialises access to its builder.
type Builder struct {
	values map[string]any
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{values: map[string]any{}}
}

// NewBuilderFrom returns a builder seeded with the constraints of c.
func NewBuilderFrom(c Criteria) *Builder {
	b := NewBuilder()
	for k, v := range c.values {
		b.values[k] = v
	}
	return b
}

// Set stores value under key, or removes the constraint when value is empty:
// "", nil, false, a nil pointer or a zero DateRange. Values are not validated.
func (b *Builder) Set(key string, value any) {
	normalized, ok := normalize(value)
	if !ok {
		delete(b.values, key)
		return
	}
	b.values[key] = normalized
}

// Clear removes every constraint.
func (b *Builder) Clear() {
	b.values = map[string]any{}
}

// Snapshot returns an immutable copy of the current constraints.
func (b *Builder) Snapshot() Criteria {
	if len(b.values) == 0 {
		return Criteria{}
	}
	values := make(map[string]any, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return Criteria{values: values}
}

// normalize collapses the accepted value types onto string, bool, int64,
// uint64, float64 and DateRange. The second result is false for values that
// mean "no constraint".
func normalize(value any) (any, bool) {
	if value == nil {
		return nil, false
	}
	switch v := value.(type) {
	case string:
		return v, v != ""
	case bool:
		return v, v
	case DateRange:
		return v, !v.IsZero()
	case *DateRange:
		if v == nil {
			return nil, false
		}
		return normalize(*v)
	case time.Time:
		if v.IsZero() {
			return nil, false
		}
		return v.Format(time.DateOnly), true
	case fmt.Stringer:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, false
		}
		return normalize(v.String())
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
		return normalize(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return nil, false
		}
		return f, true
	case reflect.String:
		return normalize(rv.String())
	case reflect.Bool:
		return normalize(rv.Bool())
	}
	return fmt.Sprint(value), true
}

type criteriaEntry struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// MarshalJSON encodes the snapshot with typed entries so it survives a round
// trip without changing its fingerprint.
func (c Criteria) MarshalJSON() ([]byte, error) {
	out := make(map[string]criteriaEntry, len(c.values))
	for k, v := range c.values {
		entry := criteriaEntry{Kind: kindOf(v)}
		if r, ok := v.(DateRange); ok {
			entry.Start = formatTimestamp(r.Start)
			entry.End = formatTimestamp(r.End)
		} else {
			entry.Value = FormatValue(v)
		}
		out[k] = entry
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (c *Criteria) UnmarshalJSON(data []byte) error {
	var in map[string]criteriaEntry
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	b := NewBuilder()
	for k, entry := range in {
		v, err := entry.decode()
		if err != nil {
			return fmt.Errorf("report: criteria %q: %w", k, err)
		}
		b.Set(k, v)
	}
	*c = b.Snapshot()
	return nil
}

func (e criteriaEntry) decode() (any, error) {
	switch e.Kind {
	case "s", "x":
		return e.Value, nil
	case "b":
		return strconv.ParseBool(e.Value)
	case "i":
		if strings.HasPrefix(e.Value, "-") {
			return strconv.ParseInt(e.Value, 10, 64)
		}
		u, err := strconv.ParseUint(e.Value, 10, 64)
		if err != nil {
			return nil, err
		}
		if u <= math.MaxInt64 {
			return int64(u), nil
		}
		return u, nil
	case "f":
		return strconv.ParseFloat(e.Value, 64)
	case "r":
		start, err := parseTimestamp(e.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseTimestamp(e.End)
		if err != nil {
			return nil, err
		}
		return DateRange{Start: start, End: end}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", e.Kind)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
