// Package entities holds the catalogue of back-office collections: where each
// one is served, how its filters map to query parameters and columns, which
// key wraps its records, and which grouped totals its reports print.
package entities

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/backoffice/internal/report"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	// ErrUnknownEntity is returned for an entity missing from the catalogue.
	ErrUnknownEntity = errors.New("entities: unknown entity")
	// ErrUnknownReference is returned for a reference collection missing from the catalogue.
	ErrUnknownReference = errors.New("entities: unknown reference collection")
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// FilterKind selects how a filter value constrains its column.
type FilterKind string

const (
	KindEq     FilterKind = "eq"
	KindSearch FilterKind = "search"
	KindBool   FilterKind = "bool"
	KindRange  FilterKind = "range"
	KindMin    FilterKind = "min"
	KindMax    FilterKind = "max"
)

// ValueType is the type a filter value is parsed into on the server.
type ValueType string

const (
	TypeText   ValueType = "text"
	TypeInt    ValueType = "int"
	TypeNumber ValueType = "number"
)

// Filter describes one user-selectable constraint.
type Filter struct {
	Key     string     `yaml:"-"`
	Kind    FilterKind `yaml:"kind"`
	Column  string     `yaml:"column"`
	Columns []string   `yaml:"columns"`
	Type    ValueType  `yaml:"type"`
	// Param is the query parameter name; it defaults to the filter key.
	Param string `yaml:"param"`
}

// ParamName returns the query parameter used for the filter.
func (f Filter) ParamName() string {
	if f.Param != "" {
		return f.Param
	}
	return f.Key
}

// RangeParams returns the lower and upper bound parameter names.
func (f Filter) RangeParams() (string, string) {
	p := f.ParamName()
	return p + "_from", p + "_to"
}

// EnvelopeDef names the keys of a collection response.
type EnvelopeDef struct {
	Records string `yaml:"records"`
	Total   string `yaml:"total"`
}

// SummaryDef describes a grouped total printed with the entity's reports.
// Records without a group key are collected under Placeholder, or under
// report.Unrecognized when it is empty.
type SummaryDef struct {
	Name        string `yaml:"name"`
	Group       string `yaml:"group"`
	Reference   string `yaml:"reference"`
	Value       string `yaml:"value"`
	Signed      bool   `yaml:"signed"`
	Placeholder string `yaml:"placeholder"`
}

// Entity describes one collection.
type Entity struct {
	Name        string            `yaml:"-"`
	Path        string            `yaml:"path"`
	Table       string            `yaml:"table"`
	Envelope    EnvelopeDef       `yaml:"envelope"`
	Columns     []string          `yaml:"columns"`
	DefaultSort string            `yaml:"default_sort"`
	Sort        []string          `yaml:"sort"`
	Filters     map[string]Filter `yaml:"filters"`
	Summaries   []SummaryDef      `yaml:"summaries"`
}

// Reference describes a small lookup collection served unpaginated.
type Reference struct {
	Name  string `yaml:"-"`
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// Catalog is the full set of entity and reference definitions.
type Catalog struct {
	References map[string]Reference `yaml:"references"`
	Entities   map[string]Entity    `yaml:"entities"`
}

// Default returns the catalogue compiled into the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile reads a catalogue from path, or the default one when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entities: open catalog: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

// Load parses and validates a YAML catalogue.
func Load(r io.Reader) (*Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("entities: decode catalog: %w", err)
	}
	if err := cat.normalize(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) normalize() error {
	for name, ref := range c.References {
		ref.Name = name
		if ref.ID == "" {
			ref.ID = "id"
		}
		if ref.Label == "" {
			ref.Label = "name"
		}
		if ref.Table == "" {
			ref.Table = name
		}
		for _, col := range []string{ref.Table, ref.ID, ref.Label} {
			if !identifier.MatchString(col) {
				return fmt.Errorf("entities: reference %s: invalid identifier %q", name, col)
			}
		}
		c.References[name] = ref
	}
	for name, ent := range c.Entities {
		ent.Name = name
		if ent.Path == "" {
			return fmt.Errorf("entities: %s: path is required", name)
		}
		if !identifier.MatchString(ent.Table) {
			return fmt.Errorf("entities: %s: invalid table %q", name, ent.Table)
		}
		known := map[string]bool{}
		for _, col := range ent.Columns {
			if !identifier.MatchString(col) {
				return fmt.Errorf("entities: %s: invalid column %q", name, col)
			}
			known[col] = true
		}
		if !known["id"] {
			return fmt.Errorf("entities: %s: columns must include id", name)
		}
		if ent.DefaultSort == "" {
			ent.DefaultSort = "id"
		}
		for _, col := range append([]string{ent.DefaultSort}, ent.Sort...) {
			if !known[col] {
				return fmt.Errorf("entities: %s: sort column %q not in columns", name, col)
			}
		}
		for key, f := range ent.Filters {
			f.Key = key
			if f.Type == "" {
				f.Type = TypeText
			}
			cols := f.Columns
			if f.Kind != KindSearch {
				cols = []string{f.Column}
			}
			if len(cols) == 0 {
				return fmt.Errorf("entities: %s: filter %s has no columns", name, key)
			}
			for _, col := range cols {
				if !known[col] {
					return fmt.Errorf("entities: %s: filter %s: unknown column %q", name, key, col)
				}
			}
			switch f.Kind {
			case KindEq, KindSearch, KindBool, KindRange, KindMin, KindMax:
			default:
				return fmt.Errorf("entities: %s: filter %s: unknown kind %q", name, key, f.Kind)
			}
			switch f.Type {
			case TypeText, TypeInt, TypeNumber:
			default:
				return fmt.Errorf("entities: %s: filter %s: unknown type %q", name, key, f.Type)
			}
			ent.Filters[key] = f
		}
		for _, s := range ent.Summaries {
			if !known[s.Group] || !known[s.Value] {
				return fmt.Errorf("entities: %s: summary %s references unknown columns", name, s.Name)
			}
			if s.Reference != "" {
				if _, ok := c.References[s.Reference]; !ok {
					return fmt.Errorf("entities: %s: summary %s: %w %q", name, s.Name, ErrUnknownReference, s.Reference)
				}
			}
		}
		c.Entities[name] = ent
	}
	return nil
}

// Entity returns the definition of name.
func (c *Catalog) Entity(name string) (Entity, error) {
	ent, ok := c.Entities[name]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return ent, nil
}

// EntityAt returns the entity served at path. Paths are matched exactly
// apart from a trailing slash.
func (c *Catalog) EntityAt(path string) (Entity, error) {
	path = strings.TrimSuffix(path, "/")
	for _, ent := range c.Entities {
		if ent.Path == path {
			return ent, nil
		}
	}
	return Entity{}, fmt.Errorf("%w: no entity at %q", ErrUnknownEntity, path)
}

// Reference returns the reference collection definition of name.
func (c *Catalog) Reference(name string) (Reference, error) {
	ref, ok := c.References[name]
	if !ok {
		return Reference{}, fmt.Errorf("%w: %q", ErrUnknownReference, name)
	}
	return ref, nil
}

// EntityNames returns every entity name in sorted order.
func (c *Catalog) EntityNames() []string {
	names := make([]string, 0, len(c.Entities))
	for name := range c.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// References returns the reference collections used by the summaries.
func (e Entity) References() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range e.Summaries {
		if s.Reference != "" && !seen[s.Reference] {
			seen[s.Reference] = true
			out = append(out, s.Reference)
		}
	}
	return out
}

// Sortable reports whether field may be used as sort key.
func (e Entity) Sortable(field string) bool {
	if field == e.DefaultSort {
		return true
	}
	for _, f := range e.Sort {
		if f == field {
			return true
		}
	}
	return false
}

// Endpoint returns the report endpoint of the entity.
func (e Entity) Endpoint() report.Endpoint {
	return report.Endpoint{
		Name:     e.Name,
		Path:     e.Path,
		Params:   paramEncoder{entity: e},
		Envelope: report.Envelope{RecordsKey: e.Envelope.Records, TotalKey: e.Envelope.Total},
	}
}

// SummarySpecs builds the grouped totals of the entity, resolving group keys
// through resolver when the summary names a reference collection.
func (e Entity) SummarySpecs(resolver *report.Resolver) []report.SummarySpec[report.Record] {
	specs := make([]report.SummarySpec[report.Record], 0, len(e.Summaries))
	for _, s := range e.Summaries {
		key := report.Field(s.Group)
		if s.Reference != "" {
			key = report.LabelKey(resolver, s.Reference, s.Group)
		}
		if s.Placeholder != "" {
			key = withPlaceholder(key, s.Placeholder)
		}
		specs = append(specs, report.SummarySpec[report.Record]{
			Name:   s.Name,
			Key:    key,
			Value:  report.NumberField(s.Value),
			Signed: s.Signed,
		})
	}
	return specs
}

func withPlaceholder(key func(report.Record) string, placeholder string) func(report.Record) string {
	return func(r report.Record) string {
		if k := key(r); k != "" {
			return k
		}
		return placeholder
	}
}

// paramEncoder maps criteria keys to the entity's parameter names. Keys the
// catalogue does not know are passed through under their own name.
type paramEncoder struct {
	entity Entity
}

func (p paramEncoder) Encode(c report.Criteria) url.Values {
	q := url.Values{}
	for _, key := range c.Keys() {
		v, _ := c.Get(key)
		f, ok := p.entity.Filters[key]
		if !ok {
			f = Filter{Key: key}
		}
		if r, isRange := v.(report.DateRange); isRange {
			from, to := f.RangeParams()
			if !r.Start.IsZero() {
				q.Set(from, r.Start.Format(time.DateOnly))
			}
			if !r.End.IsZero() {
				q.Set(to, r.End.Format(time.DateOnly))
			}
			continue
		}
		q.Set(f.ParamName(), report.FormatValue(v))
	}
	return q
}

// DecodeReferences turns the records of a reference index response into
// lookup entries using the collection's id and label fields.
func (r Reference) DecodeReferences(raw json.RawMessage) ([]report.Reference, error) {
	records, _, err := report.Envelope{}.Unwrap(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(records))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("entities: decode %s: %w", r.Name, err)
	}
	refs := make([]report.Reference, 0, len(rows))
	for _, row := range rows {
		id := report.Stringify(row[r.ID])
		if id == "" {
			continue
		}
		refs = append(refs, report.Reference{ID: id, Label: report.Stringify(row[r.Label])})
	}
	return refs, nil
}
