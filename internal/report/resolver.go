package report

import (
	"strings"
	"sync"
)

// Placeholder is returned by Resolve for an empty identifier.
const Placeholder = "-"

// Reference is one entry of a small lookup collection such as currencies,
// categories or zones.
type Reference struct {
	ID    string `json:"id"`
	Label string `json:"name"`
}

// Resolver maps foreign-key identifiers to labels using collections loaded
// once per screen. Indexes are built lazily on first use of a collection.
// Resolve never fails: unknown ids resolve to themselves.
type Resolver struct {
	mu          sync.RWMutex
	collections map[string][]Reference
	indexes     map[string]map[string]string
}

// NewResolver returns a resolver over the given collections.
func NewResolver(collections map[string][]Reference) *Resolver {
	r := &Resolver{
		collections: make(map[string][]Reference, len(collections)),
		indexes:     map[string]map[string]string{},
	}
	for name, refs := range collections {
		r.collections[name] = refs
	}
	return r
}

// Add registers or replaces a collection. It is meant for screen setup;
// collections are read-only once the screen is displayed.
func (r *Resolver) Add(name string, refs []Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[name] = refs
	delete(r.indexes, name)
}

// Collection returns the loaded entries of name.
func (r *Resolver) Collection(name string) []Reference {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collections[name]
}

// Resolve returns the label of id in collection. It returns Placeholder for
// a nil or empty id and the stringified id when no entry matches.
func (r *Resolver) Resolve(collection string, id any) string {
	key := strings.TrimSpace(Stringify(id))
	if key == "" {
		return Placeholder
	}
	if r == nil {
		return key
	}
	if label, ok := r.index(collection)[key]; ok {
		return label
	}
	return key
}

func (r *Resolver) index(collection string) map[string]string {
	r.mu.RLock()
	idx, ok := r.indexes[collection]
	r.mu.RUnlock()
	if ok {
		return idx
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indexes[collection]; ok {
		return idx
	}
	refs := r.collections[collection]
	idx = make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		label := ref.Label
		if label == "" {
			label = ref.ID
		}
		if _, dup := idx[ref.ID]; !dup {
			idx[ref.ID] = label
		}
	}
	r.indexes[collection] = idx
	return idx
}
