package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/config"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/registry"
	"github.com/randalmurphal/insightgraph/pkg/sanitize"
)

// ErrUnknownCollection is returned when a plan names a collection missing
// from the catalog.
var ErrUnknownCollection = errors.New("unknown collection")

// Collection describes one queryable collection.
type Collection struct {
	Name string `yaml:"-"`

	// Database overrides the store's default database. Collections in the
	// default database take part in collection selection; the others are
	// planned only by name.
	Database string `yaml:"database"`

	Description string    `yaml:"description"`
	Schema      string    `yaml:"schema"`
	Examples    []Example `yaml:"examples"`
}

// Example is a worked question/plan pair embedded in planning prompts.
// Plan is a stage list.
type Example struct {
	Question string `yaml:"question"`
	Plan     string `yaml:"plan"`
}

// Catalog is the ordered set of collections the planner knows about.
type Catalog struct {
	collections *registry.Registry[string, Collection]
}

// NewCatalog creates a catalog from collections. Every example plan must
// sanitize.
func NewCatalog(collections ...Collection) (*Catalog, error) {
	c := &Catalog{collections: registry.New[string, Collection]()}
	for _, col := range collections {
		if err := c.Add(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add adds or replaces a collection.
func (c *Catalog) Add(col Collection) error {
	if col.Name == "" {
		return errors.New("collection name is required")
	}
	if strings.Contains(col.Name, ".") {
		return fmt.Errorf("collection %q: name must not contain '.'", col.Name)
	}
	if strings.TrimSpace(col.Schema) == "" {
		return fmt.Errorf("collection %q: schema is required", col.Name)
	}
	for i, ex := range col.Examples {
		if ex.Question == "" {
			return fmt.Errorf("collection %q: example %d: question is required", col.Name, i)
		}
		if _, err := sanitize.New(sanitize.WithCollection(col.Name)).Sanitize(ex.Plan); err != nil {
			return fmt.Errorf("collection %q: example %d: %w", col.Name, i, err)
		}
	}
	c.collections.Register(col.Name, col)
	return nil
}

// Get returns the named collection.
func (c *Catalog) Get(name string) (Collection, bool) {
	return c.collections.Get(name)
}

// Names returns all collection names in catalog order.
func (c *Catalog) Names() []string {
	return c.collections.Keys()
}

// Selectable returns the collections in the default database.
func (c *Catalog) Selectable() []Collection {
	var out []Collection
	for _, col := range c.collections.Values() {
		if col.Database == "" {
			out = append(out, col)
		}
	}
	return out
}

// Databases maps each collection with a database override to that database.
func (c *Catalog) Databases() map[string]string {
	out := make(map[string]string)
	for name, col := range c.collections.All() {
		if col.Database != "" {
			out[name] = col.Database
		}
	}
	return out
}

// Describe renders "name: schema" blocks for the given collections.
func Describe(cols []Collection) string {
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s\n", col.Name, strings.TrimSpace(col.Schema))
	}
	return b.String()
}

// LoadCatalog builds a catalog from the "collections" section of cfg on
// top of the built-in collections. A file entry replaces the built-in
// collection of the same name.
//
//	collections:
//	  sales:
//	    database: sales
//	    description: Retail sales
//	    schema: |
//	      ...
//	    examples:
//	      - question: Total sales by store
//	        plan: '[{"$group": {"_id": "$storeLocation"}}]'
func LoadCatalog(cfg config.Config) (*Catalog, error) {
	c := DefaultCatalog()
	section := cfg.Sub("collections")
	for _, name := range section.Keys() {
		var col Collection
		if err := section.Decode(name, &col); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		col.Name = name
		if err := c.Add(col); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}
	return c, nil
}

// DefaultCatalog returns the built-in inspection and sales collections.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultCollections()...)
	if err != nil {
		panic(fmt.Sprintf("planner: built-in catalog: %v", err))
	}
	return c
}
