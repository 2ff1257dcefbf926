// Package catalog holds the service catalog: the category grid, the kind of
// each service and the hand-curated landmark listings.
//
// The catalog is a CUE document checked against schema.cue. The default
// catalog is embedded; Load reads a replacement from disk.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/quickassist/internal/model"
)

//go:embed schema.cue
var schemaCUE []byte

//go:embed catalog.cue
var defaultCUE []byte

// Kind decides how a selected service is answered and which provider
// actions it offers.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindLandmark  Kind = "landmark"
	KindPriest    Kind = "priest"
)

// Actions are the provider actions a kind offers.
type Actions struct {
	Call     bool `json:"call"`
	Navigate bool `json:"navigate"`
	Book     bool `json:"book"`
}

// Actions returns the actions offered on a provider card of this kind.
func (k Kind) Actions() Actions {
	switch k {
	case KindLandmark:
		return Actions{Navigate: true}
	case KindPriest:
		return Actions{Call: true, Navigate: true, Book: true}
	}
	return Actions{Call: true, Navigate: true}
}

// Category is one tile of the category grid.
type Category struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Services []string `json:"services"`
}

// Service is a resolved service name.
type Service struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Kind     Kind   `json:"kind"`
}

// Catalog is immutable once loaded and safe for concurrent use.
type Catalog struct {
	categories []Category
	services   map[string]Service // keyed by Normalize(name)
	landmarks  []model.Provider
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse("catalog.cue", defaultCUE)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file and checks it against the catalog schema.
func Load(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(path, src)
}

// Parse compiles src, unifies it with the schema and decodes the result.
func Parse(filename string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog %s: %w", filename, err)
	}

	value := schema.Unify(data)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate catalog %s: %w", filename, err)
	}

	var (
		categories []Category
		kinds      map[string]string
		landmarks  []model.Provider
	)
	if err := value.LookupPath(cue.ParsePath("categories")).Decode(&categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if v := value.LookupPath(cue.ParsePath("kinds")); v.Exists() {
		if err := v.Decode(&kinds); err != nil {
			return nil, fmt.Errorf("decode kinds: %w", err)
		}
	}
	if v := value.LookupPath(cue.ParsePath("landmarks")); v.Exists() {
		if err := v.Decode(&landmarks); err != nil {
			return nil, fmt.Errorf("decode landmarks: %w", err)
		}
	}

	return build(categories, kinds, landmarks)
}

func build(categories []Category, kinds map[string]string, landmarks []model.Provider) (*Catalog, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("catalog has no categories")
	}

	c := &Catalog{
		categories: categories,
		services:   make(map[string]Service),
		landmarks:  landmarks,
	}
	seenCategory := make(map[string]bool)
	for _, cat := range categories {
		if seenCategory[cat.ID] {
			return nil, fmt.Errorf("duplicate category %q", cat.ID)
		}
		seenCategory[cat.ID] = true
		for _, name := range cat.Services {
			key := Normalize(name)
			if prev, ok := c.services[key]; ok {
				return nil, fmt.Errorf("service %q listed in both %q and %q", name, prev.Category, cat.ID)
			}
			c.services[key] = Service{Name: name, Category: cat.ID, Kind: KindDirectory}
		}
	}

	for name, kind := range kinds {
		key := Normalize(name)
		svc, ok := c.services[key]
		if !ok {
			return nil, fmt.Errorf("kind given for unknown service %q", name)
		}
		svc.Kind = Kind(kind)
		c.services[key] = svc
		if svc.Kind == KindLandmark && len(landmarks) == 0 {
			return nil, fmt.Errorf("service %q is a landmark kind but the catalog has no landmarks", name)
		}
	}

	for _, p := range landmarks {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("landmark: %w", err)
		}
	}
	return c, nil
}

// Normalize folds case, applies NFC and collapses runs of whitespace, so
// "temple  LOCATIONS" and "Temple Locations" compare equal.
func Normalize(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	return norm.NFC.String(cases.Fold().String(collapsed))
}

// Resolve returns the kind of a service name. Names missing from the
// catalog are answered by the directory.
func (c *Catalog) Resolve(name string) Kind {
	if svc, ok := c.services[Normalize(name)]; ok {
		return svc.Kind
	}
	return KindDirectory
}

// Lookup returns the catalog entry for name.
func (c *Catalog) Lookup(name string) (Service, bool) {
	svc, ok := c.services[Normalize(name)]
	return svc, ok
}

// Categories returns the category grid in catalog order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		cat.Services = append([]string(nil), cat.Services...)
		out[i] = cat
	}
	return out
}

// Category returns one category by id.
func (c *Catalog) Category(id string) (Category, bool) {
	for _, cat := range c.categories {
		if cat.ID == id {
			cat.Services = append([]string(nil), cat.Services...)
			return cat, true
		}
	}
	return Category{}, false
}

// Landmarks returns a copy of the landmark listings in catalog order.
func (c *Catalog) Landmarks() []model.Provider {
	return model.CloneProviders(c.landmarks)
}
