package directory

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/model"
)

// FixtureFile is the YAML layout of a fixture directory.
type FixtureFile struct {
	// Default answers services that have no entry in Services.
	Default  []model.Provider            `yaml:"default"`
	Services map[string][]model.Provider `yaml:"services"`
	// Failures lists services whose queries fail.
	Failures []string `yaml:"failures"`
}

// Fixture answers queries from fixed data. Service names are matched the
// same way the catalog matches them.
//
// Thread-safety: immutable after construction, safe for concurrent use.
type Fixture struct {
	fallback []model.Provider
	services map[string][]model.Provider
	failures map[string]bool
}

// NewFixture validates f and builds a Fixture from it.
func NewFixture(f FixtureFile) (*Fixture, error) {
	fx := &Fixture{
		fallback: f.Default,
		services: make(map[string][]model.Provider, len(f.Services)),
		failures: make(map[string]bool, len(f.Failures)),
	}
	if err := Validate(f.Default); err != nil {
		return nil, fmt.Errorf("fixture default: %w", err)
	}
	for name, providers := range f.Services {
		if err := Validate(providers); err != nil {
			return nil, fmt.Errorf("fixture %q: %w", name, err)
		}
		fx.services[catalog.Normalize(name)] = providers
	}
	for _, name := range f.Failures {
		fx.failures[catalog.Normalize(name)] = true
	}
	return fx, nil
}

// LoadFixture reads a fixture directory from a YAML file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f FixtureFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return NewFixture(f)
}

// Query implements Directory.
func (f *Fixture) Query(ctx context.Context, serviceName string, _ model.Coordinate) ([]model.Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := catalog.Normalize(serviceName)
	if f.failures[key] {
		return nil, fmt.Errorf("%w: fixture failure for %q", ErrUnavailable, serviceName)
	}
	if providers, ok := f.services[key]; ok {
		return nonNil(model.CloneProviders(providers)), nil
	}
	return nonNil(model.CloneProviders(f.fallback)), nil
}

func nonNil(p []model.Provider) []model.Provider {
	if p == nil {
		return []model.Provider{}
	}
	return p
}
