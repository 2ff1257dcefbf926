// Package directory implements the provider directory collaborators a
// discovery session queries for everything that is not a landmark.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/quickassist/internal/model"
)

var (
	// ErrMalformedResponse means the directory answered with data that does
	// not decode into valid provider records.
	ErrMalformedResponse = errors.New("malformed directory response")

	// ErrUnavailable means the directory could not be reached.
	ErrUnavailable = errors.New("directory unavailable")
)

// Directory returns providers for a service near origin, in the
// directory's own ranking. It may return an empty slice.
type Directory interface {
	Query(ctx context.Context, serviceName string, origin model.Coordinate) ([]model.Provider, error)
}

// Func adapts a function to Directory.
type Func func(ctx context.Context, serviceName string, origin model.Coordinate) ([]model.Provider, error)

func (f Func) Query(ctx context.Context, serviceName string, origin model.Coordinate) ([]model.Provider, error) {
	return f(ctx, serviceName, origin)
}

// Validate checks every record of a response and rejects duplicate ids,
// which would make provider lookup by id ambiguous.
func Validate(providers []model.Provider) error {
	if err := model.ValidateProviders(providers); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	for i, p := range providers {
		if p.Mobile == "" {
			return fmt.Errorf("%w: record %d: missing mobile", ErrMalformedResponse, i)
		}
	}
	return nil
}
