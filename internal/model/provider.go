package model

import (
	"errors"
	"fmt"
	"strings"
)

// MobileUnavailable is the mobile value for providers without a phone line.
const MobileUnavailable = "N/A"

// Provider is one listing returned by a directory or the landmark catalog.
type Provider struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Category    string  `json:"category" yaml:"category"`
	Rating      float64 `json:"rating" yaml:"rating"`
	ReviewCount int     `json:"reviewCount" yaml:"reviewCount"`
	Distance    string  `json:"distance,omitempty" yaml:"distance,omitempty"`
	Address     string  `json:"address" yaml:"address"`
	Mobile      string  `json:"mobile" yaml:"mobile"`
	IsOpen      bool    `json:"isOpen" yaml:"isOpen"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

var (
	ErrInvalidProvider   = errors.New("invalid provider record")
	ErrDuplicateProvider = errors.New("duplicate provider id")
)

// Validate rejects records a directory should never have produced.
func (p Provider) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidProvider)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: %s: missing name", ErrInvalidProvider, p.ID)
	case !finite(p.Rating) || p.Rating < 0 || p.Rating > 5:
		return fmt.Errorf("%w: %s: rating %.2f outside [0,5]", ErrInvalidProvider, p.ID, p.Rating)
	case p.ReviewCount < 0:
		return fmt.Errorf("%w: %s: negative review count", ErrInvalidProvider, p.ID)
	case strings.TrimSpace(p.Address) == "":
		return fmt.Errorf("%w: %s: missing address", ErrInvalidProvider, p.ID)
	}
	return nil
}

// ValidateProviders validates every record of a result list and rejects
// repeated ids, since actions address providers by id.
func ValidateProviders(providers []Provider) error {
	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("record %d: %w %q", i, ErrDuplicateProvider, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// HasPhone reports whether the provider can be called.
func (p Provider) HasPhone() bool {
	m := strings.TrimSpace(p.Mobile)
	return m != "" && m != MobileUnavailable
}

// CloneProviders returns a copy so callers cannot mutate a session's results.
func CloneProviders(in []Provider) []Provider {
	if in == nil {
		return nil
	}
	out := make([]Provider, len(in))
	copy(out, in)
	return out
}
