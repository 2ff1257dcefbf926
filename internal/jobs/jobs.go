// Package jobs delivers incoming job offers to partner accounts.
//
// The session subscribes when a partner logs in and closes the
// subscription on logout. Offers are delivered on the source's goroutine;
// the session re-posts them onto its loop.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/quickassist/internal/model"
)

// ErrInvalidOffer is returned for offers missing a customer or service.
var ErrInvalidOffer = errors.New("invalid job offer")

// DefaultService is the service named in offers to partners without a profession.
const DefaultService = "General Help"

// Offer is one incoming job.
type Offer struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Service  string `json:"service"`
	Distance string `json:"distance"`

	// PartnerID and Profession address the offer. Empty matches everyone.
	PartnerID  string `json:"partnerId,omitempty"`
	Profession string `json:"profession,omitempty"`
}

// Validate checks the fields shown to the partner.
func (o Offer) Validate() error {
	if strings.TrimSpace(o.Customer) == "" {
		return fmt.Errorf("%w: missing customer", ErrInvalidOffer)
	}
	if strings.TrimSpace(o.Service) == "" {
		return fmt.Errorf("%w: missing service", ErrInvalidOffer)
	}
	return nil
}

// For reports whether the offer is addressed to partner.
func (o Offer) For(partner model.Identity) bool {
	if o.PartnerID != "" && o.PartnerID != partner.ID {
		return false
	}
	if o.Profession != "" && !strings.EqualFold(o.Profession, partner.Profession) {
		return false
	}
	return true
}

// Subscription stops delivery when closed. Close is idempotent.
type Subscription interface {
	Close() error
}

// Source is the job matching collaborator.
type Source interface {
	Subscribe(ctx context.Context, partner model.Identity, deliver func(Offer)) (Subscription, error)
}

// None never delivers anything.
type None struct{}

func (None) Subscribe(context.Context, model.Identity, func(Offer)) (Subscription, error) {
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Close() error { return nil }

// Decode parses a JSON offer and validates it.
func Decode(body []byte) (Offer, error) {
	var o Offer
	if err := json.Unmarshal(body, &o); err != nil {
		return Offer{}, fmt.Errorf("%w: %w", ErrInvalidOffer, err)
	}
	if err := o.Validate(); err != nil {
		return Offer{}, err
	}
	return o, nil
}
