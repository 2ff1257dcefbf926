package session

import (
	"context"

	"github.com/roach88/quickassist/internal/discovery"
	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/workflow"
)

// Dialog names the open engagement dialog.
type Dialog string

const (
	DialogNone     Dialog = ""
	DialogTracking Dialog = "tracking"
	DialogBooking  Dialog = "booking"
	DialogDonation Dialog = "donation"
)

// Snapshot is everything the presentation layer renders. It is a copy and
// never aliases session state.
type Snapshot struct {
	Authenticated bool            `json:"authenticated"`
	Identity      *model.Identity `json:"identity,omitempty"`

	Location     location.State `json:"location"`
	LocationText string         `json:"locationText,omitempty"`

	Discovery *discovery.View        `json:"discovery,omitempty"`
	Dialog    Dialog                 `json:"dialog,omitempty"`
	Tracking  *workflow.TrackingView `json:"tracking,omitempty"`
	Booking   *workflow.BookingView  `json:"booking,omitempty"`
	Donation  *workflow.DonationView `json:"donation,omitempty"`
	Offer     *jobs.Offer            `json:"offer,omitempty"`

	History   []ledger.Entry `json:"history"`
	LastError *RuntimeError  `json:"lastError,omitempty"`
}

// Dialog returns the open dialog.
func (o *Orchestrator) Dialog() Dialog {
	switch {
	case o.identity == nil:
		return DialogNone
	case o.tracking.Active():
		return DialogTracking
	case o.booking.Active():
		return DialogBooking
	case o.donation.Active():
		return DialogDonation
	}
	return DialogNone
}

// LastError returns the most recent absorbed failure, if any.
func (o *Orchestrator) LastError() *RuntimeError {
	if o.lastErr == nil {
		return nil
	}
	e := *o.lastErr
	return &e
}

// Snapshot returns the current session state.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	s := Snapshot{
		Location: o.tracker.State(),
		History:  []ledger.Entry{},
	}
	s.LocationText = s.Location.Status.StatusText()
	if o.identity == nil {
		return s, nil
	}

	id := *o.identity
	s.Authenticated = true
	s.Identity = &id
	s.Discovery = o.discovery.View()
	s.Dialog = o.Dialog()
	s.Tracking = o.tracking.View()
	s.Booking = o.booking.View()
	s.Donation = o.donation.View()
	if o.offer != nil {
		offer := *o.offer
		s.Offer = &offer
	}
	s.LastError = o.LastError()

	history, err := o.ledger.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	s.History = history
	return s, nil
}
