// Package workflow implements the engagement dialogs layered on discovery
// results: tracking simulation, priest booking and donation matching.
//
// Each workflow is a small state machine driven from the session loop.
// Timer callbacks carry the generation of the dialog that scheduled them;
// closing or reopening a dialog bumps the generation, so a callback that
// was already queued becomes a no-op.
package workflow

import (
	"context"
	"errors"

	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/model"
)

var (
	ErrNotOpen         = errors.New("dialog is not open")
	ErrNoPhone         = errors.New("provider has no phone line")
	ErrUnknownOccasion = errors.New("unknown booking occasion")
	ErrInvalidDonation = errors.New("invalid donation request")
	ErrWrongPhase      = errors.New("donation search is not in the form phase")
)

// Recorder appends history entries. ledger.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, providerName, category string, status model.HistoryStatus) (ledger.Entry, error)
}

// DefaultServiceLabel is the history category used when no service is active.
const DefaultServiceLabel = "Service"

func serviceLabel(service string) string {
	if service == "" {
		return DefaultServiceLabel
	}
	return service
}

// Call records a placed call to p as a Completed engagement under service.
func Call(ctx context.Context, rec Recorder, p model.Provider, service string) (ledger.Entry, error) {
	if !p.HasPhone() {
		return ledger.Entry{}, ErrNoPhone
	}
	return rec.Record(ctx, p.Name, serviceLabel(service), model.StatusCompleted)
}
