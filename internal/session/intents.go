package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/discovery"
	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/workflow"
)

// Login opens a session for id. An existing session is logged out first.
//
// A partner whose job source cannot be reached is still logged in; the
// failure is kept as the session's last error.
func (o *Orchestrator) Login(ctx context.Context, id model.Identity) error {
	if strings.TrimSpace(id.ID) == "" || !id.Role.Valid() {
		return fmt.Errorf("%w: id %q role %q", ErrInvalidIdentity, id.ID, id.Role)
	}
	if err := o.Logout(); err != nil {
		return err
	}

	opts := append([]ledger.Option{ledger.WithClock(o.clock)}, o.ledgerOpts...)
	l, err := ledger.Open(ledger.MemoryPath, opts...)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	epoch := o.clock.Next()
	s := loopScheduler{inner: o.scheduler, post: o.post, epoch: epoch}
	ident := id

	o.epoch = epoch
	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.identity = &ident
	o.ledger = l
	o.tracking = workflow.NewTracking(s, o.clock, l, o.trackingOpts)
	o.booking = workflow.NewBooking(l)
	o.donation = workflow.NewDonation(s, o.clock, o.donationDelay)
	o.metrics.sessionOpened()

	slog.Info("session opened", "user", id.ID, "role", id.Role, "epoch", epoch)

	if id.Role == model.RolePartner {
		sub, err := o.jobs.Subscribe(o.ctx, ident, func(offer jobs.Offer) {
			o.post(event{kind: eventOffer, gen: epoch, offer: offer})
		})
		if err != nil {
			o.fail(ErrCodeJobSourceUnavailable, err, map[string]string{"user": id.ID})
		} else {
			o.jobSub = sub
		}
	}
	return nil
}

// Logout ends the session. The location watch, discovery, every dialog, any
// pending offer and the history are discarded. Logging out twice is a no-op.
func (o *Orchestrator) Logout() error {
	if o.identity == nil {
		return nil
	}
	user := o.identity.ID

	var errs []error
	if o.jobSub != nil {
		if err := o.jobSub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job subscription: %w", err))
		}
	}
	o.tracker.Reset()
	o.closeDiscovery()
	o.tracking.End()
	o.booking.Cancel()
	o.donation.Close()
	o.cancel()
	if err := o.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}

	o.epoch = 0
	o.ctx, o.cancel = nil, nil
	o.identity = nil
	o.ledger = nil
	o.tracking = nil
	o.booking = nil
	o.donation = nil
	o.jobSub = nil
	o.offer = nil
	o.lastErr = nil
	o.metrics.sessionClosed()

	slog.Info("session closed", "user", user)
	return errors.Join(errs...)
}

// Authenticated reports whether a user is logged in.
func (o *Orchestrator) Authenticated() bool {
	return o.identity != nil
}

// Identity returns the logged-in identity.
func (o *Orchestrator) Identity() (model.Identity, bool) {
	if o.identity == nil {
		return model.Identity{}, false
	}
	return *o.identity, true
}

// SetAvatar stores a local avatar reference. It is the only identity field
// the session writes.
func (o *Orchestrator) SetAvatar(ref string) error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.identity.AvatarRef = strings.TrimSpace(ref)
	return nil
}

func (o *Orchestrator) requireLogin() error {
	if o.identity == nil {
		return ErrNotAuthenticated
	}
	return nil
}

// StartLocating begins live positioning. Without positioning support it
// returns location.ErrCapabilityUnavailable; the fallback coordinate is
// seeded and the session carries on.
func (o *Orchestrator) StartLocating() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	if err := o.tracker.Start(); err != nil {
		o.fail(ErrCodeCapabilityUnavailable, err, nil)
		return err
	}
	return nil
}

// StopLocating cancels live positioning. The last coordinate is kept.
func (o *Orchestrator) StopLocating() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.tracker.Stop()
	return nil
}

// SelectService opens a Discovery Session for name, replacing the current
// one. Tracking and booking dialogs belong to the old results and are
// closed.
func (o *Orchestrator) SelectService(name string) error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.closeResultDialogs()
	o.closeDiscovery()

	req, err := o.discovery.Open(name)
	if err != nil {
		return err
	}
	if req == nil {
		o.metrics.discovery(string(o.discovery.Kind()), string(discovery.StatusSucceeded))
		return nil
	}
	o.dispatch(*req)
	return nil
}

func (o *Orchestrator) dispatch(req discovery.Request) {
	ctx, cancel := context.WithCancel(o.ctx)
	o.queryCancel = cancel
	dir := o.directory
	o.dispatcher.Dispatch(req, func() {
		defer cancel()
		start := time.Now()
		providers, err := dir.Query(ctx, req.ServiceName, req.Origin)
		o.metrics.directoryLatency(time.Since(start))
		o.post(event{kind: eventDirectory, gen: req.Gen, providers: providers, err: err})
	})
}

// ReturnToCategories closes the Discovery Session and the dialogs that
// belong to it.
func (o *Orchestrator) ReturnToCategories() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.closeResultDialogs()
	o.closeDiscovery()
	return nil
}

func (o *Orchestrator) closeDiscovery() {
	if o.queryCancel != nil {
		o.queryCancel()
		o.queryCancel = nil
	}
	o.discovery.Close()
}

func (o *Orchestrator) closeResultDialogs() {
	o.tracking.End()
	o.booking.Cancel()
}

// openDialog closes every dialog other than keep.
func (o *Orchestrator) openDialog(keep Dialog) {
	if keep != DialogTracking {
		o.tracking.End()
	}
	if keep != DialogBooking {
		o.booking.Cancel()
	}
	if keep != DialogDonation {
		o.donation.Close()
	}
}

// result finds a provider in the current results and checks that the
// service offers the action.
func (o *Orchestrator) result(providerID string, allowed func(catalog.Actions) bool) (model.Provider, error) {
	if !o.discovery.Active() {
		return model.Provider{}, ErrNoDiscovery
	}
	p, ok := o.discovery.Provider(providerID)
	if !ok {
		return model.Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if !allowed(o.discovery.Kind().Actions()) {
		return model.Provider{}, fmt.Errorf("%w: %s", ErrActionUnavailable, o.discovery.Kind())
	}
	return p, nil
}

func canNavigate(a catalog.Actions) bool { return a.Navigate }
func canCall(a catalog.Actions) bool     { return a.Call }
func canBook(a catalog.Actions) bool     { return a.Book }

// BeginTracking opens the tracking dialog for a provider in the results.
func (o *Orchestrator) BeginTracking(ctx context.Context, providerID string) (ledger.Entry, error) {
	if err := o.requireLogin(); err != nil {
		return ledger.Entry{}, err
	}
	p, err := o.result(providerID, canNavigate)
	if err != nil {
		return ledger.Entry{}, err
	}
	o.openDialog(DialogTracking)
	entry, err := o.tracking.Begin(ctx, p, o.discovery.Query())
	if err != nil {
		return ledger.Entry{}, err
	}
	o.metrics.historyEntry(string(entry.Status))
	return entry, nil
}

// EndTracking closes the tracking dialog and stops its tick.
func (o *Orchestrator) EndTracking() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.tracking.End()
	return nil
}

// CallProvider records a call. An empty providerID calls the provider in
// the tracking dialog.
func (o *Orchestrator) CallProvider(ctx context.Context, providerID string) (ledger.Entry, error) {
	if err := o.requireLogin(); err != nil {
		return ledger.Entry{}, err
	}

	var (
		entry ledger.Entry
		err   error
	)
	if providerID == "" || (o.tracking.Active() && o.tracking.View().Provider.ID == providerID) {
		entry, err = o.tracking.Call(ctx)
	} else {
		var p model.Provider
		p, err = o.result(providerID, canCall)
		if err != nil {
			return ledger.Entry{}, err
		}
		entry, err = workflow.Call(ctx, o.ledger, p, o.discovery.Query())
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	o.metrics.historyEntry(string(entry.Status))
	return entry, nil
}

// NavigateExternally returns the maps link for a provider. An empty
// providerID uses the provider in the tracking dialog. Navigation is not
// recorded.
func (o *Orchestrator) NavigateExternally(providerID string) (string, error) {
	if err := o.requireLogin(); err != nil {
		return "", err
	}
	if providerID == "" {
		return o.tracking.NavigationURL()
	}
	p, err := o.result(providerID, canNavigate)
	if err != nil {
		return "", err
	}
	return workflow.MapsURL(p.Address), nil
}

// OpenBooking opens a booking draft for a provider in the results.
func (o *Orchestrator) OpenBooking(providerID string) error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	p, err := o.result(providerID, canBook)
	if err != nil {
		return err
	}
	o.openDialog(DialogBooking)
	o.booking.Open(p)
	return nil
}

// SetBookingOccasion changes the occasion of the open draft.
func (o *Orchestrator) SetBookingOccasion(occasion string) error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	return o.booking.SetOccasion(workflow.Occasion(occasion))
}

// SetBookingDate sets the requested date of the open draft.
func (o *Orchestrator) SetBookingDate(date string) error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	return o.booking.SetDate(date)
}

// ConfirmBooking records the draft as Booked and closes it. Without an
// open draft it does nothing and reports false.
func (o *Orchestrator) ConfirmBooking(ctx context.Context) (ledger.Entry, bool, error) {
	if err := o.requireLogin(); err != nil {
		return ledger.Entry{}, false, err
	}
	entry, ok, err := o.booking.Confirm(ctx)
	if ok {
		o.metrics.historyEntry(string(entry.Status))
	}
	return entry, ok, err
}

// CancelBooking discards the draft.
func (o *Orchestrator) CancelBooking() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.booking.Cancel()
	return nil
}

// OpenDonation opens the donation dialog at the form.
func (o *Orchestrator) OpenDonation() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.openDialog(DialogDonation)
	o.donation.Open()
	return nil
}

// SearchDonation starts a donation search in the open dialog.
func (o *Orchestrator) SearchDonation(kind, groupOrType string) error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	return o.donation.Search(workflow.DonationKind(kind), groupOrType)
}

// CloseDonation dismisses the donation dialog.
func (o *Orchestrator) CloseDonation() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	o.donation.Close()
	return nil
}

// History returns the ledger, newest first.
func (o *Orchestrator) History(ctx context.Context) ([]ledger.Entry, error) {
	if err := o.requireLogin(); err != nil {
		return nil, err
	}
	return o.ledger.List(ctx)
}

// SubmitReview attaches a review to a completed entry. Ineligible entries
// and out-of-range ratings are ignored and reported as false.
func (o *Orchestrator) SubmitReview(ctx context.Context, entryID string, rating int, text string) (bool, error) {
	if err := o.requireLogin(); err != nil {
		return false, err
	}
	return o.ledger.AttachReview(ctx, entryID, rating, text)
}

// DeleteHistory removes an entry. Unknown ids are ignored.
func (o *Orchestrator) DeleteHistory(ctx context.Context, entryID string) error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	return o.ledger.Remove(ctx, entryID)
}

// AcceptJob records the pending offer as Job Accepted and clears it.
func (o *Orchestrator) AcceptJob(ctx context.Context) (ledger.Entry, error) {
	if err := o.requireLogin(); err != nil {
		return ledger.Entry{}, err
	}
	if o.offer == nil {
		return ledger.Entry{}, ErrNoOffer
	}
	entry, err := o.ledger.Record(ctx, o.offer.Customer, o.offer.Service, model.StatusJobAccepted)
	if err != nil {
		return ledger.Entry{}, err
	}
	slog.Info("job accepted", "offer", o.offer.ID)
	o.offer = nil
	o.metrics.historyEntry(string(entry.Status))
	return entry, nil
}

// DeclineJob clears the pending offer.
func (o *Orchestrator) DeclineJob() error {
	if err := o.requireLogin(); err != nil {
		return err
	}
	if o.offer == nil {
		return ErrNoOffer
	}
	slog.Info("job declined", "offer", o.offer.ID)
	o.offer = nil
	return nil
}
