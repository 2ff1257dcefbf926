package workflow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/quickassist/internal/sched"
)

// DonationKind is what is being matched.
type DonationKind string

const (
	DonationBlood DonationKind = "Blood"
	DonationOrgan DonationKind = "Organ"
)

// Phase of the donation dialog.
type Phase string

const (
	PhaseForm      Phase = "Form"
	PhaseSearching Phase = "Searching"
	PhaseResult    Phase = "Result"
)

// DefaultDonationDelay is how long the synthetic search takes.
const DefaultDonationDelay = 3 * time.Second

// DefaultBloodGroup is preselected when the form opens.
const DefaultBloodGroup = "O+"

// EmergencyHotline is offered next to every match.
const EmergencyHotline = "102"

// BloodGroups lists the accepted blood groups.
func BloodGroups() []string {
	return []string{"A+", "A-", "B+", "B-", "O+", "O-", "AB+", "AB-"}
}

// Match is the synthetic search result. It is never written to history.
type Match struct {
	Facility    string `json:"facility"`
	Units       int    `json:"units"`
	Verified    bool   `json:"verified"`
	GroupOrType string `json:"groupOrType"`
	Hotline     string `json:"hotline"`
}

// DonationView is a read-only copy of the open donation dialog.
type DonationView struct {
	Kind        DonationKind `json:"kind"`
	GroupOrType string       `json:"groupOrType"`
	Phase       Phase        `json:"phase"`
	Match       *Match       `json:"match,omitempty"`
}

// Donation is the blood and organ match dialog. It never touches the
// directory or the ledger.
type Donation struct {
	sched sched.Scheduler
	clock *sched.Clock
	delay time.Duration

	open  bool
	gen   int64
	kind  DonationKind
	group string
	phase Phase
	match *Match
	timer sched.Timer
}

// NewDonation creates a closed donation workflow.
func NewDonation(s sched.Scheduler, clock *sched.Clock, delay time.Duration) *Donation {
	if delay <= 0 {
		delay = DefaultDonationDelay
	}
	return &Donation{sched: s, clock: clock, delay: delay}
}

// Open shows the form. Reopening always starts over at PhaseForm.
func (d *Donation) Open() {
	d.stopTimer()
	d.open = true
	d.gen = d.clock.Next()
	d.kind = DonationBlood
	d.group = DefaultBloodGroup
	d.phase = PhaseForm
	d.match = nil
}

// Search validates the request, moves to PhaseSearching and schedules the
// result.
func (d *Donation) Search(kind DonationKind, groupOrType string) error {
	if !d.open {
		return ErrNotOpen
	}
	if d.phase != PhaseForm {
		return ErrWrongPhase
	}
	normalized, err := validateDonation(kind, groupOrType)
	if err != nil {
		return err
	}

	d.kind = kind
	d.group = normalized
	d.phase = PhaseSearching
	gen := d.gen
	d.timer = d.sched.AfterFunc(d.delay, func() { d.Complete(gen) })
	slog.Debug("donation search started", "kind", kind, "group", normalized, "generation", gen)
	return nil
}

// Complete delivers the result for the dialog opened with gen. Late
// callbacks for a closed or reopened dialog are ignored.
func (d *Donation) Complete(gen int64) bool {
	if !d.open || gen != d.gen || d.phase != PhaseSearching {
		return false
	}
	d.timer = nil
	d.phase = PhaseResult
	d.match = &Match{
		Facility:    "City Blood Bank",
		Units:       3,
		Verified:    true,
		GroupOrType: d.group,
		Hotline:     EmergencyHotline,
	}
	return true
}

// Close dismisses the dialog and cancels a pending search.
func (d *Donation) Close() {
	d.stopTimer()
	d.open = false
	d.gen = 0
	d.kind = ""
	d.group = ""
	d.phase = ""
	d.match = nil
}

func (d *Donation) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Active reports whether the dialog is open.
func (d *Donation) Active() bool { return d.open }

// Phase returns the dialog phase.
func (d *Donation) Phase() Phase { return d.phase }

// Pending reports whether a search timer is scheduled.
func (d *Donation) Pending() bool { return d.timer != nil }

// View returns a copy of the dialog, or nil when closed.
func (d *Donation) View() *DonationView {
	if !d.open {
		return nil
	}
	v := &DonationView{Kind: d.kind, GroupOrType: d.group, Phase: d.phase}
	if d.match != nil {
		m := *d.match
		v.Match = &m
	}
	return v
}

func validateDonation(kind DonationKind, groupOrType string) (string, error) {
	value := strings.TrimSpace(groupOrType)
	switch kind {
	case DonationBlood:
		for _, g := range BloodGroups() {
			if strings.EqualFold(g, value) {
				return g, nil
			}
		}
		return "", fmt.Errorf("%w: unknown blood group %q", ErrInvalidDonation, groupOrType)
	case DonationOrgan:
		if value == "" {
			return "", fmt.Errorf("%w: organ type is empty", ErrInvalidDonation)
		}
		return value, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidDonation, kind)
}
