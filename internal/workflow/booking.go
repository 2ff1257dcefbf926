package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/model"
)

// Occasion is a bookable ceremony.
type Occasion string

const (
	OccasionMarriage     Occasion = "Marriage Ceremony"
	OccasionGrihaPravesh Occasion = "Griha Pravesh"
	OccasionSatyanarayan Occasion = "Satyanarayan Pooja"
	OccasionFuneral      Occasion = "Funeral Rites"
	OccasionThread       Occasion = "Thread Ceremony"
)

// DefaultOccasion is preselected when the dialog opens.
const DefaultOccasion = OccasionMarriage

// Occasions lists the bookable occasions in display order.
func Occasions() []Occasion {
	return []Occasion{OccasionMarriage, OccasionGrihaPravesh, OccasionSatyanarayan, OccasionFuneral, OccasionThread}
}

// ParseOccasion matches an occasion name, ignoring case.
func ParseOccasion(s string) (Occasion, error) {
	s = strings.TrimSpace(s)
	for _, o := range Occasions() {
		if strings.EqualFold(string(o), s) {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOccasion, s)
}

// BookingView is a read-only copy of the open booking draft.
type BookingView struct {
	Provider model.Provider `json:"provider"`
	Occasion Occasion       `json:"occasion"`
	Date     string         `json:"date"`
}

// Booking is the priest booking draft. The date is free text and optional.
type Booking struct {
	rec Recorder

	open     bool
	provider model.Provider
	occasion Occasion
	date     string
}

// NewBooking creates a closed booking workflow.
func NewBooking(rec Recorder) *Booking {
	return &Booking{rec: rec}
}

// Open starts a draft for p with the default occasion and no date.
func (b *Booking) Open(p model.Provider) {
	b.open = true
	b.provider = p
	b.occasion = DefaultOccasion
	b.date = ""
}

// SetOccasion changes the occasion of the open draft.
func (b *Booking) SetOccasion(o Occasion) error {
	if !b.open {
		return ErrNotOpen
	}
	parsed, err := ParseOccasion(string(o))
	if err != nil {
		return err
	}
	b.occasion = parsed
	return nil
}

// SetDate stores the requested date as entered.
func (b *Booking) SetDate(date string) error {
	if !b.open {
		return ErrNotOpen
	}
	b.date = strings.TrimSpace(date)
	return nil
}

// Confirm records a Booked entry and closes the draft. Without an open
// draft it does nothing and reports false.
func (b *Booking) Confirm(ctx context.Context) (ledger.Entry, bool, error) {
	if !b.open {
		return ledger.Entry{}, false, nil
	}
	entry, err := b.rec.Record(ctx, b.provider.Name, Category(b.occasion), model.StatusBooked)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	b.Cancel()
	return entry, true, nil
}

// Cancel discards the draft.
func (b *Booking) Cancel() {
	b.open = false
	b.provider = model.Provider{}
	b.occasion = ""
	b.date = ""
}

// Active reports whether a draft is open.
func (b *Booking) Active() bool { return b.open }

// View returns a copy of the draft, or nil when closed.
func (b *Booking) View() *BookingView {
	if !b.open {
		return nil
	}
	return &BookingView{Provider: b.provider, Occasion: b.occasion, Date: b.date}
}

// Category is the history category of a confirmed booking.
func Category(o Occasion) string {
	return "Priest Booking - " + string(o)
}
