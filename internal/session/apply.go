package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/quickassist/internal/ledger"
	"github.com/roach88/quickassist/internal/model"
)

// Op names an intent.
type Op string

const (
	OpLogin              Op = "login"
	OpLogout             Op = "logout"
	OpSelectService      Op = "select_service"
	OpReturnToCategories Op = "return_to_categories"
	OpStartLocating      Op = "start_locating"
	OpStopLocating       Op = "stop_locating"
	OpBeginTracking      Op = "begin_tracking"
	OpEndTracking        Op = "end_tracking"
	OpCall               Op = "call"
	OpNavigate           Op = "navigate"
	OpOpenBooking        Op = "open_booking"
	OpSetOccasion        Op = "set_occasion"
	OpSetDate            Op = "set_date"
	OpConfirmBooking     Op = "confirm_booking"
	OpCancelBooking      Op = "cancel_booking"
	OpOpenDonation       Op = "open_donation"
	OpSearchDonation     Op = "search_donation"
	OpCloseDonation      Op = "close_donation"
	OpSubmitReview       Op = "submit_review"
	OpDeleteHistory      Op = "delete_history"
	OpSetAvatar          Op = "set_avatar"
	OpAcceptJob          Op = "accept_job"
	OpDeclineJob         Op = "decline_job"
)

var ErrUnknownOp = errors.New("unknown intent")

// Intent is a user intent as it arrives from the presentation layer. Only
// the fields the op needs are read.
type Intent struct {
	Op         Op              `json:"op" yaml:"op"`
	Identity   *model.Identity `json:"identity,omitempty" yaml:"identity,omitempty"`
	Service    string          `json:"service,omitempty" yaml:"service,omitempty"`
	ProviderID string          `json:"providerId,omitempty" yaml:"provider,omitempty"`
	EntryID    string          `json:"entryId,omitempty" yaml:"entry,omitempty"`
	Rating     int             `json:"rating,omitempty" yaml:"rating,omitempty"`
	Text       string          `json:"text,omitempty" yaml:"text,omitempty"`
	Occasion   string          `json:"occasion,omitempty" yaml:"occasion,omitempty"`
	Date       string          `json:"date,omitempty" yaml:"date,omitempty"`
	Kind       string          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Group      string          `json:"group,omitempty" yaml:"group,omitempty"`
	Ref        string          `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// Result carries what an intent produced beyond the state change.
type Result struct {
	Entry *ledger.Entry `json:"entry,omitempty"`
	URL   string        `json:"url,omitempty"`
	// Applied is set by intents that can be silently ignored.
	Applied *bool `json:"applied,omitempty"`
}

// Apply runs in against the orchestrator.
func (o *Orchestrator) Apply(ctx context.Context, in Intent) (Result, error) {
	var res Result
	entry := func(e ledger.Entry, err error) (Result, error) {
		if err != nil {
			return Result{}, err
		}
		res.Entry = &e
		return res, nil
	}
	applied := func(ok bool) *bool { return &ok }

	switch in.Op {
	case OpLogin:
		if in.Identity == nil {
			return res, fmt.Errorf("%w: login without identity", ErrInvalidIdentity)
		}
		return res, o.Login(ctx, *in.Identity)
	case OpLogout:
		return res, o.Logout()
	case OpSelectService:
		return res, o.SelectService(in.Service)
	case OpReturnToCategories:
		return res, o.ReturnToCategories()
	case OpStartLocating:
		return res, o.StartLocating()
	case OpStopLocating:
		return res, o.StopLocating()
	case OpBeginTracking:
		return entry(o.BeginTracking(ctx, in.ProviderID))
	case OpEndTracking:
		return res, o.EndTracking()
	case OpCall:
		return entry(o.CallProvider(ctx, in.ProviderID))
	case OpNavigate:
		url, err := o.NavigateExternally(in.ProviderID)
		res.URL = url
		return res, err
	case OpOpenBooking:
		return res, o.OpenBooking(in.ProviderID)
	case OpSetOccasion:
		return res, o.SetBookingOccasion(in.Occasion)
	case OpSetDate:
		return res, o.SetBookingDate(in.Date)
	case OpConfirmBooking:
		e, ok, err := o.ConfirmBooking(ctx)
		if err != nil {
			return Result{}, err
		}
		res.Applied = applied(ok)
		if ok {
			res.Entry = &e
		}
		return res, nil
	case OpCancelBooking:
		return res, o.CancelBooking()
	case OpOpenDonation:
		return res, o.OpenDonation()
	case OpSearchDonation:
		return res, o.SearchDonation(in.Kind, in.Group)
	case OpCloseDonation:
		return res, o.CloseDonation()
	case OpSubmitReview:
		ok, err := o.SubmitReview(ctx, in.EntryID, in.Rating, in.Text)
		res.Applied = applied(ok)
		return res, err
	case OpDeleteHistory:
		return res, o.DeleteHistory(ctx, in.EntryID)
	case OpSetAvatar:
		return res, o.SetAvatar(in.Ref)
	case OpAcceptJob:
		return entry(o.AcceptJob(ctx))
	case OpDeclineJob:
		return res, o.DeclineJob()
	}
	return res, fmt.Errorf("%w: %q", ErrUnknownOp, in.Op)
}
