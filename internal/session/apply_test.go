package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quickassist/internal/model"
)

func TestApply_BookingFlow(t *testing.T) {
	ts := newTestSession(t)
	ctx := context.Background()
	id := seeker()

	_, err := ts.o.Apply(ctx, Intent{Op: OpLogin, Identity: &id})
	require.NoError(t, err)
	_, err = ts.o.Apply(ctx, Intent{Op: OpSelectService, Service: "Priest Booking"})
	require.NoError(t, err)
	ts.disp.ReleaseAll()
	ts.o.Drain()

	steps := []Intent{
		{Op: OpOpenBooking, ProviderID: "pr1"},
		{Op: OpSetOccasion, Occasion: "Thread Ceremony"},
		{Op: OpSetDate, Date: "2026-12-01"},
	}
	for _, in := range steps {
		_, err := ts.o.Apply(ctx, in)
		require.NoError(t, err, in.Op)
	}

	res, err := ts.o.Apply(ctx, Intent{Op: OpConfirmBooking})
	require.NoError(t, err)
	require.NotNil(t, res.Applied)
	assert.True(t, *res.Applied)
	require.NotNil(t, res.Entry)
	assert.Equal(t, model.StatusBooked, res.Entry.Status)
	assert.Equal(t, "Priest Booking - Thread Ceremony", res.Entry.Category)

	res, err = ts.o.Apply(ctx, Intent{Op: OpConfirmBooking})
	require.NoError(t, err)
	assert.False(t, *res.Applied)
	assert.Nil(t, res.Entry)
}

func TestApply_CallThenReview(t *testing.T) {
	ts := newTestSession(t)
	ts.login(t)
	ts.search(t, "Puncture Repair")
	ctx := context.Background()

	res, err := ts.o.Apply(ctx, Intent{Op: OpCall, ProviderID: "p1"})
	require.NoError(t, err)
	require.NotNil(t, res.Entry)

	res, err = ts.o.Apply(ctx, Intent{Op: OpSubmitReview, EntryID: res.Entry.ID, Rating: 5, Text: "Great"})
	require.NoError(t, err)
	assert.True(t, *res.Applied)

	res, err = ts.o.Apply(ctx, Intent{Op: OpNavigate, ProviderID: "p1"})
	require.NoError(t, err)
	assert.Contains(t, res.URL, "maps/search")
}

func TestApply_Errors(t *testing.T) {
	ts := newTestSession(t)
	ctx := context.Background()

	_, err := ts.o.Apply(ctx, Intent{Op: "teleport"})
	assert.ErrorIs(t, err, ErrUnknownOp)

	_, err = ts.o.Apply(ctx, Intent{Op: OpLogin})
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = ts.o.Apply(ctx, Intent{Op: OpOpenDonation})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
