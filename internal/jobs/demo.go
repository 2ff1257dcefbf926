package jobs

import (
	"context"
	"time"

	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/sched"
)

// DefaultDemoDelay is how long after login the demo offer arrives.
const DefaultDemoDelay = 8 * time.Second

// DemoSource sends every partner a single synthetic offer after a delay.
type DemoSource struct {
	sched sched.Scheduler
	delay time.Duration
}

// NewDemoSource creates a demo source on s.
func NewDemoSource(s sched.Scheduler, delay time.Duration) *DemoSource {
	if delay <= 0 {
		delay = DefaultDemoDelay
	}
	return &DemoSource{sched: s, delay: delay}
}

// Subscribe schedules the offer.
func (d *DemoSource) Subscribe(_ context.Context, partner model.Identity, deliver func(Offer)) (Subscription, error) {
	offer := DemoOffer(partner)
	t := d.sched.AfterFunc(d.delay, func() { deliver(offer) })
	return timerSubscription{t}, nil
}

// DemoOffer is the synthetic offer for partner.
func DemoOffer(partner model.Identity) Offer {
	service := partner.Profession
	if service == "" {
		service = DefaultService
	}
	return Offer{
		ID:        "demo-" + partner.ID,
		Customer:  "Amit Patel",
		Service:   service,
		Distance:  "2.5 km",
		PartnerID: partner.ID,
	}
}

type timerSubscription struct {
	t sched.Timer
}

func (s timerSubscription) Close() error {
	s.t.Stop()
	return nil
}
