package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roach88/quickassist/internal/model"
)

// DefaultExchange is the topic exchange offers are published to.
const DefaultExchange = "quickassist.jobs"

// Routing keys understood by AMQPSource. Publishers pick one per offer.
const (
	RouteAll          = "job.all"
	routePartner      = "job.partner."
	routeProfession   = "job.profession."
	defaultRetry      = 5 * time.Second
	defaultDialWindow = 10 * time.Second
)

// PartnerRoute addresses one partner by id.
func PartnerRoute(id string) string { return routePartner + routeWord(id) }

// ProfessionRoute addresses every partner of a profession.
func ProfessionRoute(profession string) string { return routeProfession + routeWord(profession) }

// routeWord folds s into a single topic word: lower case, runs of anything
// but letters and digits become one "-".
func routeWord(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(parts, "-")
}

// bindings are the routing keys a partner's queue is bound with.
func bindings(partner model.Identity) []string {
	keys := []string{RouteAll, PartnerRoute(partner.ID)}
	if strings.TrimSpace(partner.Profession) != "" {
		keys = append(keys, ProfessionRoute(partner.Profession))
	}
	return keys
}

// AMQPConfig configures an AMQPSource.
type AMQPConfig struct {
	URL      string
	Exchange string
	Prefetch int
	// DialTimeout bounds one connection attempt. Retry is the pause
	// before reconnecting after a failure.
	DialTimeout time.Duration
	Retry       time.Duration
}

// AMQPSource consumes JSON offers from a RabbitMQ topic exchange. Every
// subscription declares its own exclusive, auto-delete queue bound to the
// partner's routing keys, so each partner gets its own copy of an offer.
//
// Subscribe never touches the network. Connecting, consuming and
// reconnecting happen on a background goroutine owned by the subscription.
type AMQPSource struct {
	cfg AMQPConfig
}

// NewAMQPSource creates a source.
func NewAMQPSource(cfg AMQPConfig) *AMQPSource {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialWindow
	}
	if cfg.Retry <= 0 {
		cfg.Retry = defaultRetry
	}
	return &AMQPSource{cfg: cfg}
}

// Subscribe checks the broker URL and starts consuming in the background.
func (s *AMQPSource) Subscribe(ctx context.Context, partner model.Identity, deliver func(Offer)) (Subscription, error) {
	if s.cfg.URL == "" {
		return nil, errors.New("jobs: amqp url is empty")
	}
	if _, err := amqp.ParseURI(s.cfg.URL); err != nil {
		return nil, fmt.Errorf("jobs: amqp url: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	go s.run(cctx, partner, deliver)
	return &amqpSubscription{cancel: cancel}, nil
}

// run consumes until ctx is cancelled, reconnecting after failures.
func (s *AMQPSource) run(ctx context.Context, partner model.Identity, deliver func(Offer)) {
	for {
		err := s.consume(ctx, partner, deliver)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("job subscription interrupted",
			"exchange", s.cfg.Exchange,
			"partner", partner.ID,
			"error", err,
			"retry", s.cfg.Retry,
		)

		t := time.NewTimer(s.cfg.Retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// consume runs one connection: declare, bind, then handle deliveries until
// ctx ends or the channel closes.
func (s *AMQPSource) consume(ctx context.Context, partner model.Identity, deliver func(Offer)) error {
	conn, err := amqp.DialConfig(s.cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(s.cfg.DialTimeout),
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set QoS (prefetch=%d): %w", s.cfg.Prefetch, err)
	}
	if err := ch.ExchangeDeclare(s.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", s.cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range bindings(partner) {
		if err := ch.QueueBind(q.Name, key, s.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, s.cfg.Exchange, err)
		}
	}

	tag := "quickassist-" + partner.ID
	deliveries, err := ch.Consume(
		q.Name,
		tag,
		false, // autoAck
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume(%s): %w", q.Name, err)
	}
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	slog.Info("job subscription started", "exchange", s.cfg.Exchange, "queue", q.Name, "partner", partner.ID)

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return ctx.Err()
		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("channel closed: %w", cerr)
			}
			return errors.New("channel closed")
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery stream ended")
			}
			if _, err := handleDelivery(d.Body, partner, deliver); err != nil {
				slog.Warn("job offer rejected", "exchange", s.cfg.Exchange, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handleDelivery decodes one message and passes it on if it is addressed
// to partner. The queue holds this partner's own copy, so an offer meant
// for someone else is dropped without loss to them. An error means the
// message is poison.
func handleDelivery(body []byte, partner model.Identity, deliver func(Offer)) (bool, error) {
	offer, err := Decode(body)
	if err != nil {
		return false, err
	}
	if !offer.For(partner) {
		return false, nil
	}
	deliver(offer)
	return true, nil
}

// amqpSubscription stops the consumer goroutine. Close does not wait for
// an in-flight dial; the goroutine closes its connection on the way out.
type amqpSubscription struct {
	cancel context.CancelFunc
}

func (s *amqpSubscription) Close() error {
	s.cancel()
	return nil
}
