package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"stationmon/internal/config"
	"stationmon/internal/hub"
	"stationmon/internal/metrics"
	"stationmon/internal/natsconn"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

const retryMaxInterval = 2 * time.Second

// MsgPublisher publishes one prepared NATS message.
type MsgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
}

type jetStreamPublisher struct {
	js nats.JetStreamContext
}

func (p jetStreamPublisher) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	_, err := p.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

// Options configures relay retry and subjects.
type Options struct {
	SubjectPrefix string
	MaxRetries    int
	RetryInitial  time.Duration
	Buffer        int
	Logger        *slog.Logger
}

// Relay republishes hub events to JetStream subjects.
// Params: hub subscription and message publisher.
// Returns: background bridge started by Run.
type Relay struct {
	pub    MsgPublisher
	opts   Options
	logger *slog.Logger
	nc     *nats.Conn

	sub *hub.Subscription
}

// NewNATS opens JetStream, ensures the relay stream, and subscribes to hub.
// Params: relay config, hub, and logger.
// Returns: relay ready to Run or setup error.
func NewNATS(cfg config.NATSRelayConfig, events *hub.Hub, logger *slog.Logger) (*Relay, error) {
	nc, js, err := natsconn.Open(cfg.URL, "stationmon-relay", logger)
	if err != nil {
		return nil, err
	}
	err = natsconn.EnsureStream(js, natsconn.StreamSpec{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(cfg.MaxAgeSec) * time.Second,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	relay := New(events, jetStreamPublisher{js: js}, Options{
		SubjectPrefix: cfg.SubjectPrefix,
		MaxRetries:    cfg.MaxRetries,
		RetryInitial:  time.Duration(cfg.RetryInitialMS) * time.Millisecond,
		Buffer:        cfg.SubscriberBuffer,
		Logger:        logger,
	})
	relay.nc = nc
	return relay, nil
}

// New subscribes relay to hub using provided publisher.
func New(events *hub.Hub, pub MsgPublisher, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 100 * time.Millisecond
	}
	return &Relay{
		pub:    pub,
		opts:   opts,
		logger: opts.Logger,
		sub:    events.SubscribeBuffer(opts.Buffer),
	}
}

// Subject returns NATS subject for event kind.
func (r *Relay) Subject(kind hub.Kind) string {
	return r.opts.SubjectPrefix + "." + string(kind)
}

// Run forwards events until subscription closes or context ends.
// Params: context controlling the loop and in-flight retries.
// Returns: nil after subscription close, or context error.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-r.sub.Events():
			if !ok {
				return nil
			}
			if err := r.Forward(ctx, event); err != nil {
				metrics.RelayPublishFailures.Inc()
				r.logger.Error("relay publish failed",
					"event_id", event.ID,
					"kind", event.Kind,
					"seq", event.Seq,
					"error", err.Error(),
				)
			}
		}
	}
}

// Forward publishes one event with bounded exponential retry.
// Params: context and hub event.
// Returns: marshal error immediately, or last publish error after retries.
func (r *Relay) Forward(ctx context.Context, event hub.Event) error {
	body, marshalErr := json.Marshal(event)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.RetryInitial
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.opts.MaxRetries)), ctx)

	subject := r.Subject(event.Kind)
	return backoff.RetryNotify(func() error {
		if marshalErr != nil {
			return backoff.Permanent(fmt.Errorf("marshal event %s: %w", event.ID, marshalErr))
		}
		msg := nats.NewMsg(subject)
		msg.Data = body
		if event.ID != "" {
			msg.Header.Set("Nats-Msg-Id", event.ID)
		}
		if err := r.pub.PublishMsg(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}, policy, func(err error, wait time.Duration) {
		r.logger.Warn("relay publish retry", "event_id", event.ID, "wait", wait.String(), "error", err.Error())
	})
}

// Dropped returns events the relay missed because its buffer was full.
func (r *Relay) Dropped() uint64 {
	return r.sub.Dropped()
}

// Close unsubscribes from hub and closes NATS connection.
func (r *Relay) Close() error {
	r.sub.Close()
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			r.nc.Close()
			return err
		}
	}
	return nil
}
