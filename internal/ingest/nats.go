package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stationmon/internal/config"
	"stationmon/internal/metrics"
	"stationmon/internal/natsconn"

	"github.com/nats-io/nats.go"
)

const readingsStreamMaxAge = 24 * time.Hour

// NATSSubscriber consumes readings via JetStream queue consumer and forwards them to recorder.
// Params: NATS connection, JetStream queue subscription, and recorder.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc        *nats.Conn
	sub       *nats.Subscription
	recorder  Recorder
	logger    *slog.Logger
	nackDelay time.Duration
}

// NewNATSSubscriber creates JetStream queue consumer for reading ingestion.
// Params: ingest NATS config, recorder, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, recorder Recorder, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, js, err := natsconn.Open(cfg.URL, "stationmon-ingest", logger)
	if err != nil {
		return nil, err
	}
	err = natsconn.EnsureStream(js, natsconn.StreamSpec{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: nats.LimitsPolicy,
		MaxAge:    readingsStreamMaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}

	subscriber := &NATSSubscriber{
		nc:        nc,
		recorder:  recorder,
		logger:    logger,
		nackDelay: time.Duration(cfg.NackDelayMS) * time.Millisecond,
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, subscriber.handle, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// handle processes one JetStream message.
func (s *NATSSubscriber) handle(message *nats.Msg) {
	if message == nil {
		return
	}
	if err := s.process(context.Background(), message.Data); err != nil {
		s.logger.Error("nats ingest record failed",
			"subject", message.Subject,
			"attempt", natsconn.DeliveryAttempts(message),
			"error", err.Error(),
		)
		if nakErr := natsconn.Nak(message, s.nackDelay); nakErr != nil {
			s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", nakErr.Error())
		}
		return
	}
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "error", err.Error())
	}
}

// process decodes and records one message body.
// Params: context and raw message payload.
// Returns: retryable error only; decode errors and rejected or unknown readings are logged and swallowed.
func (s *NATSSubscriber) process(ctx context.Context, data []byte) error {
	decoded, err := decodePayload(data)
	if err != nil {
		metrics.ReadingsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		s.logger.Warn("nats ingest decode failed", "error", err.Error())
		return nil
	}
	items, err := recordBatch(ctx, s.recorder, decoded.readings)
	for _, item := range items {
		if !item.Found {
			s.logger.Warn("nats ingest unknown sensor", "sensor_id", item.SensorID)
		} else if item.Error != "" && err == nil {
			s.logger.Debug("nats ingest reading rejected", "sensor_id", item.SensorID, "error", item.Error)
		}
	}
	return err
}

// Close stops NATS subscription and closes connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
