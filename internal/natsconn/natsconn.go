package natsconn

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamSpec describes one JetStream stream to ensure.
type StreamSpec struct {
	Name      string
	Subjects  []string
	Retention nats.RetentionPolicy
	MaxAge    time.Duration
}

// Open connects to NATS and initializes JetStream.
// Params: server URLs, client name for monitoring, and optional logger for connection events.
// Returns: connection, JetStream context, or setup error.
func Open(urls []string, name string, logger *slog.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if logger != nil {
		opts = append(opts,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", "client", name, "error", err.Error())
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", "client", name, "url", nc.ConnectedUrl())
			}),
		)
	}

	nc, err := nats.Connect(strings.Join(urls, ","), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", name, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream init for %s: %w", name, err)
	}
	return nc, js, nil
}

// EnsureStream creates stream when it does not exist yet.
// Params: JetStream context and stream settings.
// Returns: stream lookup/create error.
func EnsureStream(js nats.JetStreamContext, spec StreamSpec) error {
	if _, err := js.StreamInfo(spec.Name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", spec.Name, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      spec.Name,
		Subjects:  spec.Subjects,
		Retention: spec.Retention,
		Storage:   nats.FileStorage,
		MaxAge:    spec.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", spec.Name, err)
	}
	return nil
}

// DeliveryAttempts returns JetStream delivery counter.
// Params: delivered message.
// Returns: attempt count, at least 1 for non-nil messages.
func DeliveryAttempts(message *nats.Msg) uint64 {
	if message == nil {
		return 0
	}
	metadata, err := message.Metadata()
	if err != nil || metadata == nil || metadata.NumDelivered == 0 {
		return 1
	}
	return metadata.NumDelivered
}

// Nak asks JetStream to redeliver message, optionally after delay.
func Nak(message *nats.Msg, delay time.Duration) error {
	if delay > 0 {
		return message.NakWithDelay(delay)
	}
	return message.Nak()
}
