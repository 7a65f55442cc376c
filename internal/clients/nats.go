package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"github.com/rm01-bsp/bootseq"
	"github.com/rm01-bsp/bootseq/internal/config"
)

// publisher is the subset of *nats.Conn used to publish reports.
// Defining an interface here allows test doubles to be injected without a live
// NATS server.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSSink publishes every boot report as JSON on a NATS subject.
type NATSSink struct {
	url     string
	subject string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	connect func(url string) (publisher, func(), error)
}

// NewNATSSink constructs a NATSSink. No connection is made at construction
// time; a connection is opened for every report, inside the circuit breaker.
func NewNATSSink(cfg config.NATSConfig, cb *gobreaker.CircuitBreaker) *NATSSink {
	return &NATSSink{
		url:     cfg.URL,
		subject: cfg.Subject,
		timeout: cfg.Timeout,
		cb:      cb,
		connect: realConnect,
	}
}

// Emit publishes r and waits for the server to acknowledge it.
func (s *NATSSink) Emit(ctx context.Context, r *bootseq.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	_, err = s.cb.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, cleanup, err := s.connect(s.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		if err := conn.Publish(s.subject, data); err != nil {
			return nil, fmt.Errorf("publishing to %s: %w", s.subject, err)
		}
		if err := conn.FlushTimeout(s.timeout); err != nil {
			return nil, fmt.Errorf("flushing %s: %w", s.subject, err)
		}
		return nil, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("circuit open: %w", err)
		}
		return err
	}
	return nil
}

// realConnect opens a real NATS connection and returns it plus a cleanup
// function that closes it.
func realConnect(url string) (publisher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("rm01-bootseq"))
	if err != nil {
		return nil, func() {}, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, func() { nc.Close() }, nil
}

var _ bootseq.Sink = (*NATSSink)(nil)
