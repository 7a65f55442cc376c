package clients

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rm01-bsp/bootseq"
	"github.com/rm01-bsp/bootseq/internal/config"
)

var testBreaker = config.BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute}

// fakeConn is a test double for publisher. It records published messages.
type fakeConn struct {
	publishErr error
	flushErr   error

	subjects []string
	payloads [][]byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error {
	return f.flushErr
}

func makeNATSSink(conn *fakeConn, name string) *NATSSink {
	s := NewNATSSink(config.NATSConfig{URL: "nats://localhost:4222", Subject: "rm01.boot.report", Timeout: time.Second},
		NewCircuitBreaker(name, testBreaker, nil))
	s.connect = func(string) (publisher, func(), error) {
		return conn, func() {}, nil
	}
	return s
}

func makeNATSSinkWithConnErr(connErr error, name string) *NATSSink {
	s := NewNATSSink(config.NATSConfig{URL: "nats://localhost:4222", Subject: "rm01.boot.report"},
		NewCircuitBreaker(name, testBreaker, nil))
	s.connect = func(string) (publisher, func(), error) {
		return nil, func() {}, connErr
	}
	return s
}

func TestNewNATSSink(t *testing.T) {
	t.Parallel()

	s := NewNATSSink(config.NATSConfig{URL: "nats://flash:4222", Subject: "boot"}, NewCircuitBreaker("new", testBreaker, nil))
	assert.Equal(t, "nats://flash:4222", s.url)
	assert.Equal(t, "boot", s.subject)
	assert.NotNil(t, s.connect)
}

func TestEmit_PublishesJSON(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	s := makeNATSSink(conn, "emit-json")

	report := &bootseq.Report{RunID: "run-1", Sequence: "RM01", Status: bootseq.StatusCompleted, OptimizedMS: 18000}
	require.NoError(t, s.Emit(context.Background(), report))

	require.Len(t, conn.payloads, 1)
	assert.Equal(t, "rm01.boot.report", conn.subjects[0])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, float64(18000), decoded["optimized_ms"])
}

func TestEmit_PublishError(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{flushErr: errors.New("flush timeout")}
	s := makeNATSSink(conn, "emit-flush-err")

	err := s.Emit(context.Background(), &bootseq.Report{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush timeout")
}

func TestEmit_CancelledContext(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	s := makeNATSSink(conn, "emit-cancelled")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Emit(ctx, &bootseq.Report{}), context.Canceled)
	assert.Empty(t, conn.payloads)
}

func TestEmit_CircuitBreakerOpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	s := makeNATSSinkWithConnErr(errors.New("dial tcp: connection refused"), "emit-cb-open")

	for i := range 3 {
		err := s.Emit(context.Background(), &bootseq.Report{})
		require.Error(t, err, "attempt %d should fail", i+1)
		assert.NotContains(t, err.Error(), "circuit open",
			"circuit should not be open yet on attempt %d", i+1)
	}

	err := s.Emit(context.Background(), &bootseq.Report{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestNewCircuitBreaker_UsesConfiguredThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("one-strike", config.BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute}, nil)
	s := NewNATSSink(config.NATSConfig{URL: "nats://localhost:4222", Subject: "rm01.boot.report"}, cb)
	s.connect = func(string) (publisher, func(), error) {
		return nil, func() {}, errors.New("dial tcp: connection refused")
	}

	err := s.Emit(context.Background(), &bootseq.Report{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "circuit open")

	err = s.Emit(context.Background(), &bootseq.Report{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}
