// Package device simulates the subsystems of the RM01 board so that a complete boot can be run and measured
// without hardware.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rm01-bsp/bootseq"
	"github.com/rm01-bsp/bootseq/internal/config"
)

// Subsystem names, also used as unit and signal names.
const (
	LEDIndicator = "led-indicator"
	LEDAnimation = "led-animation"
	W5500        = "w5500"
	Power        = "power"
	WS2812       = "ws2812"
	Webserver    = "webserver"
	Netmon       = "netmon"
	NetAnimation = "net-animation"
	Diagnostics  = "diagnostics"
)

// ErrInjected is returned by a subsystem configured to fail.
var ErrInjected = errors.New("injected failure")

// Board is a simulated RM01 board.
type Board struct {
	cfg    config.DevicesConfig
	logger *slog.Logger
	stop   chan struct{}
	once   sync.Once

	mu    sync.Mutex // Protects field ready.
	ready map[string]time.Time
}

// NewBoard returns a Board whose subsystems behave as described by cfg.
func NewBoard(cfg config.DevicesConfig, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		ready:  make(map[string]time.Time),
	}
}

// Close releases subsystems that hang.
func (b *Board) Close() {
	b.once.Do(func() { close(b.stop) })
}

// Ready returns the name of every subsystem that finished initialization, sorted alphabetically.
func (b *Board) Ready() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.ready))
	for name := range b.ready {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// init returns the initializer of the named subsystem.
func (b *Board) init(name string, dc config.DeviceConfig) bootseq.Func {
	return func(ctx context.Context) error {
		b.logger.DebugContext(ctx, "initializing subsystem", "device", name, "duration", dc.Duration)

		if dc.Hang {
			select {
			case <-b.stop:
				return fmt.Errorf("%s: board closed", name)
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", name, ctx.Err())
			}
		}

		t := time.NewTimer(dc.Duration)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-b.stop:
			return fmt.Errorf("%s: board closed", name)
		}

		if dc.Fail {
			return fmt.Errorf("%s: %w", name, ErrInjected)
		}

		b.mu.Lock()
		b.ready[name] = time.Now()
		b.mu.Unlock()
		return nil
	}
}

// Sequence returns the boot sequence of the board.
// The LED indicator and the W5500 Ethernet controller are brought up on the critical path; a failing LED animation
// is tolerated. The power monitor and the WS2812 LED strip start in parallel, followed by the web server and the
// network monitor. The network animation starts once the network monitor is ready, and diagnostics are deferred.
func (b *Board) Sequence(name string) *bootseq.Sequence {
	seq := bootseq.New(name)

	seq.Critical(LEDIndicator, b.init(LEDIndicator, b.cfg.LEDIndicator))
	seq.Critical(LEDAnimation, b.init(LEDAnimation, b.cfg.LEDAnimation)).Optional()
	seq.Critical(W5500, b.init(W5500, b.cfg.W5500))

	seq.Hardware(Power, b.init(Power, b.cfg.Power)).Stack(4096).Priority(4)
	seq.Hardware(WS2812, b.init(WS2812, b.cfg.WS2812)).Stack(3072).Priority(3)

	seq.Service(Webserver, b.init(Webserver, b.cfg.Webserver)).Stack(6144).Priority(3).
		Timeout(3 * time.Second).Interval(100 * time.Millisecond)
	seq.Service(Netmon, b.init(Netmon, b.cfg.Netmon)).Stack(4096).Priority(3).
		Timeout(2 * time.Second).Interval(50 * time.Millisecond).
		OnReady(b.init(NetAnimation, b.cfg.NetAnimation))

	seq.Deferred(Diagnostics, b.init(Diagnostics, b.cfg.Diagnostics)).Stack(4096).Priority(2)

	seq.Await("network", W5500, Netmon)

	return seq
}
