package bootseq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Func is the type used for any function that can be executed as a unit in a boot sequence. Any initializer or
// service-start call that you wish to register must satisfy this type.
type Func func(ctx context.Context) error

// UnitState is the lifecycle state of an asynchronous unit.
type UnitState uint32

const (
	UnitSpawned UnitState = iota
	UnitRunning
	UnitCompleted
	UnitFailed
)

// String returns the name of the state.
func (s UnitState) String() string {
	switch s {
	case UnitSpawned:
		return "spawned"
	case UnitRunning:
		return "running"
	case UnitCompleted:
		return "completed"
	case UnitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle refers to a unit started by a Launcher.
type Handle struct {
	name      string
	stackSize int64
	priority  int

	state    atomic.Uint32
	started  time.Time
	finished atomic.Int64 // Nanoseconds since started, set once the unit has stopped.
	err      error        // Written before done is closed.
	done     chan struct{}
}

// Name returns the name the unit was spawned with.
func (h *Handle) Name() string {
	return h.name
}

// State returns the current state of the unit.
func (h *Handle) State() UnitState {
	return UnitState(h.state.Load())
}

// Done returns a channel that is closed when the unit has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the error returned by the unit. It returns nil until the unit has stopped.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Elapsed returns how long the unit ran, or how long it has been running so far.
func (h *Handle) Elapsed() time.Duration {
	if d := h.finished.Load(); d > 0 {
		return time.Duration(d)
	}
	return time.Since(h.started)
}

// Launcher starts units of work on their own goroutines.
// Every unit reserves its stack size from a shared execution-context budget for as long as it runs; a unit that
// does not fit is refused with a *SpawnError. Units cannot be cancelled once started.
// Launcher is safe for concurrent use.
type Launcher struct {
	sync.Mutex // Protects field units.

	budget *semaphore.Weighted
	logger *slog.Logger
	grp    errgroup.Group
	units  []*Handle
}

// NewLauncher returns a Launcher with an execution-context budget of capacity bytes.
func NewLauncher(capacity int64, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		budget: semaphore.NewWeighted(capacity),
		logger: logger,
	}
}

// Spawn starts work on a new goroutine under the given name.
// stackSize is reserved from the Launcher's budget until work returns; priority is recorded as a hint. The work
// receives a context that carries ctx's values but is never cancelled. Spawn returns a *SpawnError wrapping
// ErrNoCapacity if the budget cannot hold the unit, in which case work never runs.
func (l *Launcher) Spawn(ctx context.Context, name string, work Func, stackSize int64, priority int) (*Handle, error) {
	if work == nil {
		return nil, &SpawnError{Unit: name, Err: NilFuncError(name)}
	}
	if stackSize <= 0 {
		return nil, &SpawnError{Unit: name, Err: fmt.Errorf("stack size must be positive, got %d", stackSize)}
	}
	if !l.budget.TryAcquire(stackSize) {
		return nil, &SpawnError{Unit: name, Err: ErrNoCapacity}
	}

	h := &Handle{
		name:      name,
		stackSize: stackSize,
		priority:  priority,
		started:   time.Now(),
		done:      make(chan struct{}),
	}

	l.Lock()
	l.units = append(l.units, h)
	l.Unlock()

	unitCtx := context.WithoutCancel(ctx)
	l.grp.Go(func() error {
		defer l.budget.Release(stackSize)
		return l.exec(unitCtx, h, work)
	})

	l.logger.DebugContext(ctx, "unit spawned", "unit", name, "stack", stackSize, "priority", priority)
	return h, nil
}

// exec runs work for h and records the outcome. Panics are recovered and reported as failures.
func (l *Launcher) exec(ctx context.Context, h *Handle, work Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %q panicked: %v", h.name, r)
		}
		h.err = err
		if err != nil {
			h.state.Store(uint32(UnitFailed))
			l.logger.WarnContext(ctx, "unit failed", "unit", h.name, "error", err)
		} else {
			h.state.Store(uint32(UnitCompleted))
			l.logger.DebugContext(ctx, "unit completed", "unit", h.name)
		}
		h.finished.Store(int64(max(time.Since(h.started), 1)))
		close(h.done)
	}()

	h.state.Store(uint32(UnitRunning))
	return work(ctx)
}

// Units returns every unit spawned so far, in spawn order.
func (l *Launcher) Units() []*Handle {
	l.Lock()
	defer l.Unlock()

	return append([]*Handle(nil), l.units...)
}

// Wait blocks until every spawned unit has stopped and returns the first error any of them returned.
func (l *Launcher) Wait() error {
	return l.grp.Wait()
}
