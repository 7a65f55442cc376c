package bootseq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rm01-bsp/bootseq"

// Report status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunState represents an Agent's position in the boot state machine.
type RunState uint32

const (
	StateNotStarted RunState = iota
	StateCriticalPath
	StateParallelHardware
	StateServiceLaunch
	StateReadinessWait
	StateDeferredServices
	StateCompleted
	StateFailed
)

// String returns the name of the state.
func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateCriticalPath:
		return "critical-path"
	case StateParallelHardware:
		return "parallel-hardware"
	case StateServiceLaunch:
		return "service-launch"
	case StateReadinessWait:
		return "readiness-wait"
	case StateDeferredServices:
		return "deferred-services"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateFor maps a phase to the state the Agent is in while running it.
func stateFor(k PhaseKind) RunState {
	switch k {
	case PhaseCritical:
		return StateCriticalPath
	case PhaseHardware:
		return StateParallelHardware
	case PhaseServices:
		return StateServiceLaunch
	case PhaseReadiness:
		return StateReadinessWait
	default:
		return StateDeferredServices
	}
}

// Progress is the boot feedback medium.
// Progress is delivered to the callback passed to Agent.Run every time a unit has been started, has finished on
// the critical path or has been waited on, and once at the end of every phase (with an empty Unit). Err is nil on
// success; a non-nil Err is only fatal if it is a *CriticalInitError.
// Progress satisfies the error interface.
type Progress struct {
	Phase string
	Unit  string
	Err   error
}

// Error returns the error message for the receiver. Error returns an empty string if there is no error.
func (p Progress) Error() string {
	if p.Err == nil {
		return ""
	}
	return p.Err.Error()
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger used by the Agent and the units it launches.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithTracer sets the provider of the tracer used for boot spans. It defaults to the global provider.
func WithTracer(tp trace.TracerProvider) Option {
	return func(a *Agent) {
		a.tracer = tp.Tracer(tracerName)
	}
}

// WithSink adds a Sink that receives the Report at the end of every run.
func WithSink(s Sink) Option {
	return func(a *Agent) {
		a.sinks = append(a.sinks, s)
	}
}

// Agent represents the execution of a boot Sequence. An Agent can run the sequence any number of times, but only
// one run at a time; every run starts with fresh signals and a fresh Recorder.
type Agent struct {
	name   string
	cfg    Config
	phases []Phase
	logger *slog.Logger
	tracer trace.Tracer
	sinks  []Sink

	running atomic.Bool
	state   atomic.Uint32

	mu       sync.RWMutex // Protects fields below.
	last     *Report
	registry *Registry
	launcher *Launcher
}

func newAgent(name string, cfg Config, phases []Phase, opts ...Option) *Agent {
	a := &Agent{
		name:     name,
		cfg:      cfg,
		phases:   phases,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("sequence", name)
	return a
}

// State returns the current state of the boot state machine.
func (a *Agent) State() RunState {
	return RunState(a.state.Load())
}

// IsRunning returns true while a boot run is active.
func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

// Config returns the configuration the Agent was built with.
func (a *Agent) Config() Config {
	return a.cfg
}

// Phases returns the phases of the boot, in execution order.
func (a *Agent) Phases() []Phase {
	return append([]Phase(nil), a.phases...)
}

// Budget returns the sum of every phase budget, an upper bound for the duration of a run.
func (a *Agent) Budget() time.Duration {
	var total time.Duration
	for _, p := range a.phases {
		total += p.Timeout
	}
	return total
}

// String returns a representation of the boot plan, e.g.
// "critical(led > w5500) > hardware(power : ws2812) > services(web) > readiness(power+ws2812, web)".
func (a *Agent) String() string {
	return plan(a.phases)
}

// LastReport returns the Report of the most recent run, or nil if no run has finished yet.
func (a *Agent) LastReport() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.last
}

// Signals returns the state of every signal of the current, or most recent, run.
func (a *Agent) Signals() map[string]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.registry.Snapshot()
}

// Set sets a signal in the current run. It lets producers outside the sequence, such as driver callbacks, satisfy
// waits registered with Sequence.Await. Set returns false, and does nothing, if the signal would exceed the
// 64-signal limit of the run.
func (a *Agent) Set(signal string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.registry.TrySet(signal)
}

// Wait blocks until every unit launched by the most recent run has stopped and returns the first unit error.
// Units cannot be cancelled, so Wait does not return while a unit hangs.
func (a *Agent) Wait() error {
	a.mu.RLock()
	l := a.launcher
	a.mu.RUnlock()

	if l == nil {
		return nil
	}
	return l.Wait()
}

// Run runs the boot sequence and returns its Report.
// The phases run in order: critical path, parallel hardware, service launch, readiness wait and deferred services.
// Waits that time out and units that fail to spawn degrade the boot but do not stop it. Run returns a
// *CriticalInitError if a critical unit fails, and ctx.Err() if ctx is done before the run ends; in both cases the
// Report, with status "failed", is returned along with the error. Run returns an InvalidStateError if the Agent is
// already running. progress may be nil.
func (a *Agent) Run(ctx context.Context, progress func(Progress)) (*Report, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, InvalidStateError(inProgressErrorMessage)
	}
	defer a.running.Store(false)

	return a.run(ctx, progress)
}

// Result is the outcome of a run started with Agent.Start.
type Result struct {
	Report *Report
	Err    error
}

// Start reserves the Agent and runs the boot sequence in a new goroutine. It returns an InvalidStateError if a run
// is already active. Otherwise the returned channel receives the Result once the run ends, and is then closed.
func (a *Agent) Start(ctx context.Context, progress func(Progress)) (<-chan Result, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, InvalidStateError(inProgressErrorMessage)
	}

	done := make(chan Result, 1)
	go func() {
		report, err := a.run(ctx, progress)
		a.running.Store(false)
		done <- Result{Report: report, Err: err}
		close(done)
	}()
	return done, nil
}

// run executes one boot. The caller must have reserved the Agent.
func (a *Agent) run(ctx context.Context, progress func(Progress)) (*Report, error) {
	r := &run{
		agent:    a,
		reg:      NewRegistry(),
		launcher: NewLauncher(a.cfg.Capacity, a.logger),
		rec:      NewRecorder(),
		progress: progress,
		kinds:    make(map[string]PhaseKind),
	}
	for _, p := range a.phases {
		for _, u := range p.units {
			r.reg.Declare(u.signal)
			r.kinds[u.name] = u.kind
		}
	}

	a.mu.Lock()
	a.registry = r.reg
	a.launcher = r.launcher
	a.mu.Unlock()

	ctx, span := a.tracer.Start(ctx, "boot.run")
	defer span.End()
	span.SetAttributes(attribute.String("boot.sequence", a.name))

	a.logger.InfoContext(ctx, "boot started", "budget", a.Budget(), "sequential", a.cfg.Sequential)
	r.rec.Mark(MilestoneStart)

	err := r.exec(ctx)

	r.rec.Mark(MilestoneComplete)
	report := r.finalize(err)

	if err != nil {
		a.state.Store(uint32(StateFailed))
		span.SetStatus(codes.Error, err.Error())
		a.logger.ErrorContext(ctx, "boot failed", "error", err, "elapsed_ms", report.OptimizedMS)
	} else {
		a.state.Store(uint32(StateCompleted))
		span.SetStatus(codes.Ok, "")
		a.logger.InfoContext(ctx, "boot completed", "elapsed_ms", report.OptimizedMS, "classification", report.Classification)
	}
	span.SetAttributes(
		attribute.String("boot.status", report.Status),
		attribute.Int64("boot.optimized_ms", report.OptimizedMS),
		attribute.String("boot.classification", string(report.Classification)),
	)

	for _, s := range a.sinks {
		if sinkErr := s.Emit(ctx, report); sinkErr != nil {
			a.logger.WarnContext(ctx, "report sink failed", "error", sinkErr)
		}
	}

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()

	return report, err
}

// run holds the state of a single boot run.
type run struct {
	agent    *Agent
	reg      *Registry
	launcher *Launcher
	rec      *Recorder
	progress func(Progress)
	kinds    map[string]PhaseKind // Phase of every unit, by unit name.

	mu       sync.Mutex
	spawnErr map[string]error // Units that never started, by signal.
}

// report delivers progress to the caller, if the caller asked for it.
func (r *run) report(p Progress) {
	if r.progress != nil {
		r.progress(p)
	}
}

// exec runs through the phases in order. It returns the first fatal error.
func (r *run) exec(ctx context.Context) error {
	for _, p := range r.agent.phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.agent.state.Store(uint32(stateFor(p.Kind)))

		pctx, span := r.agent.tracer.Start(ctx, "boot.phase")
		span.SetAttributes(
			attribute.String("phase.name", p.Name),
			attribute.Int64("phase.timeout_ms", p.Timeout.Milliseconds()),
		)
		r.agent.logger.InfoContext(pctx, "phase started", "phase", p.Name, "units", len(p.units))

		var err error
		switch p.Kind {
		case PhaseCritical:
			err = r.execCritical(pctx, p)
		case PhaseHardware:
			r.rec.Mark(MilestoneHardwareStart)
			r.execSpawn(pctx, p)
		case PhaseServices:
			r.rec.Mark(MilestoneServicesStart)
			r.execSpawn(pctx, p)
		case PhaseReadiness:
			err = r.execReadiness(pctx, p)
		case PhaseDeferred:
			r.rec.Mark(MilestoneDeferredStart)
			r.execSpawn(pctx, p)
		}

		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.report(Progress{Phase: p.Name, Err: err})
		if err != nil {
			return err
		}
	}
	return nil
}

// execCritical calls every critical unit synchronously, bounded by the phase budget.
func (r *run) execCritical(ctx context.Context, p Phase) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	for _, u := range p.units {
		start := time.Now()
		err := call(ctx, u.fn)
		outcome := UnitOutcome{Name: u.name, Phase: p.Name, State: UnitCompleted.String(), ElapsedMS: time.Since(start).Milliseconds()}

		if err == nil {
			r.reg.Set(u.signal)
			r.rec.Status(u.name, true)
			r.rec.Unit(outcome)
			r.report(Progress{Phase: p.Name, Unit: u.name})
			continue
		}

		outcome.State = UnitFailed.String()
		outcome.Error = err.Error()
		r.rec.Status(u.name, false)
		r.rec.Unit(outcome)

		if u.optional {
			r.agent.logger.WarnContext(ctx, "optional critical unit failed, continuing", "unit", u.name, "error", err)
			r.report(Progress{Phase: p.Name, Unit: u.name, Err: err})
			continue
		}
		fatal := &CriticalInitError{Unit: u.name, Err: err}
		r.report(Progress{Phase: p.Name, Unit: u.name, Err: fatal})
		return fatal
	}
	return nil
}

// execSpawn launches every unit of an asynchronous phase. Spawn failures are recorded and skipped. In sequential
// mode every unit runs to completion before the next one is launched.
func (r *run) execSpawn(ctx context.Context, p Phase) {
	for _, u := range p.units {
		h, err := r.launcher.Spawn(ctx, u.name, r.work(u), u.stack, u.priority)
		if err != nil {
			r.agent.logger.WarnContext(ctx, "unit not started", "phase", p.Name, "unit", u.name, "error", err)
			r.mu.Lock()
			if r.spawnErr == nil {
				r.spawnErr = make(map[string]error)
			}
			r.spawnErr[u.signal] = err
			r.mu.Unlock()
			r.rec.Unit(UnitOutcome{Name: u.name, Phase: p.Name, State: "not-spawned", Error: err.Error()})
			r.report(Progress{Phase: p.Name, Unit: u.name, Err: err})
			continue
		}
		r.report(Progress{Phase: p.Name, Unit: u.name})

		if r.agent.cfg.Sequential {
			<-h.Done()
		}
	}
}

// work wraps the Func of u so that it sets the unit's signal on success. Deferred units first sit out the grace
// delay, unless the run is sequential.
func (r *run) work(u Unit) Func {
	delay := r.agent.cfg.DeferredDelay
	if u.kind != PhaseDeferred || r.agent.cfg.Sequential {
		delay = 0
	}
	return func(ctx context.Context) error {
		if delay > 0 {
			t := time.NewTimer(delay)
			<-t.C
		}
		if err := u.fn(ctx); err != nil {
			return err
		}
		r.reg.Set(u.signal)
		return nil
	}
}

// execReadiness waits on the hardware signals as a whole, then on each service signal and each Await. Neither a
// timeout nor a unit that never started is fatal; only the cancellation of ctx stops the phase.
func (r *run) execReadiness(ctx context.Context, p Phase) error {
	cfg := r.agent.cfg

	if len(p.hardware) > 0 {
		err := r.wait(ctx, p, strings.Join(p.hardware, "+"), p.hardware, cfg.HardwareTimeout, p.hwPoll)
		if err == nil {
			r.rec.Mark(MilestoneHardwareComplete)
		}
		if err != nil && ctx.Err() != nil {
			return err
		}
	}

	for _, u := range p.units {
		err := r.wait(ctx, p, u.signal, []string{u.signal}, u.budget(cfg), u.poll(cfg))
		if err != nil && ctx.Err() != nil {
			return err
		}
		if err == nil && u.onReady != nil {
			if hookErr := call(ctx, u.onReady); hookErr != nil {
				r.agent.logger.WarnContext(ctx, "ready hook failed", "unit", u.name, "error", hookErr)
				r.report(Progress{Phase: p.Name, Unit: u.name, Err: hookErr})
			}
		}
	}

	for _, a := range p.awaits {
		err := r.wait(ctx, p, a.label, a.signals, cfg.ServiceTimeout, cfg.PollInterval)
		if err != nil && ctx.Err() != nil {
			return err
		}
	}
	return nil
}

// wait runs one readiness wait and records its outcome. A wait on a signal whose unit never started fails at once
// with the spawn error instead of burning its budget.
func (r *run) wait(ctx context.Context, p Phase, label string, signals []string, timeout, interval time.Duration) error {
	r.mu.Lock()
	var err error
	for _, sig := range signals {
		if spawnErr, ok := r.spawnErr[sig]; ok {
			err = spawnErr
			break
		}
	}
	r.mu.Unlock()

	var elapsed time.Duration
	if err == nil {
		elapsed, err = WaitUntil(ctx, WaitRequest{
			Label:     label,
			Condition: r.reg.Condition(signals...),
			Timeout:   timeout,
			Interval:  interval,
			Logger:    r.agent.logger,
		})
	}

	r.rec.Wait(label, timeout, elapsed, err)
	r.rec.Status(label, err == nil)
	r.report(Progress{Phase: p.Name, Unit: label, Err: err})
	return err
}

// finalize records the state of every launched unit and computes the Report.
func (r *run) finalize(err error) *Report {
	for _, h := range r.launcher.Units() {
		o := UnitOutcome{
			Name:      h.Name(),
			Phase:     r.kinds[h.Name()].String(),
			State:     h.State().String(),
			ElapsedMS: h.Elapsed().Milliseconds(),
		}
		if unitErr := h.Err(); unitErr != nil {
			o.Error = unitErr.Error()
		}
		r.rec.Unit(o)
	}

	cfg := r.agent.cfg
	report := r.rec.Finalize(cfg.Baseline, cfg.Targets)
	report.Sequence = r.agent.name
	report.Status = StatusCompleted
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
	}
	return report
}

// call runs fn and turns a panic into an error.
func call(ctx context.Context, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// NoOp (no operation) is a convenience function you can use in place of a
// unit Func for when you want a function that does nothing.
func NoOp(context.Context) error {
	return nil
}
