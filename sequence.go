package bootseq

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// PhaseKind identifies one of the five stages of a boot run.
type PhaseKind uint8

const (
	PhaseCritical PhaseKind = iota + 1
	PhaseHardware
	PhaseServices
	PhaseReadiness
	PhaseDeferred
)

// String returns the name of the phase kind.
func (k PhaseKind) String() string {
	switch k {
	case PhaseCritical:
		return "critical"
	case PhaseHardware:
		return "hardware"
	case PhaseServices:
		return "services"
	case PhaseReadiness:
		return "readiness"
	case PhaseDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Unit is a single initializer registered with a Sequence. Its methods configure how the unit is run and return
// the receiver, so that calls can be chained.
type Unit struct {
	name     string
	kind     PhaseKind
	fn       Func
	signal   string
	stack    int64
	priority int
	timeout  time.Duration
	interval time.Duration
	optional bool
	onReady  Func
	seq      int
}

// Stack sets the execution-context size reserved for the unit while it runs.
func (u *Unit) Stack(bytes int64) *Unit {
	u.stack = bytes
	return u
}

// Priority sets the scheduling hint of the unit. Within a phase, units with a higher priority are spawned first.
func (u *Unit) Priority(p int) *Unit {
	u.priority = p
	return u
}

// Signal sets the name of the signal the unit sets on success. It defaults to the unit's name.
func (u *Unit) Signal(name string) *Unit {
	u.signal = name
	return u
}

// Timeout sets the readiness budget of a service unit, overriding Config.ServiceTimeout.
func (u *Unit) Timeout(d time.Duration) *Unit {
	u.timeout = d
	return u
}

// Interval sets how often the readiness wait on the unit's signal is polled, overriding Config.PollInterval.
// The hardware conjunction is polled at the shortest interval set on any hardware unit.
func (u *Unit) Interval(d time.Duration) *Unit {
	u.interval = d
	return u
}

// Optional marks a critical unit whose failure is logged instead of aborting the boot.
func (u *Unit) Optional() *Unit {
	u.optional = true
	return u
}

// OnReady registers fn to be called once the readiness wait on the unit's signal succeeds.
func (u *Unit) OnReady(fn Func) *Unit {
	u.onReady = fn
	return u
}

// Name returns the name of the unit.
func (u *Unit) Name() string {
	return u.name
}

// Kind returns the phase the unit belongs to.
func (u *Unit) Kind() PhaseKind {
	return u.kind
}

// await is an additional readiness wait on a combination of signals.
type await struct {
	label   string
	signals []string
}

// Sequence provides registration and storage of boot units.
// Sequence can instantiate an Agent, which is responsible for running the actual boot.
type Sequence struct {
	sync.Mutex // Protects fields units and awaits.

	name   string
	units  map[string]*Unit
	awaits []await
}

// New returns a new and empty boot Sequence.
func New(name string) *Sequence {
	return &Sequence{name: name, units: make(map[string]*Unit)}
}

// register stores a unit of the given kind. If a unit with the same name exists, it is replaced.
func (s *Sequence) register(kind PhaseKind, name string, fn Func) *Unit {
	s.Lock()
	defer s.Unlock()

	seq := len(s.units)
	if prev, ok := s.units[name]; ok {
		seq = prev.seq
	}
	ref := &Unit{name: name, kind: kind, fn: fn, signal: name, seq: seq}
	s.units[name] = ref
	return ref
}

// Critical registers a unit on the critical path. Critical units run synchronously, in registration order, before
// anything else; a failing critical unit aborts the boot unless it is marked Optional.
func (s *Sequence) Critical(name string, fn Func) *Unit {
	return s.register(PhaseCritical, name, fn)
}

// Hardware registers a hardware unit. Hardware units start concurrently and the boot waits for all of them at once.
func (s *Sequence) Hardware(name string, fn Func) *Unit {
	return s.register(PhaseHardware, name, fn)
}

// Service registers a service unit. Service units start concurrently after the hardware units and the boot waits
// for each of them individually.
func (s *Sequence) Service(name string, fn Func) *Unit {
	return s.register(PhaseServices, name, fn)
}

// Deferred registers a low-priority unit that starts after a grace delay and is never waited on.
func (s *Sequence) Deferred(name string, fn Func) *Unit {
	return s.register(PhaseDeferred, name, fn)
}

// Await adds a readiness wait, labelled label, on the conjunction of the given signals. It runs after the waits on
// the hardware and service units, with Config.ServiceTimeout as its budget.
func (s *Sequence) Await(label string, signals ...string) {
	s.Lock()
	defer s.Unlock()

	s.awaits = append(s.awaits, await{label: label, signals: append([]string(nil), signals...)})
}

// UnitCount returns the number of units currently registered with the Sequence.
func (s *Sequence) UnitCount() int {
	s.Lock()
	defer s.Unlock()

	return len(s.units)
}

// UnitNames returns the name of each registered unit, in registration order.
func (s *Sequence) UnitNames() []string {
	s.Lock()
	defer s.Unlock()

	units := s.sorted()
	ns := make([]string, len(units))
	for i, u := range units {
		ns[i] = u.name
	}
	return ns
}

// sorted returns copies of the registered units in registration order. The caller must hold the lock.
func (s *Sequence) sorted() []Unit {
	units := make([]Unit, 0, len(s.units))
	for _, u := range s.units {
		units = append(units, *u)
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].seq < units[j].seq
	})
	return units
}

// Validate checks cfg and every registered unit. It returns an error if the configuration is invalid, if the
// sequence is empty, if a unit has a nil Func or if two units set the same signal. With cfg.StrictSignals, every
// signal referenced by Await must be set by some unit.
func (s *Sequence) Validate(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if len(s.units) == 0 {
		return EmptySequenceError(s.name)
	}

	signals := make(map[string]bool, len(s.units))
	for _, u := range s.sorted() {
		if u.fn == nil {
			return NilFuncError(u.name)
		}
		if u.signal == "" {
			return InvalidConfigError(fmt.Sprintf("unit %q has an empty signal", u.name))
		}
		if signals[u.signal] {
			return DuplicateSignalError(u.signal)
		}
		signals[u.signal] = true
		if u.stack < 0 {
			return InvalidConfigError(fmt.Sprintf("unit %q has a negative stack size", u.name))
		}
		if u.timeout < 0 {
			return InvalidConfigError(fmt.Sprintf("unit %q has a negative timeout", u.name))
		}
		if u.interval < 0 {
			return InvalidConfigError(fmt.Sprintf("unit %q has a negative poll interval", u.name))
		}
		if u.interval > 0 && u.interval >= u.waitTimeout(cfg) {
			return InvalidConfigError(fmt.Sprintf("unit %q polls less often than its readiness budget", u.name))
		}
	}
	if len(signals) > maxSignals {
		return InvalidConfigError(fmt.Sprintf("more than %d signals", maxSignals))
	}

	for _, a := range s.awaits {
		if len(a.signals) == 0 {
			return InvalidConfigError(fmt.Sprintf("await %q has no signals", a.label))
		}
		if !cfg.StrictSignals {
			continue
		}
		for _, sig := range a.signals {
			if !signals[sig] {
				return UnknownSignalError(sig)
			}
		}
	}

	return nil
}

// Phase is one immutable stage of a boot run.
type Phase struct {
	Name     string
	Kind     PhaseKind
	Timeout  time.Duration // Budget of the phase; always positive.
	Waits    []string      // Signals the phase waits on, possibly none.
	Critical bool          // A failure in a critical phase aborts the run.
	units    []Unit
	hardware []string      // Readiness only: signals waited on as one conjunction.
	hwPoll   time.Duration // Readiness only: poll interval of the hardware conjunction.
	awaits   []await
}

// Units returns the names of the units run by the phase, in the order they are started.
func (p Phase) Units() []string {
	ns := make([]string, len(p.units))
	for i, u := range p.units {
		ns[i] = u.name
	}
	return ns
}

// phases builds the five phases of a run from the registered units. The caller must hold the lock.
func (s *Sequence) phases(cfg Config) []Phase {
	byKind := make(map[PhaseKind][]Unit)
	for _, u := range s.sorted() {
		if u.stack == 0 {
			u.stack = cfg.DefaultStack
		}
		byKind[u.kind] = append(byKind[u.kind], u)
	}
	for _, kind := range []PhaseKind{PhaseHardware, PhaseServices, PhaseDeferred} {
		units := byKind[kind]
		sort.SliceStable(units, func(i, j int) bool {
			return units[i].priority > units[j].priority
		})
	}

	readiness := Phase{
		Name:    PhaseReadiness.String(),
		Kind:    PhaseReadiness,
		Timeout: cfg.HardwareTimeout,
		hwPoll:  cfg.PollInterval,
		awaits:  append([]await(nil), s.awaits...),
	}
	for _, u := range byKind[PhaseHardware] {
		readiness.hardware = append(readiness.hardware, u.signal)
		readiness.Waits = append(readiness.Waits, u.signal)
		if u.interval > 0 && u.interval < readiness.hwPoll {
			readiness.hwPoll = u.interval
		}
	}
	for _, u := range byKind[PhaseServices] {
		readiness.Waits = append(readiness.Waits, u.signal)
		readiness.Timeout += u.budget(cfg)
		readiness.units = append(readiness.units, u)
	}
	for _, a := range s.awaits {
		readiness.Waits = append(readiness.Waits, a.signals...)
		readiness.Timeout += cfg.ServiceTimeout
	}

	return []Phase{
		{Name: PhaseCritical.String(), Kind: PhaseCritical, Timeout: cfg.CriticalTimeout, Critical: true, units: byKind[PhaseCritical]},
		{Name: PhaseHardware.String(), Kind: PhaseHardware, Timeout: cfg.HardwareTimeout, units: byKind[PhaseHardware]},
		{Name: PhaseServices.String(), Kind: PhaseServices, Timeout: cfg.ServiceTimeout, units: byKind[PhaseServices]},
		readiness,
		{Name: PhaseDeferred.String(), Kind: PhaseDeferred, Timeout: cfg.DeferredDelay + cfg.ServiceTimeout, units: byKind[PhaseDeferred]},
	}
}

// budget returns the readiness budget of a service unit.
func (u Unit) budget(cfg Config) time.Duration {
	if u.timeout > 0 {
		return u.timeout
	}
	return cfg.ServiceTimeout
}

// waitTimeout returns the budget of the readiness wait that covers the unit.
func (u Unit) waitTimeout(cfg Config) time.Duration {
	if u.kind == PhaseHardware {
		return cfg.HardwareTimeout
	}
	return u.budget(cfg)
}

// poll returns the poll interval of the readiness wait on the unit's signal.
func (u Unit) poll(cfg Config) time.Duration {
	if u.interval > 0 {
		return u.interval
	}
	return cfg.PollInterval
}

// Agent validates the sequence against cfg, orders the registered units into phases and returns an Agent for
// running the boot.
func (s *Sequence) Agent(cfg Config, opts ...Option) (*Agent, error) {
	if err := s.Validate(cfg); err != nil {
		return nil, err
	}

	s.Lock()
	phases := s.phases(cfg)
	s.Unlock()

	return newAgent(s.name, cfg, phases, opts...), nil
}

// plan renders phases in the notation used by Agent.String.
// Units that start concurrently are separated by a colon and sorted alphabetically, critical units by a
// right-arrow in execution order. Readiness waits are separated by a comma, with signals of a conjunction joined by
// a plus sign. Empty phases are left out.
func plan(phases []Phase) string {
	var sequence strings.Builder

	for _, p := range phases {
		var body string
		switch p.Kind {
		case PhaseCritical:
			body = strings.Join(p.Units(), " > ")
		case PhaseReadiness:
			body = strings.Join(p.waitLabels(), ", ")
		default:
			names := p.Units()
			sort.Strings(names)
			body = strings.Join(names, " : ")
		}
		if body == "" {
			continue
		}
		sequence.WriteString(p.Name + "(" + body + ") > ")
	}

	ret := sequence.String()
	if ret == "" {
		return ""
	}
	return ret[:len(ret)-3]
}

// waitLabels describes each wait of a readiness phase.
func (p Phase) waitLabels() []string {
	var labels []string
	if len(p.hardware) > 0 {
		labels = append(labels, strings.Join(p.hardware, "+"))
	}
	for _, u := range p.units {
		labels = append(labels, u.signal)
	}
	for _, a := range p.awaits {
		labels = append(labels, strings.Join(a.signals, "+"))
	}
	return labels
}
