package bootseq

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Milestone names recorded by every boot run.
const (
	MilestoneStart            = "boot-start"
	MilestoneHardwareStart    = "hardware-start"
	MilestoneServicesStart    = "services-start"
	MilestoneHardwareComplete = "hardware-complete"
	MilestoneDeferredStart    = "deferred-start"
	MilestoneComplete         = "boot-complete"
)

// Classification grades a boot duration against its targets.
type Classification string

const (
	MetTarget    Classification = "met target"
	NearTarget   Classification = "near target"
	MissedTarget Classification = "missed target"
)

// Targets holds the boot duration thresholds used to classify a Report.
type Targets struct {
	Excellent time.Duration `mapstructure:"excellent"`
	Warning   time.Duration `mapstructure:"warning"`
}

// Classify grades d against the receiver.
func (t Targets) Classify(d time.Duration) Classification {
	switch {
	case d <= t.Excellent:
		return MetTarget
	case d <= t.Warning:
		return NearTarget
	default:
		return MissedTarget
	}
}

// Milestone is a named point in time, relative to the start of the Recorder.
type Milestone struct {
	Name     string        `json:"name" yaml:"name"`
	OffsetMS int64         `json:"offset_ms" yaml:"offset_ms"`
	offset   time.Duration // Full precision copy of OffsetMS.
	seq      int           // Order of first submission.
}

// WaitOutcome is the result of one readiness wait.
type WaitOutcome struct {
	Label     string `json:"label" yaml:"label"`
	Ready     bool   `json:"ready" yaml:"ready"`
	ElapsedMS int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
	TimeoutMS int64  `json:"timeout_ms" yaml:"timeout_ms"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// UnitOutcome is the state of one unit at the time the report was produced.
type UnitOutcome struct {
	Name      string `json:"name" yaml:"name"`
	Phase     string `json:"phase" yaml:"phase"`
	State     string `json:"state" yaml:"state"`
	ElapsedMS int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the performance report of a single boot run. It is read-only once returned.
type Report struct {
	RunID          string          `json:"run_id" yaml:"run_id"`
	Sequence       string          `json:"sequence" yaml:"sequence"`
	Status         string          `json:"status" yaml:"status"`
	Error          string          `json:"error,omitempty" yaml:"error,omitempty"`
	Milestones     []Milestone     `json:"milestones" yaml:"milestones"`
	Waits          []WaitOutcome   `json:"waits" yaml:"waits"`
	Units          []UnitOutcome   `json:"units" yaml:"units"`
	Components     map[string]bool `json:"components" yaml:"components"`
	BaselineMS     int64           `json:"baseline_ms" yaml:"baseline_ms"`
	OptimizedMS    int64           `json:"optimized_ms" yaml:"optimized_ms"`
	SavedMS        int64           `json:"saved_ms" yaml:"saved_ms"`
	ImprovementPct float64         `json:"improvement_pct" yaml:"improvement_pct"`
	Classification Classification  `json:"classification" yaml:"classification"`
}

// Milestone returns the milestone with the given name, and false if it was never marked.
func (r *Report) Milestone(name string) (Milestone, bool) {
	for _, m := range r.Milestones {
		if m.Name == name {
			return m, true
		}
	}
	return Milestone{}, false
}

// TimedOut returns the labels of every wait that did not succeed.
func (r *Report) TimedOut() []string {
	var labels []string
	for _, w := range r.Waits {
		if !w.Ready {
			labels = append(labels, w.Label)
		}
	}
	return labels
}

// Recorder captures milestones and outcomes for a single boot run.
// Recorder is safe for concurrent use.
type Recorder struct {
	sync.Mutex // Protects all fields below.

	now        func() time.Time
	epoch      time.Time
	milestones map[string]Milestone
	waits      []WaitOutcome
	units      []UnitOutcome
	components map[string]bool
}

// NewRecorder returns a Recorder whose offsets are measured from now.
func NewRecorder() *Recorder {
	return newRecorder(time.Now)
}

func newRecorder(now func() time.Time) *Recorder {
	return &Recorder{
		now:        now,
		epoch:      now(),
		milestones: make(map[string]Milestone),
		components: make(map[string]bool),
	}
}

// Mark records the current time under name. Marking the same name again overwrites the time but keeps the
// position of the first submission.
func (r *Recorder) Mark(name string) {
	r.Lock()
	defer r.Unlock()

	offset := r.now().Sub(r.epoch)
	m, ok := r.milestones[name]
	if !ok {
		m = Milestone{Name: name, seq: len(r.milestones)}
	}
	m.offset = offset
	m.OffsetMS = offset.Milliseconds()
	r.milestones[name] = m
}

// Status records whether a component is ready.
func (r *Recorder) Status(component string, ready bool) {
	r.Lock()
	defer r.Unlock()

	r.components[component] = ready
}

// Wait records the outcome of a readiness wait.
func (r *Recorder) Wait(label string, timeout, elapsed time.Duration, err error) {
	o := WaitOutcome{
		Label:     label,
		Ready:     err == nil,
		ElapsedMS: elapsed.Milliseconds(),
		TimeoutMS: timeout.Milliseconds(),
	}
	if err != nil {
		o.Error = err.Error()
	}

	r.Lock()
	defer r.Unlock()

	r.waits = append(r.waits, o)
}

// Unit records the outcome of a unit.
func (r *Recorder) Unit(o UnitOutcome) {
	r.Lock()
	defer r.Unlock()

	r.units = append(r.units, o)
}

// offset returns the offset of a milestone, falling back to the current time for a missing one.
// The caller must hold the lock.
func (r *Recorder) offset(name string) time.Duration {
	if m, ok := r.milestones[name]; ok {
		return m.offset
	}
	return r.now().Sub(r.epoch)
}

// Finalize computes the Report for the run against the given baseline and targets.
// The boot duration is the span between MilestoneStart and MilestoneComplete; a missing milestone is taken to be
// the start of the Recorder or the current time, respectively.
func (r *Recorder) Finalize(baseline time.Duration, targets Targets) *Report {
	r.Lock()
	defer r.Unlock()

	var start time.Duration
	if m, ok := r.milestones[MilestoneStart]; ok {
		start = m.offset
	}
	optimized := r.offset(MilestoneComplete) - start
	saved := baseline - optimized

	rep := &Report{
		RunID:          uuid.NewString(),
		Milestones:     make([]Milestone, 0, len(r.milestones)),
		Waits:          append([]WaitOutcome(nil), r.waits...),
		Units:          append([]UnitOutcome(nil), r.units...),
		Components:     make(map[string]bool, len(r.components)),
		BaselineMS:     baseline.Milliseconds(),
		OptimizedMS:    optimized.Milliseconds(),
		SavedMS:        saved.Milliseconds(),
		Classification: targets.Classify(optimized),
	}
	if baseline > 0 {
		rep.ImprovementPct = float64(saved) / float64(baseline) * 100
	}
	for _, m := range r.milestones {
		rep.Milestones = append(rep.Milestones, m)
	}
	sort.Slice(rep.Milestones, func(i, j int) bool {
		return rep.Milestones[i].seq < rep.Milestones[j].seq
	})
	for c, ready := range r.components {
		rep.Components[c] = ready
	}
	return rep
}
