package bootseq

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

var errUnit = errors.New("unit has failed")

// ErrOp (error operation) is a convenience function you can use in place of a
// unit Func for when you want a function that returns an error.
func ErrOp(context.Context) error {
	return errUnit
}

// PanicOp (panic operation) is a convenience function you can use in place of a
// unit Func for when you want a function that panics.
func PanicOp(context.Context) error {
	panic(errUnit.Error())
}

// SleepOp (sleep operation) returns a unit Func that sleeps for d.
func SleepOp(d time.Duration) Func {
	return func(context.Context) error {
		time.Sleep(d)
		return nil
	}
}

// BlockOp (block operation) returns a unit Func that blocks until release is closed.
func BlockOp(release <-chan struct{}) Func {
	return func(context.Context) error {
		<-release
		return nil
	}
}

// fastConfig returns a Config with budgets short enough for tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.CriticalTimeout = 500 * time.Millisecond
	cfg.HardwareTimeout = 500 * time.Millisecond
	cfg.ServiceTimeout = 500 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.DeferredDelay = 20 * time.Millisecond
	return cfg
}

// progressRecorder collects Progress values delivered by Agent.Run.
type progressRecorder struct {
	sync.Mutex
	actual []Progress
}

func (p *progressRecorder) progress() func(Progress) {
	return func(pr Progress) {
		p.Lock()
		defer p.Unlock()
		p.actual = append(p.actual, pr)
	}
}

// units returns the name of every unit reported for phase.
func (p *progressRecorder) units(phase string) []string {
	p.Lock()
	defer p.Unlock()

	var names []string
	for _, pr := range p.actual {
		if pr.Phase == phase && pr.Unit != "" {
			names = append(names, pr.Unit)
		}
	}
	return names
}

func verifyNilErr(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func verifyErrorType(t *testing.T, actual, expected error) {
	t.Helper()

	if actual == nil {
		t.Fatalf("expected error of type %T(%s), got nil", expected, expected.Error())
	}
	if actual != expected {
		t.Fatalf("expected error of type %T(%s), got %T(%s)", expected, expected.Error(), actual, actual.Error())
	}
}

func verifyStringEquals(t *testing.T, expected, actual string) {
	t.Helper()

	if expected != actual {
		t.Fatalf("expected %q to equal %q", actual, expected)
	}
}

func verifyStringsEqual(t *testing.T, expected, actual []string) {
	t.Helper()

	if len(actual) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
	for i := range expected {
		if actual[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, actual)
		}
	}
}

func verifyCountEq(t *testing.T, c int, expected int) {
	t.Helper()

	if c != expected {
		t.Fatalf("expected count to equal %d, got %d", expected, c)
	}
}

func verifyTrue(t *testing.T, cond bool, msg string) {
	t.Helper()

	if !cond {
		t.Fatal(msg)
	}
}

func verifyDurationBetween(t *testing.T, d, lo, hi time.Duration) {
	t.Helper()

	if d < lo || d > hi {
		t.Fatalf("expected duration between %s and %s, got %s", lo, hi, d)
	}
}

func verifyPanicWithMsg(t *testing.T, expected string) {
	t.Helper()

	err := recover()
	if err == nil {
		t.Fatal("expected a panic")
	}
	actual, ok := err.(string)
	if !ok {
		t.Fatalf("expected to panic with string, got %v", reflect.TypeOf(err).String())
	}
	if actual != expected {
		t.Fatalf("expected panic message to equal %q, got %q", expected, actual)
	}
}
