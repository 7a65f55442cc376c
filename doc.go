// Package bootseq provides a staged, concurrent boot orchestrator for devices that
// need to bring up many independent subsystems with minimum wall-clock latency.
//
// A boot run moves through five phases: a synchronous critical path, parallel
// hardware initialisation, asynchronous service launch, a readiness wait and the
// deferred start of non-critical services. Asynchronous units announce completion
// by setting one-shot signals in a shared Registry, and the scheduler polls those
// signals with WaitUntil instead of sleeping for fixed delays. A Recorder captures
// milestones and produces a Report that compares the run against a baseline.
//
// Quick Start
//
// 	seq := bootseq.New("rm01")
// 	seq.Critical("led-indicator", ledUp)
// 	seq.Critical("w5500", w5500Up)
// 	seq.Hardware("power", powerUp).Stack(4096).Priority(4)
// 	seq.Hardware("ws2812", ws2812Up).Stack(3072).Priority(3)
// 	seq.Service("webserver", webUp).Timeout(3 * time.Second)
// 	seq.Deferred("diagnostics", diagUp)
//
// 	agent, err := seq.Agent(bootseq.DefaultConfig())
// 	if err != nil {
// 		// invalid sequence or configuration
// 	}
// 	report, err := agent.Run(context.Background(), nil)
//
// 	// report.Classification tells whether the boot met its target.
//
// Only a failing critical step makes Run return an error. Slow or missing
// subsystems time out, are recorded in the Report and the boot carries on.
package bootseq
