// Package orchestrator wires a SimulatedNetwork, a set of Replicas and
// a set of Learners into one runnable simulation, per spec.md §4.5.
package orchestrator

import (
	"fmt"
	"time"
)

// LearnerConfig names one learner instance and its two thresholds.
type LearnerConfig struct {
	Name    string
	QFast   int
	QCommit int
}

// Config is the control-interface input spec.md §6 names: "accepts a
// configuration and starts/stops a simulation." Field defaults mirror
// the spec.md §6 table exactly.
type Config struct {
	Replicas  int
	F         int
	Byzantine []int
	ABC       []int

	// QCThreshold overrides the classical quorum size (2F+1) used for
	// QC formation. Zero means "use the default."
	QCThreshold int

	DropRate           float64
	MinDelay, MaxDelay time.Duration
	ProposeInterval    time.Duration
	ViewTimeout        time.Duration
	Duration           time.Duration

	Learners []LearnerConfig

	// VerboseLogging is forwarded to every replica's Config.
	VerboseLogging bool

	// Seed drives the simulated network's delay/drop RNG. Fixed by
	// default so runs are reproducible; callers wanting independent
	// randomness per run should vary it themselves; no time-based
	// seeding is performed here.
	Seed int64
}

// Default returns the spec.md §6 default configuration: n=7, f=2,
// no Byzantine or ABC members, no drop, 10ms-50ms delay, a 150ms
// propose cadence, a 10s run, and the fast/safe learner pair.
func Default() Config {
	f := 2
	return Config{
		Replicas:        7,
		F:               f,
		DropRate:        0.0,
		MinDelay:        10 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		ProposeInterval: 150 * time.Millisecond,
		ViewTimeout:     500 * time.Millisecond,
		Duration:        10 * time.Second,
		Learners: []LearnerConfig{
			{Name: "fast", QFast: 4, QCommit: 6},
			{Name: "safe", QFast: 999, QCommit: 2*f + 1},
		},
		Seed: 1,
	}
}

// Validate rejects negative numeric fields and non-positive Replicas,
// per spec.md §6: "All numeric fields are validated to be
// non-negative; integers that must be positive (e.g. replicas) reject
// zero." It does not reject n < 3f+1 — that case is a run-time WARN,
// not a construction error (see Warnings).
func (c Config) Validate() error {
	if c.Replicas <= 0 {
		return fmt.Errorf("replicas must be positive, got %d", c.Replicas)
	}
	if c.F < 0 {
		return fmt.Errorf("f must be non-negative, got %d", c.F)
	}
	if c.QCThreshold < 0 {
		return fmt.Errorf("qc_threshold must be non-negative, got %d", c.QCThreshold)
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("drop_rate must be in [0,1], got %f", c.DropRate)
	}
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("min_delay/max_delay must be non-negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max_delay (%s) must be >= min_delay (%s)", c.MaxDelay, c.MinDelay)
	}
	if c.ProposeInterval <= 0 {
		return fmt.Errorf("propose_interval must be positive, got %s", c.ProposeInterval)
	}
	if c.ViewTimeout <= 0 {
		return fmt.Errorf("view_timeout must be positive, got %s", c.ViewTimeout)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", c.Duration)
	}
	for _, idx := range append(append([]int{}, c.Byzantine...), c.ABC...) {
		if idx < 0 || idx >= c.Replicas {
			return fmt.Errorf("replica index %d out of range [0,%d)", idx, c.Replicas)
		}
	}
	for _, lc := range c.Learners {
		if lc.QFast < 0 || lc.QCommit < 0 {
			return fmt.Errorf("learner %q thresholds must be non-negative", lc.Name)
		}
	}
	return nil
}

// Warnings returns the non-fatal configuration warnings spec.md §6/§7
// name (currently only the n < 3f+1 classical-safety warning).
func (c Config) Warnings() []string {
	var warnings []string
	if c.Replicas < 3*c.F+1 {
		warnings = append(warnings, fmt.Sprintf("replicas=%d is below the classical safety bound 3f+1=%d", c.Replicas, 3*c.F+1))
	}
	return warnings
}

func (c Config) qcThreshold() int {
	if c.QCThreshold > 0 {
		return c.QCThreshold
	}
	return 2*c.F + 1
}

func (c Config) isByzantine(idx int) bool { return contains(c.Byzantine, idx) }
func (c Config) isABC(idx int) bool       { return contains(c.ABC, idx) }

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
