package app

import (
	"math"
	"sync/atomic"
	"time"
)

// Phase is the lifecycle stage of a single pipeline loop.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LoopStatus tracks the phase of one loop. The loop goroutine writes it; the
// status endpoint reads it.
type LoopStatus struct {
	v atomic.Int32
}

// Set records the loop's phase.
func (ls *LoopStatus) Set(p Phase) { ls.v.Store(int32(p)) }

// Phase returns the loop's current phase.
func (ls *LoopStatus) Phase() Phase { return Phase(ls.v.Load()) }

// State is the shared mutable state of the pipeline: the low-power decision,
// the last battery reading, engine readiness, and the phase of every loop.
// All fields are independently atomic — readers may observe a power-mode flip
// before the matching battery value, which is fine for status reporting.
type State struct {
	started time.Time

	lowPower    atomic.Bool
	engineReady atomic.Bool
	battery     atomic.Uint64 // float64 bits; -1 until the first read
	language    atomic.Pointer[string]

	capture LoopStatus
	display LoopStatus
	persist LoopStatus
	connect LoopStatus
	power   LoopStatus
}

// NewState returns a State with every loop in PhaseStarting and no battery
// reading yet.
func NewState() *State {
	s := &State{started: time.Now()}
	s.battery.Store(math.Float64bits(-1))
	return s
}

// SetLowPower records the low-power decision and reports whether it changed.
func (s *State) SetLowPower(v bool) bool {
	return s.lowPower.Swap(v) != v
}

// LowPower reports the current low-power decision.
func (s *State) LowPower() bool { return s.lowPower.Load() }

// SetEngineReady records whether the transcription backend is live.
func (s *State) SetEngineReady(v bool) { s.engineReady.Store(v) }

// EngineReady reports whether the transcription backend is live.
func (s *State) EngineReady() bool { return s.engineReady.Load() }

// SetBattery records the last observed charge fraction.
func (s *State) SetBattery(level float64) {
	s.battery.Store(math.Float64bits(level))
}

// Battery returns the last observed charge fraction, -1 before the first
// successful read.
func (s *State) Battery() float64 {
	return math.Float64frombits(s.battery.Load())
}

// SetLanguage records the active transcription language.
func (s *State) SetLanguage(code string) {
	if code == "" {
		return
	}
	s.language.Store(&code)
}

// Language returns the active transcription language, "" when never set.
func (s *State) Language() string {
	if p := s.language.Load(); p != nil {
		return *p
	}
	return ""
}

// Uptime is the time elapsed since the State was created.
func (s *State) Uptime() time.Duration { return time.Since(s.started) }

// LoopPhases returns the phase of every loop by name, for the status
// endpoint.
func (s *State) LoopPhases() map[string]string {
	return map[string]string{
		"capture":      s.capture.Phase().String(),
		"display":      s.display.Phase().String(),
		"persistence":  s.persist.Phase().String(),
		"connectivity": s.connect.Phase().String(),
		"power":        s.power.Phase().String(),
	}
}
