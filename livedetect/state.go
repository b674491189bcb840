package livedetect

import (
	"strings"

	"github.com/pkg/errors"
)

// LoopState is the run state of the scheduler.
type LoopState int

const (
	// Idle means no cycle is running or about to run.
	Idle LoopState = iota
	// Running means a continuous loop or a single capture is in progress.
	Running
	// StopRequested means the loop will go idle at the next cycle boundary.
	StopRequested
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	default:
		return "unknown"
	}
}

// Mode is what the scheduler is running.
type Mode int

const (
	// ModeNone is the mode while idle.
	ModeNone Mode = iota
	// ModeContinuous is live detection.
	ModeContinuous
	// ModeSingleShot is one capture on demand.
	ModeSingleShot
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeContinuous:
		return "continuous"
	case ModeSingleShot:
		return "single_shot"
	default:
		return "unknown"
	}
}

// ErrorPolicy decides what the continuous loop does when a cycle fails.
type ErrorPolicy int

const (
	// ContinueOnError logs the failure and runs the next cycle.
	ContinueOnError ErrorPolicy = iota
	// AbortOnError logs the failure and stops the loop. The failure is kept in Err.
	AbortOnError
)

func (p ErrorPolicy) String() string {
	if p == AbortOnError {
		return "abort"
	}
	return "continue"
}

// ParseErrorPolicy parses "continue" or "abort". The empty string is ContinueOnError.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "", "continue":
		return ContinueOnError, nil
	case "abort":
		return AbortOnError, nil
	default:
		return ContinueOnError, errors.Errorf("unknown error policy %q, expected continue or abort", s)
	}
}
