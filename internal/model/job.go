package model

import (
	"math"
	"time"
)

// State names a stage of the job lifecycle.
type State string

// Job state constants.
const (
	StateNew       State = "New"
	StateStarting  State = "Starting"
	StateRunning   State = "Running"
	StateCompleted State = "Completed"
	StateException State = "Exception"
)

// States lists every job state in lifecycle order.
var States = []State{StateNew, StateStarting, StateRunning, StateCompleted, StateException}

// validTransitions maps each state to the set of states it may transition to.
var validTransitions = map[State]map[State]bool{
	StateNew: {
		StateStarting: true,
	},
	StateStarting: {
		StateRunning: true,
	},
	StateRunning: {
		StateCompleted: true,
		StateException: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether no further transition is expected out of s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateException
}

// Known reports whether s is one of the lifecycle states.
func (s State) Known() bool {
	for _, st := range States {
		if st == s {
			return true
		}
	}
	return false
}

// LogEntry is one immutable line of a job log.
type LogEntry struct {
	Timestamp float64 `json:"timestamp"`
	Content   string  `json:"content"`
}

// Time converts the entry timestamp to a time.Time.
func (e LogEntry) Time() time.Time {
	return FromSeconds(e.Timestamp)
}

// Seconds returns t as floating point seconds since the Unix epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds is the inverse of Seconds.
func FromSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second)))).UTC()
}
