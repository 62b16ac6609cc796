// Package task runs jobs in the background. A Task is a unit of work bound to
// a persisted Job; the Runner moves the job through its lifecycle and hands
// the work to a Detacher, which either re-executes the current binary as a
// session leader that outlives the caller or runs it on a goroutine.
package task
