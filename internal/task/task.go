package task

import "context"

// Task is a unit of background work bound to a job.
type Task interface {
	// Job returns the persisted job the task reports through.
	Job() *Job

	// Run performs the work. A returned error (or a panic) marks the job as
	// failed; Run should store its result with Job().SetContent.
	Run(ctx context.Context, args []string) error
}

// PreDetacher is implemented by tasks that need to capture state in the
// calling process before the work is handed off, for example snapshotting
// inputs that the caller may change afterwards.
type PreDetacher interface {
	PreDetach(ctx context.Context, args []string) error
}

// PostDetacher is implemented by tasks that need to prepare the worker after
// it has been detached and before Run.
type PostDetacher interface {
	PostDetach(ctx context.Context, args []string) error
}
