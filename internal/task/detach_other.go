//go:build !unix

package task

import "context"

// ExecDetacher is unavailable on this platform; Detach always fails.
type ExecDetacher struct {
	Executable string
	Env        []string
}

func (d *ExecDetacher) Detach(context.Context, Invocation, WorkFunc) error {
	return ErrDetachUnsupported
}

// SpawnWorker always fails on this platform.
func SpawnWorker(Invocation, string) error {
	return ErrDetachUnsupported
}
