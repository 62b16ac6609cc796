//go:build unix

package task

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// ExecDetacher detaches work into a separate process. It runs the current
// binary with StageDetach, which starts the worker (StageWorker) in a new
// session and exits at once; Detach waits only for that intermediate
// process. The worker is then owned by init and outlives the caller.
//
// The work function is not called in this process: the binary must route
// StageDetach to SpawnWorker and StageWorker to Runner.Work.
type ExecDetacher struct {
	// Executable is the binary to re-execute; empty means os.Executable.
	Executable string
	// Env is appended to the current environment of both stages.
	Env []string
}

// Detach runs the intermediate stage for inv and waits for it.
func (d *ExecDetacher) Detach(ctx context.Context, inv Invocation, _ WorkFunc) error {
	exe, err := d.executable()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, exe, stageArgs(StageDetach, inv)...)
	cmd.Env = append(os.Environ(), d.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("detach %s: %w: %s", inv.ID, err, msg)
		}
		return fmt.Errorf("detach %s: %w", inv.ID, err)
	}
	return nil
}

func (d *ExecDetacher) executable() (string, error) {
	if d.Executable != "" {
		return d.Executable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return exe, nil
}

// SpawnWorker is the intermediate stage: it starts the worker for inv as
// the leader of a new session, with its standard streams on the null device
// and workDir as its working directory, and returns without waiting. The
// caller should exit right after.
func SpawnWorker(inv Invocation, workDir string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer null.Close()

	if workDir == "" {
		workDir = "/"
	}

	cmd := exec.Command(exe, stageArgs(StageWorker, inv)...)
	cmd.Dir = workDir
	cmd.Stdin = null
	cmd.Stdout = null
	cmd.Stderr = null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker for %s: %w", inv.ID, err)
	}
	return cmd.Process.Release()
}

func stageArgs(stage string, inv Invocation) []string {
	args := make([]string, 0, len(inv.Args)+2)
	args = append(args, stage, inv.ID)
	return append(args, inv.Args...)
}
