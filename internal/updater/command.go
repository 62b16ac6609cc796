package updater

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxLineSize bounds a single line of engine output.
const maxLineSize = 1 << 20

// CommandEngine runs an external engine binary. The binary is invoked as
// "check", "apply <spec>" or "survey <pkg>..." (with the system model on
// stdin); stdout is the result and every output line is passed to the
// LogFunc as it arrives.
type CommandEngine struct {
	// Path is the engine binary.
	Path string
	// Env is appended to the current environment.
	Env []string
}

// NewCommandEngine returns an engine running the binary at path.
func NewCommandEngine(path string) *CommandEngine {
	return &CommandEngine{Path: path}
}

var _ Engine = (*CommandEngine)(nil)

func (e *CommandEngine) CheckForUpdates(ctx context.Context, log LogFunc) ([]byte, error) {
	return e.run(ctx, nil, log, "check")
}

func (e *CommandEngine) ApplyUpdate(ctx context.Context, sourceSpec string, log LogFunc) error {
	_, err := e.run(ctx, nil, log, "apply", sourceSpec)
	return err
}

func (e *CommandEngine) RunSurvey(ctx context.Context, desired []string, systemModel string, log LogFunc) ([]byte, error) {
	args := append([]string{"survey"}, desired...)
	return e.run(ctx, strings.NewReader(systemModel), log, args...)
}

func (e *CommandEngine) run(ctx context.Context, stdin io.Reader, log LogFunc, args ...string) ([]byte, error) {
	if e.Path == "" {
		return nil, fmt.Errorf("%w: no engine binary configured", ErrEngine)
	}

	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrEngine, e.Path, err)
	}

	var mu sync.Mutex
	emit := orDiscard(log)
	logLine := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		emit(line)
	}

	var out bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return scanLines(io.TeeReader(stdout, &out), logLine) })
	g.Go(func() error { return scanLines(stderr, logLine) })
	scanErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrEngine, e.Path, args[0], err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read %s output: %w", e.Path, scanErr)
	}
	return out.Bytes(), nil
}

func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Drain so the process is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}
