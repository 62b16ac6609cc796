package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"go.uber.org/goleak"

	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

// helperEnv points the re-executed test binary at the storage root of the
// test that spawned it.
const helperEnv = "RPATH_TASK_HELPER_ROOT"

func TestMain(m *testing.M) {
	if root := os.Getenv(helperEnv); root != "" && len(os.Args) > 1 {
		os.Exit(helperMain(root, os.Args[1:]))
	}
	goleak.VerifyTestMain(m)
}

// helperMain plays the part of the binary's hidden stage commands.
func helperMain(root string, args []string) int {
	inv, err := ParseInvocation(args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	switch args[0] {
	case StageDetach:
		if err := SpawnWorker(inv, "/"); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	case StageWorker:
		b, err := storage.NewFileBackend(root)
		if err != nil {
			return 1
		}
		defer b.Close()

		reg := NewRegistry(b)
		if err := reg.Register(echoKind); err != nil {
			return 1
		}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		runner := NewRunner(reg, NewInProcessDetacher(logger), logger)
		if err := runner.Work(context.Background(), inv); err != nil {
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown stage %q\n", args[0])
		return 2
	}
}
