package updater

import (
	"context"
	"errors"
)

// ErrEngine wraps failures reported by an update engine.
var ErrEngine = errors.New("update engine failed")

// LogFunc receives progress lines while an engine operation runs. It may be
// called from more than one goroutine, but never concurrently.
type LogFunc func(line string)

// Engine is the interface every update engine implements.
type Engine interface {
	// CheckForUpdates reports the available updates. An empty result means
	// the system is up to date.
	CheckForUpdates(ctx context.Context, log LogFunc) ([]byte, error)

	// ApplyUpdate installs the update described by sourceSpec.
	ApplyUpdate(ctx context.Context, sourceSpec string, log LogFunc) error

	// RunSurvey compares the system against the desired packages and the
	// given system model and returns the survey document.
	RunSurvey(ctx context.Context, desired []string, systemModel string, log LogFunc) ([]byte, error)
}

func discard(string) {}

func orDiscard(log LogFunc) LogFunc {
	if log == nil {
		return discard
	}
	return log
}
