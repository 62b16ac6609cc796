package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StubEngine is a deterministic engine for the development server and
// tests. It never touches the system.
type StubEngine struct {
	// Updates is what CheckForUpdates reports, one per line.
	Updates []string
	// Delay is slept, honoring cancellation, before each operation returns.
	Delay time.Duration
}

var _ Engine = (*StubEngine)(nil)

// SurveyResult is the document StubEngine.RunSurvey returns.
type SurveyResult struct {
	Desired          []string `json:"desired"`
	SystemModelLines int      `json:"system_model_lines"`
}

func (e *StubEngine) CheckForUpdates(ctx context.Context, log LogFunc) ([]byte, error) {
	log = orDiscard(log)
	log("checking for updates")
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	log(fmt.Sprintf("%d updates available", len(e.Updates)))
	if len(e.Updates) == 0 {
		return []byte{}, nil
	}
	return []byte(strings.Join(e.Updates, "\n")), nil
}

// ApplyUpdate fails for any spec starting with "fail".
func (e *StubEngine) ApplyUpdate(ctx context.Context, sourceSpec string, log LogFunc) error {
	log = orDiscard(log)
	log("applying " + sourceSpec)
	if err := e.wait(ctx); err != nil {
		return err
	}
	if strings.HasPrefix(sourceSpec, "fail") {
		return fmt.Errorf("%w: apply %s: simulated failure", ErrEngine, sourceSpec)
	}
	log("applied " + sourceSpec)
	return nil
}

func (e *StubEngine) RunSurvey(ctx context.Context, desired []string, systemModel string, log LogFunc) ([]byte, error) {
	log = orDiscard(log)
	log(fmt.Sprintf("surveying %d packages", len(desired)))
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	res := SurveyResult{Desired: desired, SystemModelLines: countLines(systemModel)}
	if res.Desired == nil {
		res.Desired = []string{}
	}
	return json.Marshal(res)
}

func (e *StubEngine) wait(ctx context.Context) error {
	if e.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func countLines(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
