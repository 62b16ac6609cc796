package updater

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestStubEngineCheck(t *testing.T) {
	var lines []string
	log := func(l string) { lines = append(lines, l) }

	out, err := (&StubEngine{}).CheckForUpdates(context.Background(), log)
	if err != nil {
		t.Fatalf("CheckForUpdates: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output = %q, want empty when up to date", out)
	}

	out, err = (&StubEngine{Updates: []string{"a=1", "b=2"}}).CheckForUpdates(context.Background(), log)
	if err != nil {
		t.Fatalf("CheckForUpdates: %v", err)
	}
	if string(out) != "a=1\nb=2" {
		t.Errorf("output = %q", out)
	}
	if len(lines) != 4 {
		t.Errorf("got %d log lines, want 4: %q", len(lines), lines)
	}
}

func TestStubEngineApply(t *testing.T) {
	e := &StubEngine{}
	if err := e.ApplyUpdate(context.Background(), "group-os", nil); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if err := e.ApplyUpdate(context.Background(), "fail-now", nil); !errors.Is(err, ErrEngine) {
		t.Fatalf("ApplyUpdate(fail-now) = %v, want ErrEngine", err)
	}
}

func TestStubEngineSurvey(t *testing.T) {
	out, err := (&StubEngine{}).RunSurvey(context.Background(), []string{"x"}, "install a\ninstall b\n", nil)
	if err != nil {
		t.Fatalf("RunSurvey: %v", err)
	}
	var res SurveyResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.SystemModelLines != 2 || len(res.Desired) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestStubEngineDelayHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&StubEngine{Delay: time.Hour}).CheckForUpdates(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
