package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Schedule says when the janitor runs. Cron takes precedence over Every.
type Schedule struct {
	// Cron is a five-field cron expression or an "@" macro.
	Cron string `yaml:"cron"`
	// Every is a fixed interval.
	Every time.Duration `yaml:"every"`
}

// ParseCron validates a five-field cron expression or "@" macro.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(e)
	return err
}

// Janitor periodically deletes expired jobs, so storage does not grow when
// nobody lists jobs.
type Janitor struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewJanitor schedules svc.Purge. The janitor does nothing until Start.
func NewJanitor(svc *Service, sched Schedule, logger *slog.Logger) (*Janitor, error) {
	var def gocron.JobDefinition
	switch {
	case sched.Cron != "":
		if err := ParseCron(sched.Cron); err != nil {
			return nil, fmt.Errorf("parsing purge cron: %w", err)
		}
		def = gocron.CronJob(sched.Cron, false)
	case sched.Every > 0:
		def = gocron.DurationJob(sched.Every)
	default:
		return nil, errors.New("purge schedule needs a cron expression or an interval")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}

	j := &Janitor{scheduler: s, logger: logger}
	_, err = s.NewJob(
		def,
		gocron.NewTask(j.purge, svc),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("purge-expired-jobs"),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return j, nil
}

func (j *Janitor) purge(svc *Service) {
	ctx := context.Background()
	n, err := svc.Purge(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "purging expired jobs failed", "error", err)
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "purged expired jobs", "count", n)
	}
}

// Start begins running the schedule.
func (j *Janitor) Start() {
	j.scheduler.Start()
}

// Shutdown stops the schedule and waits for a running purge.
func (j *Janitor) Shutdown() error {
	return j.scheduler.Shutdown()
}
