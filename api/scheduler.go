/*
scheduler.go - Automated year rollover

PURPOSE:
  Extends every open-ended series into the current calendar year on a cron
  schedule, so a new year's records exist without anyone calling
  POST /api/years/{year}/extend.

DESIGN:
  - robfig/cron drives the job; default schedule is "0 3 1 1 *" (Jan 1, 03:00)
  - The job is Mutator.ExtendYear(currentYear), which is idempotent and
    shares one execution with a concurrent manual extend of the same year
  - Failures are logged per run; the next run retries whatever is missing

USAGE:
  rollover, err := NewYearRollover(mutator, clock, publisher, log, "0 3 1 1 *")
  rollover.RunNow(ctx) // catch up at startup
  rollover.Start()
  // ... later
  rollover.Stop()

SEE ALSO:
  - handlers.go: ExtendYear endpoint (manual extension)
  - series/mutator.go: ExtendYear
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/series-engine/events"
	"github.com/warp/series-engine/generic"
	"github.com/warp/series-engine/series"
)

// YearRollover handles automated extension into the current year.
type YearRollover struct {
	Mutator *series.Mutator
	Now     generic.Clock
	Events  events.Publisher
	Log     *logrus.Logger
	Timeout time.Duration

	schedule string
	engine   *cron.Cron
	mu       sync.Mutex
	started  bool
}

// NewYearRollover validates schedule and prepares the cron job.
func NewYearRollover(m *series.Mutator, now generic.Clock, pub events.Publisher, log *logrus.Logger, schedule string) (*YearRollover, error) {
	if pub == nil {
		pub = events.Nop{}
	}
	yr := &YearRollover{
		Mutator:  m,
		Now:      now,
		Events:   pub,
		Log:      log,
		Timeout:  5 * time.Minute,
		schedule: schedule,
		engine:   cron.New(cron.WithLocation(time.UTC)),
	}
	if _, err := yr.engine.AddFunc(schedule, yr.run); err != nil {
		return nil, fmt.Errorf("invalid rollover schedule %q: %w", schedule, err)
	}
	return yr, nil
}

// Start begins the scheduler.
func (yr *YearRollover) Start() {
	yr.mu.Lock()
	defer yr.mu.Unlock()
	if yr.started {
		return
	}
	yr.engine.Start()
	yr.started = true
	yr.Log.WithField("schedule", yr.schedule).Info("year rollover scheduler started")
}

// Stop stops the scheduler and waits for a running job.
func (yr *YearRollover) Stop() {
	yr.mu.Lock()
	defer yr.mu.Unlock()
	if !yr.started {
		return
	}
	<-yr.engine.Stop().Done()
	yr.started = false
	yr.Log.Info("year rollover scheduler stopped")
}

// NextRun returns when the job fires next; zero when not started.
func (yr *YearRollover) NextRun() time.Time {
	entries := yr.engine.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow extends the current year immediately.
func (yr *YearRollover) RunNow(ctx context.Context) (series.ExtendResult, error) {
	year := yr.Now.CurrentYear()
	log := yr.Log.WithField("year", year)

	res, err := yr.Mutator.ExtendYear(ctx, year)
	if err != nil {
		log.WithError(err).WithField("created", res.Created()).Error("year rollover failed")
		return res, err
	}
	if len(res.Results) > 0 {
		log.WithFields(logrus.Fields{
			"series":  len(res.Results),
			"created": res.Created(),
		}).Info("year rollover completed")
	}

	if err := yr.Events.Publish(ctx, events.New(events.YearExtended, "", year, res.Created())); err != nil {
		log.WithError(err).Warn("event publish failed")
	}
	return res, nil
}

func (yr *YearRollover) run() {
	ctx, cancel := context.WithTimeout(context.Background(), yr.Timeout)
	defer cancel()
	yr.RunNow(ctx)
}
