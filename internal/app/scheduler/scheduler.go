package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	applog "postsmith/app/internal/platform/log"
)

// Task is the work executed when an entry fires.
type Task func(ctx context.Context) error

// Entry binds a daily wall-clock time ("HH:MM") to a task.
type Entry struct {
	At   string
	Name string
	Task Task
}

// Upcoming describes the next firing of an entry.
type Upcoming struct {
	At   string    `json:"at"`
	Name string    `json:"name"`
	Next time.Time `json:"next"`
}

// Options configures a Scheduler.
type Options struct {
	Entries  []Entry
	Location *time.Location
	Logger   *logrus.Logger
}

// Scheduler fires tasks at fixed times of day in a configured location.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	logger   *logrus.Logger
	entries  []scheduledEntry
	now      func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

type scheduledEntry struct {
	entry Entry
	id    cron.EntryID
}

// New validates the entries and registers them on a cron instance. Overlapping runs of
// the same entry are skipped and panics inside tasks are recovered.
func New(opts Options) (*Scheduler, error) {
	if len(opts.Entries) == 0 {
		return nil, eris.New("at least one schedule entry is required")
	}

	location := opts.Location
	if location == nil {
		location = time.UTC
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cronLog := cronLogger{entry: applog.Component(logger, "scheduler")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		location: location,
		logger:   logger,
		now:      time.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for index, entry := range opts.Entries {
		if entry.Task == nil {
			return nil, eris.Errorf("schedule entry %d has no task", index)
		}

		spec, err := dailySpec(entry.At)
		if err != nil {
			return nil, err
		}

		entry.At = strings.TrimSpace(entry.At)
		if strings.TrimSpace(entry.Name) == "" {
			entry.Name = "post@" + entry.At
		}

		id, err := s.cron.AddJob(spec, cron.FuncJob(s.job(entry)))
		if err != nil {
			return nil, eris.Wrapf(err, "registering schedule entry %s", entry.At)
		}
		s.entries = append(s.entries, scheduledEntry{entry: entry, id: id})
	}

	return s, nil
}

// dailySpec converts "HH:MM" into a five-field cron expression.
func dailySpec(at string) (string, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return "", eris.Wrapf(err, "invalid schedule time %q, expected HH:MM", at)
	}
	return fmt.Sprintf("%d %d * * *", parsed.Minute(), parsed.Hour()), nil
}

func (s *Scheduler) job(entry Entry) func() {
	return func() {
		fields := logrus.Fields{"entry": entry.Name, "at": entry.At}
		started := s.now()

		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		s.logger.WithFields(fields).Info("scheduled task starting")
		if err := entry.Task(ctx); err != nil {
			s.logger.WithField("error", err.Error()).WithFields(fields).Error("scheduled task failed")
			return
		}
		s.logger.WithFields(fields).WithField("duration", s.now().Sub(started).String()).Info("scheduled task finished")
	}
}

// Start begins firing entries. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{"entries": len(s.entries), "location": s.location.String()}).Info("scheduler started")
}

// Stop halts the scheduler, cancels the context handed to running tasks and waits for
// them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "waiting for scheduled tasks to finish")
	}
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Location returns the time zone entries are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Next lists the upcoming firing of every entry, soonest first.
func (s *Scheduler) Next() []Upcoming {
	now := s.now().In(s.location)

	upcoming := make([]Upcoming, 0, len(s.entries))
	for _, scheduled := range s.entries {
		cronEntry := s.cron.Entry(scheduled.id)
		if cronEntry.Schedule == nil {
			continue
		}
		upcoming = append(upcoming, Upcoming{
			At:   scheduled.entry.At,
			Name: scheduled.entry.Name,
			Next: cronEntry.Schedule.Next(now),
		})
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].Next.Before(upcoming[j].Next)
	})

	return upcoming
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	entry := l.entry.WithFields(pairs(keysAndValues))
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Error(msg)
}

func pairs(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
