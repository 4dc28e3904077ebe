package subsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs callbacks later. Every returned cancel func is safe to call
// more than once.
type Scheduler interface {
	ScheduleRepeating(interval time.Duration, fn func()) (cancel func())
	ScheduleOnce(delay time.Duration, fn func()) (cancel func())
}

// CronScheduler runs repeating jobs on a robfig/cron runner and one-off
// delays on runtime timers.
type CronScheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewCronScheduler starts a cron runner. Repeating jobs that are still
// running when their next tick arrives skip that tick.
func NewCronScheduler(logger zerolog.Logger) *CronScheduler {
	cronLogger := cronLog{logger: logger.With().Str("component", "scheduler").Logger()}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	c.Start()
	return &CronScheduler{cron: c, logger: cronLogger.logger}
}

func (s *CronScheduler) ScheduleRepeating(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		return func() {}
	}
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	s.logger.Debug().Dur("interval", interval).Int("entry_id", int(id)).Msg("Scheduled repeating job")
	return func() { s.cron.Remove(id) }
}

func (s *CronScheduler) ScheduleOnce(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

// Stop halts the runner and waits for running jobs to return or ctx to end.
func (s *CronScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLog adapts zerolog to cron.Logger.
type cronLog struct {
	logger zerolog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// ManualScheduler fires callbacks only when Advance is called, synchronously
// and in due order, while moving a fake clock along.
type ManualScheduler struct {
	mu    sync.Mutex
	clock clockwork.FakeClock
	tasks []*manualTask
	seq   int
}

type manualTask struct {
	at        time.Time
	interval  time.Duration
	fn        func()
	seq       int
	cancelled bool
}

// NewManualScheduler drives clock. Pass the same clock to the engine.
func NewManualScheduler(clock clockwork.FakeClock) *ManualScheduler {
	return &ManualScheduler{clock: clock}
}

func (s *ManualScheduler) ScheduleRepeating(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		return func() {}
	}
	return s.add(interval, interval, fn)
}

func (s *ManualScheduler) ScheduleOnce(delay time.Duration, fn func()) func() {
	if delay < 0 {
		delay = 0
	}
	return s.add(delay, 0, fn)
}

func (s *ManualScheduler) add(delay, interval time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &manualTask{at: s.clock.Now().Add(delay), interval: interval, fn: fn, seq: s.seq}
	s.seq++
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		task.cancelled = true
	}
}

// Pending reports how many tasks are still scheduled.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing every task that falls due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.clock.Now().Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		task := s.nextDueLocked(target)
		if task == nil {
			s.mu.Unlock()
			break
		}
		if step := task.at.Sub(s.clock.Now()); step > 0 {
			s.clock.Advance(step)
		}
		if task.interval > 0 {
			task.at = task.at.Add(task.interval)
		} else {
			task.cancelled = true
		}
		fn := task.fn
		s.mu.Unlock()

		fn()
	}

	s.mu.Lock()
	if step := target.Sub(s.clock.Now()); step > 0 {
		s.clock.Advance(step)
	}
	s.compactLocked()
	s.mu.Unlock()
}

func (s *ManualScheduler) nextDueLocked(target time.Time) *manualTask {
	var due []*manualTask
	for _, t := range s.tasks {
		if !t.cancelled && !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (s *ManualScheduler) compactLocked() {
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.cancelled {
			kept = append(kept, t)
		}
	}
	s.tasks = kept
}
