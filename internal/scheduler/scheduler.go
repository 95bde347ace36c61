// Package scheduler drives the fleet run: a fixed pool of workers pulls jobs
// from a ready channel, each attempt goes through the Runner, and the retry
// policy decides what happens to failures. A job waiting out its retry delay
// is parked in its own goroutine so it never occupies a worker slot.
package scheduler

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tastythames/labfleet/internal/inventory"
	"github.com/tastythames/labfleet/internal/retry"
	"github.com/tastythames/labfleet/internal/sshexec"
)

// Runner executes one attempt against one target. Implemented by
// sshexec.Executor; faked in tests.
type Runner interface {
	Run(ctx context.Context, target inventory.Target, command string, sink io.Writer) (sshexec.Result, error)
}

// Reporter receives every state transition and hands out per-target log
// sinks. Implementations must be safe for concurrent use.
type Reporter interface {
	Publish(Event)
	TargetLog(name string) (io.Writer, string, error)
}

type Config struct {
	Workers int
	Policy  retry.Policy

	// Stagger spaces out the initial dispatches so a large fleet does not
	// slam the relay with simultaneous handshakes.
	Stagger time.Duration
}

type Scheduler struct {
	cfg    Config
	runner Runner
	rep    Reporter
}

func New(cfg Config, runner Runner, rep Reporter) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{cfg: cfg, runner: runner, rep: rep}
}

// Run executes every work item to a terminal state and returns the jobs.
// Cancelling ctx aborts the run: in-flight attempts are killed, queued and
// parked jobs drain to Failed without reaching Running again.
func (s *Scheduler) Run(ctx context.Context, works []Work) []*Job {
	jobs := make([]*Job, len(works))
	for i, w := range works {
		jobs[i] = &Job{Target: w.Target, Command: w.Command, Status: StatusPending, LastExit: -1}
	}
	if len(jobs) == 0 {
		return jobs
	}

	// A job occupies at most one slot in ready at any time, so capacity for
	// every job guarantees re-enqueues never block.
	ready := make(chan *Job, len(jobs))

	var (
		remaining = int64(len(jobs))
		closeOnce sync.Once
		workers   sync.WaitGroup
		parked    sync.WaitGroup
	)

	finish := func(j *Job, st Status) {
		j.Status = st
		j.FinishedAt = time.Now()
		s.rep.Publish(Event{
			Target:     j.Target.Name,
			Status:     st,
			Attempt:    j.Attempts,
			Elapsed:    j.Duration(),
			ExitStatus: j.LastExit,
			Err:        j.LastErr,
		})
		if atomic.AddInt64(&remaining, -1) == 0 {
			closeOnce.Do(func() { close(ready) })
		}
	}

	workers.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			defer workers.Done()
			for j := range ready {
				if ctx.Err() != nil {
					// Operator abort: the job never reaches Running.
					j.LastErr = &sshexec.Error{Kind: sshexec.KindInterrupted, Err: ctx.Err()}
					finish(j, StatusFailed)
					continue
				}
				s.attempt(ctx, j, ready, finish, &parked)
			}
		}()
	}

	for i, j := range jobs {
		ready <- j
		if s.cfg.Stagger > 0 && i < len(jobs)-1 && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.Stagger):
			}
		}
	}

	workers.Wait()
	parked.Wait()
	return jobs
}

func (s *Scheduler) attempt(ctx context.Context, j *Job, ready chan<- *Job, finish func(*Job, Status), parked *sync.WaitGroup) {
	j.Attempts++
	j.Status = StatusRunning
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now()
	}
	s.rep.Publish(Event{
		Target:  j.Target.Name,
		Status:  StatusRunning,
		Attempt: j.Attempts,
		Elapsed: time.Since(j.StartedAt),
	})

	sink, path, err := s.rep.TargetLog(j.Target.Name)
	if err != nil {
		// Log trouble never fails the job; output is simply lost.
		sink = io.Discard
	} else {
		j.LogPath = path
	}

	res, err := s.runner.Run(ctx, j.Target, j.Command, sink)
	j.LastExit = res.ExitStatus

	if err == nil {
		j.LastErr = nil
		finish(j, StatusSucceeded)
		return
	}
	j.LastErr = err

	if kind, ok := sshexec.KindOf(err); ok && kind == sshexec.KindInterrupted {
		finish(j, StatusFailed)
		return
	}
	if ctx.Err() != nil {
		finish(j, StatusFailed)
		return
	}

	d := s.cfg.Policy.Next(j.Attempts)
	if d.GiveUp {
		finish(j, StatusFailed)
		return
	}

	j.Status = StatusAwaitingRetry
	s.rep.Publish(Event{
		Target:  j.Target.Name,
		Status:  StatusAwaitingRetry,
		Attempt: j.Attempts,
		Elapsed: time.Since(j.StartedAt),
		Err:     j.LastErr,
	})

	parked.Add(1)
	go func() {
		defer parked.Done()
		select {
		case <-ctx.Done():
			finish(j, StatusFailed)
		case <-time.After(d.After):
			ready <- j
		}
	}()
}
