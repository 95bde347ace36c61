// Package report is the single writer for everything a run produces: the
// per-target log files, the combined run log (mirrored to stdout for live
// progress), and the final RunSummary. Workers publish transition events into
// a channel and one consumer goroutine does all the aggregation, so no
// summary state is ever shared between workers.
package report

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tastythames/labfleet/internal/scheduler"
	"github.com/tastythames/labfleet/internal/sshexec"
)

const stampLayout = "20060102_150405"

type targetState struct {
	status   scheduler.Status
	attempts int
	duration time.Duration
	exit     int
	lastErr  error
}

type Reporter struct {
	dir   string
	stamp string

	mu   sync.Mutex
	logs map[string]*os.File

	runLog   *os.File
	progress *log.Logger

	events   chan scheduler.Event
	consumed sync.WaitGroup

	startedAt time.Time
	state     map[string]*targetState
	order     []string
}

// New creates the log directory, opens the combined run log, and starts the
// event consumer. out is where live progress lines go (stdout in production).
func New(dir string, out io.Writer) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}

	stamp := time.Now().Format(stampLayout)
	runPath := filepath.Join(dir, "run_"+stamp+".log")
	runLog, err := os.OpenFile(runPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", runPath, err)
	}

	r := &Reporter{
		dir:       dir,
		stamp:     stamp,
		logs:      map[string]*os.File{},
		runLog:    runLog,
		progress:  log.New(io.MultiWriter(out, runLog), "", log.LstdFlags),
		events:    make(chan scheduler.Event, 256),
		startedAt: time.Now(),
		state:     map[string]*targetState{},
	}

	r.consumed.Add(1)
	go r.consume()
	return r, nil
}

// RunLogPath is the combined log for this run.
func (r *Reporter) RunLogPath() string {
	return filepath.Join(r.dir, "run_"+r.stamp+".log")
}

// SummaryPath is where this run's summary file belongs.
func (r *Reporter) SummaryPath() string {
	return filepath.Join(r.dir, "run_"+r.stamp+"_summary.yaml")
}

// Publish feeds one state transition to the consumer. Called by scheduler
// workers on every transition.
func (r *Reporter) Publish(ev scheduler.Event) {
	r.events <- ev
}

// TargetLog returns the append-only log sink for one target, creating
// <dir>/<name>_<stamp>.log on first use. The same file serves every attempt
// of the run.
func (r *Reporter) TargetLog(name string) (io.Writer, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.logs[name]; ok {
		return f, f.Name(), nil
	}

	path := filepath.Join(r.dir, name+"_"+r.stamp+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open target log %s: %w", path, err)
	}
	r.logs[name] = f
	return f, path, nil
}

func (r *Reporter) consume() {
	defer r.consumed.Done()
	for ev := range r.events {
		r.record(ev)
		r.logTransition(ev)
	}
}

func (r *Reporter) record(ev scheduler.Event) {
	st, ok := r.state[ev.Target]
	if !ok {
		st = &targetState{exit: -1}
		r.state[ev.Target] = st
		r.order = append(r.order, ev.Target)
	}
	st.status = ev.Status
	if ev.Attempt > st.attempts {
		st.attempts = ev.Attempt
	}
	if ev.Status.Terminal() {
		st.duration = ev.Elapsed
		st.exit = ev.ExitStatus
		st.lastErr = ev.Err
	}
}

// logTransition writes the condensed progress line and mirrors a banner into
// the target's own log. Write failures are reported on stderr and otherwise
// ignored; logging trouble never fails a job.
func (r *Reporter) logTransition(ev scheduler.Event) {
	switch ev.Status {
	case scheduler.StatusRunning:
		r.progress.Printf("[%s] attempt %d starting", ev.Target, ev.Attempt)
	case scheduler.StatusAwaitingRetry:
		r.progress.Printf("[%s] attempt %d failed (%v), will retry", ev.Target, ev.Attempt, ev.Err)
	case scheduler.StatusSucceeded:
		r.progress.Printf("[%s] succeeded after %d attempt(s) in %s", ev.Target, ev.Attempt, ev.Elapsed.Round(time.Second))
	case scheduler.StatusFailed:
		r.progress.Printf("[%s] FAILED after %d attempt(s) in %s: %v", ev.Target, ev.Attempt, ev.Elapsed.Round(time.Second), ev.Err)
	}

	sink, _, err := r.TargetLog(ev.Target)
	if err != nil {
		log.Printf("report: target log for %s: %v", ev.Target, err)
		return
	}
	banner := fmt.Sprintf("\n%s\n%s attempt=%d status=%s", sep, time.Now().Format(time.RFC3339), ev.Attempt, ev.Status)
	if ev.Err != nil {
		banner += fmt.Sprintf(" error=%q", ev.Err.Error())
	}
	if ev.Status.Terminal() {
		banner += fmt.Sprintf(" exit=%d", ev.ExitStatus)
	}
	banner += "\n" + sep + "\n"
	if _, err := io.WriteString(sink, banner); err != nil {
		log.Printf("report: write target log for %s: %v", ev.Target, err)
	}
}

const sep = "================================================================================"

// Finalize drains the event stream, closes every log file, and builds the
// RunSummary. Call exactly once, after all jobs are terminal.
func (r *Reporter) Finalize() *Summary {
	close(r.events)
	r.consumed.Wait()

	s := &Summary{
		StartedAt:  r.startedAt,
		FinishedAt: time.Now(),
		LogDir:     r.dir,
		RunLog:     r.RunLogPath(),
	}

	for _, name := range r.order {
		st := r.state[name]
		tr := TargetResult{
			Name:            name,
			Status:          st.status.String(),
			Attempts:        st.attempts,
			DurationSeconds: st.duration.Seconds(),
			ExitStatus:      st.exit,
		}
		if f, ok := r.logs[name]; ok {
			tr.Log = f.Name()
		}
		if st.lastErr != nil {
			tr.Error = st.lastErr.Error()
			if kind, ok := sshexec.KindOf(st.lastErr); ok {
				tr.ErrorKind = kind.String()
			}
		}
		s.Targets = append(s.Targets, tr)

		switch st.status {
		case scheduler.StatusSucceeded:
			s.Succeeded++
		default:
			s.Failed++
			s.FailedTargets = append(s.FailedTargets, name)
		}
	}
	s.Total = len(s.Targets)
	sort.Strings(s.FailedTargets)

	r.mu.Lock()
	for _, f := range r.logs {
		if err := f.Close(); err != nil {
			log.Printf("report: close %s: %v", f.Name(), err)
		}
	}
	r.mu.Unlock()
	if err := r.runLog.Close(); err != nil {
		log.Printf("report: close run log: %v", err)
	}

	return s
}
