package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/sirupsen/logrus"

	"github.com/papapumpkin/sirocco/internal/telemetry"
	"github.com/papapumpkin/sirocco/internal/teststatus"
	"github.com/papapumpkin/sirocco/internal/ui"
)

// PhaseRunner executes one phase of one test and reports its resource
// demand (satisfied by Executor).
type PhaseRunner interface {
	RunPhase(ctx context.Context, test string, phase teststatus.Phase) error
	SlotsNeeded(ctx context.Context, test string, phase teststatus.Phase) (int, error)
}

// workerDone is the completion message a worker goroutine sends back to the
// control loop.
type workerDone struct {
	test    string
	phase   teststatus.Phase
	slots   int
	err     error
	elapsed time.Duration
}

// Scheduler drives a batch to completion. One control goroutine owns the
// records, the processor-slot pool, and the in-flight map; worker goroutines
// only run the PhaseRunner and report back on a channel, so no state needs
// locking. Dispatch is continuous: whenever any worker finishes, the loop
// re-evaluates every record for newly admissible work.
type Scheduler struct {
	batch   *Batch
	runner  PhaseRunner
	printer *ui.Printer
	events  *telemetry.Emitter
	logger  *logrus.Entry

	// MaxWorkers caps concurrent workers. Zero means the batch's
	// ParallelJobs value.
	MaxWorkers int

	capacity int
	pool     int
	inFlight map[string]int // test name -> reserved slots
	doneCh   chan workerDone
}

// NewScheduler creates a scheduler for a batch. The runner is required;
// everything else is configured via Option functions.
func NewScheduler(b *Batch, r PhaseRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		batch:   b,
		runner:  r,
		printer: ui.New(),
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes every remaining phase of every record, bounded by the worker
// cap and the processor-slot pool. It returns only after all in-flight
// workers have been reclaimed. A returned error means the scheduler itself
// broke (an ordering violation or pool corruption) or the context was
// cancelled; per-test failures are not errors here, they live in the
// records.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.MaxWorkers <= 0 {
		s.MaxWorkers = s.batch.Opts.ParallelJobs
	}
	if s.MaxWorkers <= 0 {
		s.MaxWorkers = 1
	}
	s.capacity = s.batch.Opts.ProcPool
	s.pool = s.capacity
	s.inFlight = make(map[string]int)
	s.doneCh = make(chan workerDone, s.MaxWorkers)

	var fatal error

	for fatal == nil && ctx.Err() == nil {
		// Reclaim whatever has already finished.
		if fatal = s.drainReady(); fatal != nil {
			break
		}

		workToDo := false
		launched := 0

		for _, rec := range s.batch.Records {
			if fatal != nil || ctx.Err() != nil {
				break
			}
			// At the worker cap, wait for a seat before considering
			// anything else.
			if len(s.inFlight) == s.MaxWorkers {
				if fatal = s.awaitCompletion(); fatal != nil {
					break
				}
			}
			if !rec.WorkRemains(s.batch.Phases) {
				continue
			}
			workToDo = true
			if _, busy := s.inFlight[rec.Name]; busy {
				continue
			}

			ok, err := s.launch(ctx, rec)
			if err != nil {
				fatal = err
				break
			}
			if ok {
				launched++
			}
		}

		if fatal != nil || ctx.Err() != nil {
			break
		}
		if !workToDo {
			break
		}
		if launched == 0 {
			// Every admissible test is waiting on slots held by running
			// workers.
			if len(s.inFlight) == 0 {
				fatal = errors.New("scheduler stalled: work remains but nothing is in flight")
				break
			}
			if fatal = s.awaitCompletion(); fatal != nil {
				break
			}
		}
	}

	// In-flight workers still hold pool reservations and their records are
	// still pending: reclaim every one of them before returning.
	for len(s.inFlight) > 0 {
		if err := s.processCompletion(<-s.doneCh); err != nil && fatal == nil {
			fatal = err
		}
	}

	if fatal != nil {
		return fatal
	}
	return ctx.Err()
}

// launch admits one record's next phase if the pool can seat it. The first
// return value reports whether a worker was started.
func (s *Scheduler) launch(ctx context.Context, rec *Record) (bool, error) {
	phase, err := rec.NextPhase(s.batch.Phases)
	if err != nil {
		return false, err
	}

	slots, err := s.runner.SlotsNeeded(ctx, rec.Name, phase)
	if err != nil {
		// The resource query itself failed, so the phase can never start.
		// Fail the test here and checkpoint so the status file tells the
		// story; the batch keeps going.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"test":  rec.Name,
			"phase": phase,
		}).Error("resource query failed")
		if terr := rec.BeginPhase(s.batch.Phases, phase); terr != nil {
			return false, terr
		}
		if terr := rec.CompletePhase(teststatus.StatusFail); terr != nil {
			return false, terr
		}
		s.checkpoint(rec, phase, false)
		s.events.Emit(telemetry.Event{
			Kind:   telemetry.KindPhaseDone,
			Test:   rec.Name,
			Phase:  string(phase),
			Status: string(teststatus.StatusFail),
		})
		return false, nil
	}

	if slots > s.capacity {
		// An unclamped demand above capacity could never be admitted and
		// would stall the batch forever.
		s.logger.WithFields(logrus.Fields{
			"test":     rec.Name,
			"phase":    phase,
			"slots":    slots,
			"capacity": s.capacity,
		}).Warn("slot demand exceeds pool capacity, clamping")
		slots = s.capacity
	}
	if slots > s.pool {
		return false, nil
	}

	s.pool -= slots
	if s.pool < 0 {
		return false, fmt.Errorf("%w: pool is %d after reserving %d slots", ErrPoolUnderflow, s.pool, slots)
	}
	if err := rec.BeginPhase(s.batch.Phases, phase); err != nil {
		return false, err
	}

	s.printer.PhaseStarted(phase, rec.Name, slots)
	s.events.Emit(telemetry.Event{
		Kind:  telemetry.KindPhaseStart,
		Test:  rec.Name,
		Phase: string(phase),
		Procs: slots,
	})

	s.inFlight[rec.Name] = slots
	go s.worker(ctx, rec.Name, phase, slots)
	return true, nil
}

func (s *Scheduler) worker(ctx context.Context, test string, phase teststatus.Phase, slots int) {
	start := time.Now()
	err := s.runSafely(ctx, test, phase)
	s.doneCh <- workerDone{
		test:    test,
		phase:   phase,
		slots:   slots,
		err:     err,
		elapsed: time.Since(start),
	}
}

// runSafely converts a panicking phase into an ordinary failure so the
// record is never stranded pending.
func (s *Scheduler) runSafely(ctx context.Context, test string, phase teststatus.Phase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wrapped := goerrors.Wrap(r, 2)
			s.logger.WithFields(logrus.Fields{
				"test":  test,
				"phase": phase,
			}).Errorf("phase panicked:\n%s", wrapped.ErrorStack())
			err = wrapped
		}
	}()
	return s.runner.RunPhase(ctx, test, phase)
}

// drainReady reclaims every completion already waiting on the channel
// without blocking.
func (s *Scheduler) drainReady() error {
	for {
		select {
		case msg := <-s.doneCh:
			if err := s.processCompletion(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// awaitCompletion blocks until one worker finishes and processes its
// completion. The wait is never abandoned: the worker holds a pool
// reservation that must come back.
func (s *Scheduler) awaitCompletion() error {
	return s.processCompletion(<-s.doneCh)
}

// processCompletion resolves one worker's result on the control goroutine:
// final status, record transition, status-file checkpoint, slot
// reclamation, progress output, telemetry.
func (s *Scheduler) processCompletion(msg workerDone) error {
	rec, ok := s.batch.Record(msg.test)
	if !ok {
		return fmt.Errorf("completion for unknown test %q", msg.test)
	}

	delete(s.inFlight, msg.test)
	s.pool += msg.slots
	if s.pool > s.capacity {
		return fmt.Errorf("%w: pool is %d of %d after reclaiming %d slots",
			ErrPoolOverflow, s.pool, s.capacity, msg.slots)
	}

	success := msg.err == nil
	status := teststatus.StatusPass
	switch {
	case !success:
		status = teststatus.StatusFail
	case msg.phase == teststatus.PhaseRun && !s.batch.Opts.NoBatch:
		// case.submit handed the run to the batch system; the record stays
		// pending until the external run script resolves it.
		status = teststatus.StatusPending
	}

	if status != teststatus.StatusPending {
		if err := rec.CompletePhase(status); err != nil {
			return err
		}
	}
	if msg.err != nil {
		s.logger.WithError(msg.err).WithFields(logrus.Fields{
			"test":  msg.test,
			"phase": msg.phase,
		}).Debug("phase failed")
	}
	s.checkpoint(rec, msg.phase, success)

	secs := msg.elapsed.Seconds()
	s.printer.PhaseFinished(msg.phase, msg.test, secs, status)
	if !success {
		s.printer.CaseDir(s.batch.CaseDir(msg.test))
	}
	s.events.Emit(telemetry.Event{
		Kind:    telemetry.KindPhaseDone,
		Test:    msg.test,
		Phase:   string(msg.phase),
		Status:  string(status),
		Seconds: secs,
	})
	return nil
}

// checkpoint persists the record through the status-file rules. The status
// file is the only channel results reach the outside world through, so a
// persistence failure marks the test unrecoverable; the batch keeps
// running.
func (s *Scheduler) checkpoint(rec *Record, phase teststatus.Phase, success bool) {
	wrote, err := s.batch.CheckpointStatus(rec, phase, success)
	if err != nil {
		s.logger.WithError(err).WithField("test", rec.Name).
			Errorf("VERY BAD! could not update status file %s", s.batch.StatusFile(rec.Name))
		rec.MarkUnrecoverable()
		return
	}
	if wrote {
		s.events.Emit(telemetry.Event{
			Kind:  telemetry.KindStatusWrite,
			Test:  rec.Name,
			Phase: string(phase),
		})
	}
}
