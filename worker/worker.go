// Package worker runs upload jobs one at a time on a background goroutine
// and relays their messages, progress and completion to a single consumer.
package worker

import (
	"fmt"
	"runtime/debug"
	"sync"

	"FirmwareUploader/logger"
)

// Worker owns the job queue and the goroutine that drains it.
type Worker struct {
	registry *Registry
	box      *mailbox

	mu        sync.Mutex
	queue     []*Job
	current   *Job
	stopping  bool
	discarded []*Job

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// New starts a worker with an empty registry.
func New() *Worker {
	w := &Worker{
		registry: NewRegistry(),
		box:      newMailbox(),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Register associates each action's id with its handler. Re-registering an
// id replaces the handler.
func (w *Worker) Register(actions ...Action) {
	w.registry.Register(actions...)
}

// Enqueue appends job to the queue and returns immediately. Jobs enqueued
// after Shutdown are dropped.
func (w *Worker) Enqueue(job *Job) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		logger.Warn("Worker stopped, dropping %s", job)
		return
	}
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Events returns the channel on which every job's events arrive. It is
// closed after Shutdown once all queued events have been delivered, or
// once the consumer has left an event unread for drainGrace.
func (w *Worker) Events() <-chan Event {
	return w.box.out
}

// Pending returns the number of jobs waiting behind the current one.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Busy reports whether a job is executing right now.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current != nil
}

// Shutdown stops accepting jobs, lets the current job finish and waits for
// the worker goroutine to exit. Jobs still queued do not run; each gets a
// failed FINISHED event after the current job's.
func (w *Worker) Shutdown() {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopping = true
		w.discarded = w.queue
		w.queue = nil
		w.mu.Unlock()
		if n := len(w.discarded); n > 0 {
			logger.Warn("Worker shutting down, discarding %d queued job(s)", n)
		}
		close(w.quit)
	})
	<-w.done
}

func (w *Worker) loop() {
	defer func() {
		w.finishDiscarded()
		w.box.close()
		close(w.done)
	}()

	for {
		job := w.next()
		if job == nil {
			select {
			case <-w.wake:
				continue
			case <-w.quit:
				return
			}
		}

		w.execute(job)

		select {
		case <-w.quit:
			return
		default:
		}
	}
}

func (w *Worker) next() *Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping || len(w.queue) == 0 {
		return nil
	}
	job := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	w.current = job
	return job
}

func (w *Worker) execute(job *Job) {
	defer func() {
		w.mu.Lock()
		w.current = nil
		w.mu.Unlock()
	}()

	report := &jobReporter{box: w.box, job: job}

	action, ok := w.registry.Lookup(job.ActionID)
	if !ok {
		logger.Error("No action registered for %s", job)
		report.Message(fmt.Sprintf("Unknown action id %q for job %d", job.ActionID, job.ID))
		w.finish(job, StatusFailure)
		return
	}

	logger.Info("Starting %s: %s", job, action.Name())
	status := w.run(action, job, report)
	logger.Info("Finished %s with status %d", job, status)
	w.finish(job, status)
}

// run calls the action, turning a panic into a failure status.
func (w *Worker) run(action Action, job *Job, report Reporter) (status int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("%s panicked: %v\n%s", action.Name(), r, debug.Stack())
			report.Message(fmt.Sprintf("Internal error in %s: %v", action.Name(), r))
			status = StatusFailure
		}
	}()
	return action.Run(job, report)
}

func (w *Worker) finishDiscarded() {
	w.mu.Lock()
	jobs := w.discarded
	w.discarded = nil
	w.mu.Unlock()

	for _, job := range jobs {
		report := &jobReporter{box: w.box, job: job}
		report.Message(fmt.Sprintf("Job %d (%s) discarded at shutdown", job.ID, job.ActionID))
		w.finish(job, StatusFailure)
	}
}

func (w *Worker) finish(job *Job, status int) {
	w.box.push(Event{
		Kind:     EventFinished,
		Status:   status,
		ActionID: job.ActionID,
		JobID:    job.ID,
	})
}
