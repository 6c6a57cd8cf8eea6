package worker

import (
	"fmt"
	"sync"
	"time"

	"FirmwareUploader/logger"
)

// EventKind tags an Event.
type EventKind int

const (
	EventMessage EventKind = iota
	EventProgress
	EventFinished
)

// ProgressTimedOut is reported in place of a percentage when an action gave
// up waiting for its device.
const ProgressTimedOut = -1

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "MESSAGE"
	case EventProgress:
		return "PROGRESS"
	case EventFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered from the worker to the controller. Text is set for
// messages, Percent for progress, and Status, ActionID and JobID for
// FINISHED. Every event carries the JobID it belongs to.
type Event struct {
	Kind     EventKind
	Text     string
	Percent  int
	Status   int
	ActionID string
	JobID    int64
}

// drainGrace is how long a closed mailbox waits for the consumer to take
// the next event before dropping the rest.
const drainGrace = 2 * time.Second

// mailbox is an unbounded FIFO between the worker goroutine and the
// consumer. push never blocks; a pump goroutine feeds out in order.
type mailbox struct {
	mu      sync.Mutex
	queue   []Event
	closed  bool
	signal  chan struct{}
	closing chan struct{}
	out     chan Event
	grace   time.Duration
}

func newMailbox() *mailbox {
	m := &mailbox{
		signal:  make(chan struct{}, 1),
		closing: make(chan struct{}),
		out:     make(chan Event),
		grace:   drainGrace,
	}
	go m.pump()
	return m
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	m.wake()
}

// close stops accepting events. Queued events are still delivered before
// out is closed.
func (m *mailbox) close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.closing)
	}
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.signal
			continue
		}
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for i, ev := range batch {
			if !m.send(ev) {
				m.mu.Lock()
				dropped := len(batch) - i + len(m.queue)
				m.queue = nil
				m.mu.Unlock()
				logger.Warn("Nobody reading worker events, dropping %d after shutdown", dropped)
				return
			}
		}
	}
}

// send delivers ev. Once the mailbox is closed the consumer gets grace to
// take it; false means it did not.
func (m *mailbox) send(ev Event) bool {
	select {
	case m.out <- ev:
		return true
	case <-m.closing:
	}

	timer := time.NewTimer(m.grace)
	defer timer.Stop()
	select {
	case m.out <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// jobReporter binds a Reporter to the job currently executing.
type jobReporter struct {
	box *mailbox
	job *Job
}

func (r *jobReporter) Message(text string) {
	r.box.push(Event{Kind: EventMessage, Text: text, ActionID: r.job.ActionID, JobID: r.job.ID})
}

func (r *jobReporter) Progress(percent int) {
	r.box.push(Event{Kind: EventProgress, Percent: percent, ActionID: r.job.ActionID, JobID: r.job.ID})
}
