package worker

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type funcAction struct {
	id  string
	run func(job *Job, report Reporter) int
}

func (a *funcAction) ID() string   { return a.id }
func (a *funcAction) Name() string { return "test " + a.id }
func (a *funcAction) Run(job *Job, report Reporter) int {
	return a.run(job, report)
}

// collect reads events until n FINISHED events have arrived.
func collect(t *testing.T, events <-chan Event, n int) []Event {
	t.Helper()
	var got []Event
	finished := 0
	timeout := time.After(5 * time.Second)
	for finished < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed after %d/%d finished events", finished, n)
			}
			got = append(got, ev)
			if ev.Kind == EventFinished {
				finished++
			}
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d/%d finished: %+v", finished, n, got)
		}
	}
	return got
}

func TestWorkerRunsJobsInOrder(t *testing.T) {
	w := New()
	defer w.Shutdown()

	w.Register(&funcAction{id: "step", run: func(job *Job, report Reporter) int {
		report.Message("start")
		report.Progress(50)
		report.Message("end")
		return StatusSuccess
	}})

	jobs := []*Job{NewJob("step", nil), NewJob("step", nil), NewJob("step", nil)}
	for _, j := range jobs {
		w.Enqueue(j)
	}

	events := collect(t, w.Events(), len(jobs))
	if len(events) != 4*len(jobs) {
		t.Fatalf("got %d events, want %d", len(events), 4*len(jobs))
	}

	for i, job := range jobs {
		chunk := events[i*4 : i*4+4]
		for _, ev := range chunk {
			if ev.JobID != job.ID {
				t.Fatalf("event %+v interleaved into job %d", ev, job.ID)
			}
		}
		if chunk[0].Kind != EventMessage || chunk[0].Text != "start" {
			t.Errorf("job %d first event = %+v", job.ID, chunk[0])
		}
		if chunk[1].Kind != EventProgress || chunk[1].Percent != 50 {
			t.Errorf("job %d second event = %+v", job.ID, chunk[1])
		}
		last := chunk[3]
		if last.Kind != EventFinished || last.Status != StatusSuccess || last.ActionID != "step" {
			t.Errorf("job %d last event = %+v", job.ID, last)
		}
	}
}

func TestWorkerUnknownActionKeepsRunning(t *testing.T) {
	w := New()
	defer w.Shutdown()

	w.Register(&funcAction{id: "known", run: func(job *Job, report Reporter) int {
		return StatusSuccess
	}})

	bad := NewJob("no-such-action", nil)
	good := NewJob("known", nil)
	w.Enqueue(bad)
	w.Enqueue(good)

	events := collect(t, w.Events(), 2)

	if events[0].Kind != EventMessage || !strings.Contains(events[0].Text, "no-such-action") {
		t.Errorf("expected message naming the unknown id, got %+v", events[0])
	}
	if events[1].Kind != EventFinished || events[1].Status != StatusFailure || events[1].JobID != bad.ID {
		t.Errorf("expected failed FINISHED for job %d, got %+v", bad.ID, events[1])
	}
	if events[2].Kind != EventFinished || events[2].Status != StatusSuccess || events[2].JobID != good.ID {
		t.Errorf("expected successful FINISHED for job %d, got %+v", good.ID, events[2])
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := New()
	defer w.Shutdown()

	w.Register(&funcAction{id: "boom", run: func(job *Job, report Reporter) int {
		panic("device exploded")
	}})

	w.Enqueue(NewJob("boom", nil))
	events := collect(t, w.Events(), 1)

	last := events[len(events)-1]
	if last.Status != StatusFailure {
		t.Errorf("panic status = %d, want %d", last.Status, StatusFailure)
	}
	if !strings.Contains(events[0].Text, "device exploded") {
		t.Errorf("panic message = %q", events[0].Text)
	}
}

func TestWorkerRegisterReplaces(t *testing.T) {
	w := New()
	defer w.Shutdown()

	w.Register(&funcAction{id: "x", run: func(*Job, Reporter) int { return StatusFailure }})
	w.Register(&funcAction{id: "x", run: func(*Job, Reporter) int { return StatusSuccess }})

	w.Enqueue(NewJob("x", nil))
	events := collect(t, w.Events(), 1)
	if events[0].Status != StatusSuccess {
		t.Errorf("replaced handler not used, status = %d", events[0].Status)
	}
}

func TestWorkerRunsOneJobAtATime(t *testing.T) {
	w := New()
	defer w.Shutdown()

	var running, maxRunning atomic.Int32
	w.Register(&funcAction{id: "slow", run: func(*Job, Reporter) int {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return StatusSuccess
	}})

	for i := 0; i < 5; i++ {
		w.Enqueue(NewJob("slow", nil))
	}
	collect(t, w.Events(), 5)

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent jobs = %d, want 1", got)
	}
}

func TestWorkerReportNeverBlocks(t *testing.T) {
	w := New()
	defer w.Shutdown()

	done := make(chan struct{})
	w.Register(&funcAction{id: "chatty", run: func(job *Job, report Reporter) int {
		for i := 0; i < 1000; i++ {
			report.Message("line")
		}
		close(done)
		return StatusSuccess
	}})

	w.Enqueue(NewJob("chatty", nil))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("action blocked while nobody was reading events")
	}

	events := collect(t, w.Events(), 1)
	if len(events) != 1001 {
		t.Errorf("got %d events, want 1001", len(events))
	}
}

func TestWorkerShutdownWaitsForCurrentJob(t *testing.T) {
	w := New()

	started := make(chan struct{})
	release := make(chan struct{})
	w.Register(&funcAction{id: "hold", run: func(*Job, Reporter) int {
		close(started)
		<-release
		return StatusSuccess
	}})

	first := NewJob("hold", nil)
	second := NewJob("hold", nil)
	w.Enqueue(first)
	w.Enqueue(second)
	<-started

	stopped := make(chan struct{})
	go func() {
		w.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Shutdown returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return after the job finished")
	}

	finished := map[int64]int{}
	var discarded Event
	for ev := range w.Events() {
		if ev.Kind == EventFinished {
			finished[ev.JobID]++
			if ev.JobID == second.ID {
				discarded = ev
			}
		}
	}
	if finished[first.ID] != 1 || finished[second.ID] != 1 {
		t.Errorf("finished counts: job %d=%d, job %d=%d; want 1 each",
			first.ID, finished[first.ID], second.ID, finished[second.ID])
	}
	if discarded.Status != StatusFailure {
		t.Errorf("discarded job status = %d, want failure", discarded.Status)
	}

	// Enqueue after shutdown is a no-op.
	w.Enqueue(NewJob("hold", nil))
	if w.Pending() != 0 {
		t.Errorf("Pending() = %d after shutdown", w.Pending())
	}
}

func TestParams(t *testing.T) {
	p := Params{
		"command": []string{"--chip", "esp32"},
		"loose":   []any{"a", "b"},
		"size":    102400,
		"source":  "/tmp/fw.uf2",
		"wait":    2 * time.Second,
	}

	cmd, err := p.Strings("command")
	if err != nil || len(cmd) != 2 || cmd[1] != "esp32" {
		t.Errorf("Strings(command) = %v, %v", cmd, err)
	}
	loose, err := p.Strings("loose")
	if err != nil || len(loose) != 2 {
		t.Errorf("Strings(loose) = %v, %v", loose, err)
	}
	if _, err := p.Strings("source"); err == nil {
		t.Error("Strings(source) should fail for a string value")
	}
	size, err := p.Int64("size", 0)
	if err != nil || size != 102400 {
		t.Errorf("Int64(size) = %d, %v", size, err)
	}
	if def, _ := p.Int64("missing", 7); def != 7 {
		t.Errorf("Int64(missing) = %d, want 7", def)
	}
	if _, err := p.String("missing"); err == nil {
		t.Error("String(missing) should fail")
	}
	wait, err := p.Duration("wait", 0)
	if err != nil || wait != 2*time.Second {
		t.Errorf("Duration(wait) = %v, %v", wait, err)
	}
}

func TestNewJobIDsIncrease(t *testing.T) {
	a := NewJob("x", nil)
	b := NewJob("x", nil)
	if b.ID <= a.ID {
		t.Errorf("job ids not increasing: %d then %d", a.ID, b.ID)
	}
	if a.Params == nil {
		t.Error("NewJob left Params nil")
	}
}

func TestWorkerDiscardedJobFinishesAfterCurrent(t *testing.T) {
	w := New()
	release := make(chan struct{})
	started := make(chan struct{})
	w.Register(&funcAction{id: "hold", run: func(job *Job, report Reporter) int {
		close(started)
		report.Message("working")
		<-release
		return StatusSuccess
	}})

	first := NewJob("hold", nil)
	second := NewJob("hold", nil)
	w.Enqueue(first)
	w.Enqueue(second)
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	w.Shutdown()

	var order []string
	for ev := range w.Events() {
		order = append(order, fmt.Sprintf("%d:%s", ev.JobID, ev.Kind))
	}
	want := []string{
		fmt.Sprintf("%d:MESSAGE", first.ID),
		fmt.Sprintf("%d:FINISHED", first.ID),
		fmt.Sprintf("%d:MESSAGE", second.ID),
		fmt.Sprintf("%d:FINISHED", second.ID),
	}
	if strings.Join(order, " ") != strings.Join(want, " ") {
		t.Errorf("events = %v, want %v", order, want)
	}
}

func TestEventsCloseWhenConsumerGone(t *testing.T) {
	w := New()
	w.box.grace = 10 * time.Millisecond
	w.Register(&funcAction{id: "chatty", run: func(job *Job, report Reporter) int {
		for i := 0; i < 10; i++ {
			report.Message("line")
		}
		return StatusSuccess
	}})

	w.Enqueue(NewJob("chatty", nil))
	// Nobody reads until well after shutdown.
	w.Shutdown()
	time.Sleep(100 * time.Millisecond)

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("event delivered after the consumer was gone")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after unread shutdown")
	}
}
