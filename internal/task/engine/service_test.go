package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mqttlogic/internal/eventbus"
	"mqttlogic/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting")
	}
}

func TestSingleWorkerRunsInOrder(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{})
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	const n = 50
	for i := 0; i < n; i++ {
		i := i
		err := s.Submit(context.Background(), Task{Name: "order", Run: func(ctx context.Context) error {
			mu.Lock()
			got = append(got, i)
			last := len(got) == n
			mu.Unlock()
			if last {
				close(done)
			}
			return nil
		}})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitFor(t, done)

	for i, v := range got {
		if v != i {
			t.Fatalf("position %d ran task %d", i, v)
		}
	}
}

func TestPanicBecomesErrorAndWorkerSurvives(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var doneErr error
	first := make(chan struct{})
	_ = s.Enqueue(Task{
		Name:   "event:boom",
		Labels: map[string]string{"topic": "a//b", "value": "1"},
		Run:    func(ctx context.Context) error { panic("bad rule") },
		Done:   func(err error) { doneErr = err; close(first) },
	})
	waitFor(t, first)
	if doneErr == nil {
		t.Fatalf("Done should receive the panic as error")
	}

	second := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error { close(second); return nil }})
	waitFor(t, second)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != eventbus.TaskFailed {
				continue
			}
			ev := e.Data.(TaskEvent)
			if ev.Labels["topic"] != "a//b" {
				t.Fatalf("labels not carried: %+v", ev)
			}
			return
		case <-deadline:
			t.Fatalf("no task.failed event")
		}
	}
}

func TestRetriesAndNoRetry(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{RetryMax: 2})

	var calls int
	done := make(chan struct{})
	_ = s.Enqueue(Task{
		Name: "retry",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			calls++
			return errors.New("flaky")
		},
		Done: func(error) { close(done) },
	})
	waitFor(t, done)
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}

	calls = 0
	done2 := make(chan struct{})
	_ = s.Enqueue(Task{
		Name: "permanent",
		Run:  func(ctx context.Context) error { calls++; return NoRetry(errors.New("bad")) },
		Done: func(err error) {
			if IsNoRetry(err) {
				t.Errorf("Done should see the unwrapped error")
			}
			close(done2)
		},
	})
	waitFor(t, done2)
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestEnqueueErrors(t *testing.T) {
	t.Parallel()

	off := New(Config{Enabled: false}, logx.Nop(), nil)
	if err := off.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: %v", err)
	}

	notStarted := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := notStarted.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped: %v", err)
	}

	s := startEngine(t, Config{QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "block", Run: func(context.Context) error { close(started); <-block; return nil }})
	waitFor(t, started)
	if err := s.Enqueue(Task{Name: "fill", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := s.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overflow: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Submit(ctx, Task{Name: "wait", Run: func(context.Context) error { return nil }}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("submit: %v", err)
	}
	close(block)

	if snap := s.Snapshot(); snap.DroppedQueueFull != 1 {
		t.Fatalf("DroppedQueueFull=%d", snap.DroppedQueueFull)
	}
}

func TestTimeoutCancelsTaskContext(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{DefaultTimeout: 20 * time.Millisecond})
	done := make(chan struct{})
	var got error
	_ = s.Enqueue(Task{
		Name: "slow",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Done: func(err error) { got = err; close(done) },
	})
	waitFor(t, done)
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("err=%v", got)
	}
}

func TestStopAbandonsQueuedTasks(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	waitFor(t, started)

	var mu sync.Mutex
	var ran int
	var got []error
	for i := 0; i < 2; i++ {
		err := s.Enqueue(Task{
			Name: "queued",
			Run:  func(context.Context) error { mu.Lock(); ran++; mu.Unlock(); return nil },
			Done: func(err error) { mu.Lock(); got = append(got, err); mu.Unlock() },
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	if ran != 0 {
		t.Fatalf("ran=%d want 0", ran)
	}
	if len(got) != 2 {
		t.Fatalf("Done calls=%d want 2", len(got))
	}
	for _, err := range got {
		if !errors.Is(err, ErrAbandoned) {
			t.Fatalf("Done err=%v", err)
		}
	}
	if snap := s.Snapshot(); snap.QueueCap != 0 {
		t.Fatalf("QueueCap=%d after stop", snap.QueueCap)
	}
}

func TestApplyRestartsWorkers(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, QueueSize: 4})
	s.Apply(context.Background(), Config{Enabled: true, Workers: 3, QueueSize: 8, HistorySize: 2})

	snap := s.Snapshot()
	if snap.Workers != 3 || snap.QueueCap != 8 {
		t.Fatalf("workers=%d queue=%d", snap.Workers, snap.QueueCap)
	}

	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		err := s.Submit(context.Background(), Task{
			Name: "after-apply",
			Run:  func(context.Context) error { return nil },
			Done: func(error) { close(done) },
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		waitFor(t, done)
	}
	if n := len(s.Snapshot().History); n != 2 {
		t.Fatalf("history=%d want 2", n)
	}
}
