package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/songzhibin97/clinic-intake/errs"
)

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	id := eb.Subscribe(AppointmentBooked, &mockHandler{})
	if id == 0 {
		t.Fatal("Expected non-zero subscription id")
	}

	eb.mu.RLock()
	handlers := eb.handlers[AppointmentBooked]
	eb.mu.RUnlock()
	if len(handlers) != 1 {
		t.Fatalf("Expected 1 handler, got %d", len(handlers))
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	first := eb.Subscribe(AppointmentBooked, &mockHandler{})
	second := eb.SubscribeFunc(AppointmentBooked, func(ctx context.Context, event Event) error { return nil })

	if !eb.Unsubscribe(first) {
		t.Fatal("Unsubscribe should return true for existing subscription")
	}
	eb.mu.RLock()
	remaining := eb.handlers[AppointmentBooked]
	eb.mu.RUnlock()
	if len(remaining) != 1 || remaining[0].id != second {
		t.Fatalf("Expected only the second subscription to remain, got %+v", remaining)
	}

	if eb.Unsubscribe(first) {
		t.Fatal("Unsubscribe should return false for a removed subscription")
	}
	if !eb.Unsubscribe(second) {
		t.Fatal("Unsubscribe should remove function handlers too")
	}
	if eb.HasSubscribers(AppointmentBooked) {
		t.Fatal("Expected no subscribers after removing both")
	}
}

func TestEventBus_PublishDeliversInOrder(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	wg.Add(3)
	eb.SubscribeFunc(All, func(ctx context.Context, event Event) error {
		defer wg.Done()
		mu.Lock()
		got = append(got, event.Subject)
		mu.Unlock()
		if event.At.IsZero() {
			t.Errorf("Expected event time to be stamped")
		}
		return nil
	})

	for _, subject := range []string{"APT-1", "APT-2", "APT-3"} {
		if err := eb.Publish(context.Background(), Event{Type: AppointmentBooked, Subject: subject}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	waitWithTimeout(&wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"APT-1", "APT-2", "APT-3"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func TestEventBus_PublishSync(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	eb.Subscribe(AppointmentConflict, &mockHandler{
		handleFunc: func(ctx context.Context, event Event) error {
			if event.Kind != errs.KindSlotConflict {
				t.Errorf("Expected slot conflict kind, got %q", event.Kind)
			}
			return errors.New("test error")
		},
	})

	failures := eb.PublishSync(context.Background(), Event{Type: AppointmentConflict, Kind: errs.KindSlotConflict})
	if len(failures) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(failures))
	}
	if failures[0].Error() != "test error" {
		t.Errorf("Expected 'test error', got '%v'", failures[0])
	}
}

func TestEventBus_PublishNoHandlers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	err := eb.Publish(context.Background(), Event{Type: "unknown_event"})
	if err != ErrNoHandler {
		t.Fatalf("Expected ErrNoHandler, got %v", err)
	}
}

func TestEventBus_PublishAfterStop(t *testing.T) {
	eb := NewEventBus()
	eb.Subscribe(WorkflowStarted, &mockHandler{})
	eb.Stop()

	err := eb.Publish(context.Background(), Event{Type: WorkflowStarted})
	if err != ErrBusClosed {
		t.Fatalf("Expected ErrBusClosed, got %v", err)
	}
	if failures := eb.PublishSync(context.Background(), Event{Type: WorkflowStarted}); len(failures) != 1 || failures[0] != ErrBusClosed {
		t.Fatalf("Expected ErrBusClosed from PublishSync, got %v", failures)
	}
}

func TestEventBus_StopDrainsQueue(t *testing.T) {
	eb := NewEventBus()

	var mu sync.Mutex
	delivered := 0
	eb.SubscribeFunc(WorkflowSubmitted, func(ctx context.Context, event Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})
	for i := 0; i < 5; i++ {
		if err := eb.Publish(context.Background(), Event{Type: WorkflowSubmitted}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	if delivered != 5 {
		t.Fatalf("Expected 5 deliveries before stop returned, got %d", delivered)
	}
}

func TestEventBus_ChannelFull(t *testing.T) {
	block := make(chan struct{})
	eb := NewEventBus(WithBufferSize(1))
	defer func() {
		close(block)
		eb.Stop()
	}()

	started := make(chan struct{}, 1)
	eb.SubscribeFunc(WorkflowAdvanced, func(ctx context.Context, event Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	if err := eb.Publish(context.Background(), Event{Type: WorkflowAdvanced}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	<-started
	if err := eb.Publish(context.Background(), Event{Type: WorkflowAdvanced}); err != nil {
		t.Fatalf("Expected second event to be buffered, got %v", err)
	}
	if err := eb.Publish(context.Background(), Event{Type: WorkflowAdvanced}); err != ErrChannelFull {
		t.Fatalf("Expected ErrChannelFull, got %v", err)
	}
}

func TestEventBus_WithOptions(t *testing.T) {
	var customErrorCalled bool
	var customErrorMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)

	eb := NewEventBus(
		WithBufferSize(200),
		WithErrorHandler(func(event Event, err error) {
			defer wg.Done()
			customErrorMu.Lock()
			customErrorCalled = true
			customErrorMu.Unlock()
		}),
	)
	defer eb.Stop()

	if cap(eb.eventCh) != 200 {
		t.Fatalf("Expected buffer size 200, got %d", cap(eb.eventCh))
	}

	eb.Subscribe(AppointmentCancelled, &mockHandler{
		handleFunc: func(ctx context.Context, event Event) error {
			return errors.New("test error")
		},
	})
	if err := eb.Publish(context.Background(), Event{Type: AppointmentCancelled}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitWithTimeout(&wg, time.Second)

	customErrorMu.Lock()
	defer customErrorMu.Unlock()
	if !customErrorCalled {
		t.Fatal("Custom error handler was not called")
	}
}

func TestEventBus_CancelledContext(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()
	eb.Subscribe(AppointmentBooked, &mockHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eb.Publish(ctx, Event{Type: AppointmentBooked})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled error, got %v", err)
	}
}

// Helper types and functions

type mockHandler struct {
	handleFunc func(ctx context.Context, event Event) error
}

func (m *mockHandler) Handle(ctx context.Context, event Event) error {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, event)
	}
	return nil
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}
