package events

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRingBuffer_Log(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Log(Event{
		Type:    EventTokenDeposit,
		Address: "addr-1",
		Amount:  1000,
	})

	if rb.Count() != 1 {
		t.Errorf("Count() = %d, want 1", rb.Count())
	}

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Recent(1) len = %d, want 1", len(recent))
	}

	if recent[0].Address != "addr-1" {
		t.Errorf("Address = %q, want 'addr-1'", recent[0].Address)
	}
	if recent[0].ID == "" {
		t.Error("ID should be auto-generated")
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("Timestamp should be auto-set")
	}
	if recent[0].Severity != SeverityInfo {
		t.Errorf("Severity = %q, want default info", recent[0].Severity)
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)

	for i := 0; i < 10; i++ {
		rb.Log(Event{
			Type:    EventTokenDeposit,
			Message: strconv.Itoa(i),
		})
	}

	if rb.Count() != 5 {
		t.Errorf("Count() = %d, want 5 (capped)", rb.Count())
	}

	recent := rb.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("Recent(5) len = %d, want 5", len(recent))
	}

	// Most recent first
	if recent[0].Message != "9" {
		t.Errorf("Most recent message = %q, want '9'", recent[0].Message)
	}
	if recent[4].Message != "5" {
		t.Errorf("Oldest message = %q, want '5'", recent[4].Message)
	}
}

func TestRingBuffer_Recent(t *testing.T) {
	rb := NewRingBuffer(10)

	for i := 0; i < 5; i++ {
		rb.Log(Event{Type: EventTokenDeposit, Message: strconv.Itoa(i)})
	}

	t.Run("request more than available", func(t *testing.T) {
		recent := rb.Recent(100)
		if len(recent) != 5 {
			t.Errorf("len = %d, want 5", len(recent))
		}
	})

	t.Run("request zero", func(t *testing.T) {
		if recent := rb.Recent(0); recent != nil {
			t.Error("Recent(0) should return nil")
		}
	})

	t.Run("request negative", func(t *testing.T) {
		if recent := rb.Recent(-1); recent != nil {
			t.Error("Recent(-1) should return nil")
		}
	})
}

func TestRingBuffer_RecentByAddress(t *testing.T) {
	rb := NewRingBuffer(100)

	rb.Log(Event{Type: EventEscrowInitialized, Address: "addr-a"})
	rb.Log(Event{Type: EventEscrowInitialized, Address: "addr-b"})
	rb.Log(Event{Type: EventTokenDeposit, Address: "addr-a"})
	rb.Log(Event{Type: EventTokenDeposit, Address: "addr-b"})
	rb.Log(Event{Type: EventEscrowPaused, Address: "addr-a"})

	recent := rb.RecentByAddress("addr-a", 10)
	if len(recent) != 3 {
		t.Errorf("len = %d, want 3", len(recent))
	}

	for _, e := range recent {
		if e.Address != "addr-a" {
			t.Errorf("Address = %q, want 'addr-a'", e.Address)
		}
	}
}

func TestRingBuffer_RecentByType(t *testing.T) {
	rb := NewRingBuffer(100)

	rb.Log(Event{Type: EventTokenDeposit, Address: "a"})
	rb.Log(Event{Type: EventTokenWithdraw, Address: "a"})
	rb.Log(Event{Type: EventTokenDeposit, Address: "b"})
	rb.Log(Event{Type: EventEscrowPaused, Address: "a"})

	recent := rb.RecentByType(EventTokenDeposit, 10)
	if len(recent) != 2 {
		t.Errorf("len = %d, want 2", len(recent))
	}

	for _, e := range recent {
		if e.Type != EventTokenDeposit {
			t.Errorf("Type = %v, want EventTokenDeposit", e.Type)
		}
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)

	var received []Event
	var mu sync.Mutex

	unsubscribe := rb.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	rb.Log(Event{Type: EventTokenDeposit, Address: "test"})
	rb.Log(Event{Type: EventTokenWithdraw, Address: "test"})

	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("received %d events, want 2", len(received))
	}
	mu.Unlock()

	unsubscribe()

	rb.Log(Event{Type: EventEscrowPaused, Address: "test"})
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("received %d events after unsubscribe, want 2", len(received))
	}
	mu.Unlock()
}

func TestRingBuffer_SubscribeFiltered(t *testing.T) {
	rb := NewRingBuffer(10)

	var received []Event
	var mu sync.Mutex

	filter := func(e Event) bool {
		return e.Type == EventTokenDeposit
	}

	rb.SubscribeFiltered(filter, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	rb.Log(Event{Type: EventTokenDeposit, Address: "a"})
	rb.Log(Event{Type: EventTokenWithdraw, Address: "a"})
	rb.Log(Event{Type: EventTokenDeposit, Address: "b"})

	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("received %d events, want 2 (only deposits)", len(received))
	}
	mu.Unlock()
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Log(Event{Type: EventTokenDeposit})
	rb.Log(Event{Type: EventTokenWithdraw})

	if rb.Count() != 2 {
		t.Errorf("Count() before clear = %d, want 2", rb.Count())
	}

	rb.Clear()

	if rb.Count() != 0 {
		t.Errorf("Count() after clear = %d, want 0", rb.Count())
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer(1000)

	var wg sync.WaitGroup
	var receivedCount atomic.Int64

	rb.Subscribe(func(e Event) {
		receivedCount.Add(1)
	})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rb.Log(Event{
					Type:    EventTokenDeposit,
					Address: strconv.Itoa(id),
				})
			}
		}(i)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = rb.Recent(10)
				_ = rb.RecentByType(EventTokenDeposit, 5)
				time.Sleep(time.Microsecond)
			}
		}()
	}

	wg.Wait()

	if rb.Count() != 1000 {
		t.Errorf("Count() = %d, want 1000", rb.Count())
	}
	if receivedCount.Load() != 1000 {
		t.Errorf("receivedCount = %d, want 1000", receivedCount.Load())
	}
}

func TestLogWithContext(t *testing.T) {
	rb := NewRingBuffer(10)

	ctx := WithRequestID(context.Background(), "req-456")
	rb.LogWithContext(ctx, Event{Type: EventTokenDeposit})

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatal("expected 1 event")
	}
	if recent[0].RequestID != "req-456" {
		t.Errorf("RequestID = %q, want 'req-456'", recent[0].RequestID)
	}
}

func TestEventBuilder(t *testing.T) {
	event := NewEvent(EventTokenDeposit).
		Address("addr-1").
		Actor("owner-hex").
		Authority("authority-hex").
		TokenMint("mint-hex").
		Amount(500).
		BalanceAfter(1500).
		OperationTime(1700000000).
		Severity(SeverityWarning).
		Message("deposit accepted").
		Metadata("source", "api").
		RequestID("req-1").
		Build()

	if event.Type != EventTokenDeposit {
		t.Errorf("Type = %v, want EventTokenDeposit", event.Type)
	}
	if event.Address != "addr-1" {
		t.Errorf("Address = %q, want 'addr-1'", event.Address)
	}
	if event.Actor != "owner-hex" {
		t.Errorf("Actor = %q, want 'owner-hex'", event.Actor)
	}
	if event.Authority != "authority-hex" {
		t.Errorf("Authority = %q, want 'authority-hex'", event.Authority)
	}
	if event.Amount != 500 {
		t.Errorf("Amount = %d, want 500", event.Amount)
	}
	if event.BalanceAfter != 1500 {
		t.Errorf("BalanceAfter = %d, want 1500", event.BalanceAfter)
	}
	if event.OperationTime != 1700000000 {
		t.Errorf("OperationTime = %d, want 1700000000", event.OperationTime)
	}
	if event.Severity != SeverityWarning {
		t.Errorf("Severity = %v, want SeverityWarning", event.Severity)
	}
	if event.Metadata["source"] != "api" {
		t.Errorf("Metadata[source] = %q, want 'api'", event.Metadata["source"])
	}
	if event.ID == "" {
		t.Error("ID should be auto-generated")
	}
}

func TestEventBuilder_BuildIsStable(t *testing.T) {
	b := NewEvent(EventTokenDeposit).Address("addr-1")

	first := b.Build()
	second := b.Build()

	if first.ID == "" {
		t.Fatal("ID should be assigned on first Build")
	}
	if first.ID != second.ID {
		t.Errorf("repeated Build changed ID: %q vs %q", first.ID, second.ID)
	}
}

func TestEventBuilder_ErrorFrom(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		event := NewEvent(EventTokenDeposit).
			ErrorFrom(context.DeadlineExceeded).
			Build()

		if event.Error != context.DeadlineExceeded.Error() {
			t.Errorf("Error = %q, want %q", event.Error, context.DeadlineExceeded.Error())
		}
		if event.Severity != SeverityError {
			t.Errorf("Severity = %v, want SeverityError", event.Severity)
		}
	})

	t.Run("with nil error", func(t *testing.T) {
		event := NewEvent(EventTokenDeposit).
			ErrorFrom(nil).
			Build()

		if event.Error != "" {
			t.Errorf("Error = %q, want empty", event.Error)
		}
	})
}

func TestEventBuilder_LogTo(t *testing.T) {
	rb := NewRingBuffer(10)

	NewEvent(EventTokenDeposit).
		Address("test").
		Message("hello").
		LogTo(rb)

	if rb.Count() != 1 {
		t.Errorf("Count() = %d, want 1", rb.Count())
	}
}

func TestNoOpLogger(t *testing.T) {
	var logger NoOpLogger

	// Should not panic
	logger.Log(Event{})
	logger.LogWithContext(context.Background(), Event{})
	unsubscribe := logger.Subscribe(func(e Event) {})
	unsubscribe()
	_ = logger.Recent(10)
	_ = logger.RecentByAddress("test", 10)
	_ = logger.RecentByType(EventTokenDeposit, 10)
}

func TestEvent_String(t *testing.T) {
	event := Event{
		Type:    EventTokenDeposit,
		Address: "test",
		Message: "hello",
	}

	str := event.String()
	if str == "" {
		t.Error("String() should not be empty")
	}
	if str[0] != '{' {
		t.Error("String() should return JSON")
	}
}
