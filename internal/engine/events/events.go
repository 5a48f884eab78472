// Package events provides structured event logging for escrow records.
// Every successful mutating operation emits exactly one typed event; the
// events are observability only and never required for correctness.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies the kind of escrow event.
type EventType string

const (
	EventEscrowInitialized          EventType = "escrow.initialized"
	EventTokenDeposit               EventType = "escrow.deposit"
	EventPlatformAuthorityDelegated EventType = "escrow.platform_authority_delegated"
	EventTradingAuthorityDelegated  EventType = "escrow.trading_authority_delegated"
	EventPlatformAuthorityRevoked   EventType = "escrow.platform_authority_revoked"
	EventTradingAuthorityRevoked    EventType = "escrow.trading_authority_revoked"
	EventSubscriptionFeeWithdraw    EventType = "escrow.subscription_fee_withdraw"
	EventTradeWithdraw              EventType = "escrow.trade_withdraw"
	EventTokenWithdraw              EventType = "escrow.withdraw"
	EventEmergencyWithdrawal        EventType = "escrow.emergency_withdrawal"
	EventEscrowPaused               EventType = "escrow.paused"
	EventEscrowUnpaused             EventType = "escrow.unpaused"
	EventEscrowClosed               EventType = "escrow.closed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event represents one typed escrow occurrence. Identities are rendered as
// hex so the payload stays stable across transports (HTTP, websocket, Redis).
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Record context
	Address   string `json:"address,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Authority string `json:"authority,omitempty"`
	TokenMint string `json:"token_mint,omitempty"`

	// Amounts, set on balance-moving events. BalanceAfter is the vault
	// balance once the movement settled.
	Amount       uint64 `json:"amount"`
	BalanceAfter uint64 `json:"balance_after"`

	// OperationTime is the unix-second timestamp the operation observed.
	OperationTime int64 `json:"operation_time,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// EventLogger is the interface for event logging.
type EventLogger interface {
	// Log records an event.
	Log(event Event)

	// LogWithContext records an event with request correlation.
	LogWithContext(ctx context.Context, event Event)

	// Subscribe registers a handler for events.
	Subscribe(handler EventHandler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter EventFilter, handler EventHandler) func()

	// Recent returns the most recent N events.
	Recent(n int) []Event

	// RecentByAddress returns recent events for one record.
	RecentByAddress(address string, n int) []Event

	// RecentByType returns recent events of a specific type.
	RecentByType(eventType EventType, n int) []Event
}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a new event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext adds request correlation to the event before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if requestID := ctx.Value(requestIDKey); requestID != nil {
		if s, ok := requestID.(string); ok {
			event.RequestID = s
		}
	}
	rb.Log(event)
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	// Return unsubscribe function
	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentByAddress returns recent events for a specific record.
func (rb *RingBuffer) RecentByAddress(address string, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].Address == address {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].Type == eventType {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all events from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

// Context key for request correlation
type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// EventBuilder provides a fluent API for creating events.
type EventBuilder struct {
	event Event
}

// NewEvent creates a new EventBuilder.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Type:      eventType,
			Severity:  SeverityInfo,
			Timestamp: time.Now().UTC(),
		},
	}
}

// Address sets the record address.
func (b *EventBuilder) Address(address string) *EventBuilder {
	b.event.Address = address
	return b
}

// Actor sets the caller identity.
func (b *EventBuilder) Actor(actor string) *EventBuilder {
	b.event.Actor = actor
	return b
}

// Authority sets the delegate identity.
func (b *EventBuilder) Authority(authority string) *EventBuilder {
	b.event.Authority = authority
	return b
}

// TokenMint sets the asset identity.
func (b *EventBuilder) TokenMint(mint string) *EventBuilder {
	b.event.TokenMint = mint
	return b
}

// Amount sets the moved amount.
func (b *EventBuilder) Amount(amount uint64) *EventBuilder {
	b.event.Amount = amount
	return b
}

// BalanceAfter sets the vault balance after the movement.
func (b *EventBuilder) BalanceAfter(balance uint64) *EventBuilder {
	b.event.BalanceAfter = balance
	return b
}

// OperationTime sets the unix timestamp the operation observed.
func (b *EventBuilder) OperationTime(ts int64) *EventBuilder {
	b.event.OperationTime = ts
	return b
}

// Severity sets the severity.
func (b *EventBuilder) Severity(severity Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// Message sets the message.
func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

// ErrorFrom sets the error from an error value.
func (b *EventBuilder) ErrorFrom(err error) *EventBuilder {
	if err != nil {
		b.event.Error = err.Error()
		b.event.Severity = SeverityError
	}
	return b
}

// Metadata adds metadata.
func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// RequestID sets the request ID.
func (b *EventBuilder) RequestID(id string) *EventBuilder {
	b.event.RequestID = id
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() Event {
	if b.event.ID == "" {
		b.event.ID = uuid.NewString()
	}
	return b.event
}

// LogTo logs the event to the given logger.
func (b *EventBuilder) LogTo(logger EventLogger) {
	logger.Log(b.Build())
}

// LogToWithContext logs the event with context.
func (b *EventBuilder) LogToWithContext(ctx context.Context, logger EventLogger) {
	logger.LogWithContext(ctx, b.Build())
}

// NoOpLogger is an event logger that discards all events.
type NoOpLogger struct{}

func (NoOpLogger) Log(Event)                                          {}
func (NoOpLogger) LogWithContext(context.Context, Event)              {}
func (NoOpLogger) Subscribe(EventHandler) func()                      { return func() {} }
func (NoOpLogger) SubscribeFiltered(EventFilter, EventHandler) func() { return func() {} }
func (NoOpLogger) Recent(int) []Event                                 { return nil }
func (NoOpLogger) RecentByAddress(string, int) []Event                { return nil }
func (NoOpLogger) RecentByType(EventType, int) []Event                { return nil }
