// Package eventbus fans calibration activity out to the daemon's side
// effects (run ledger, MQTT topics, estimate refresh, Lua hooks) on a
// bounded worker pool, so a slow subscriber never stalls a run.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType discriminates calibration events
type EventType string

const (
	// EventTypePhase marks a calibration phase transition
	EventTypePhase EventType = "phase"
	// EventTypeLightState marks a change to room light state outside a
	// phase, currently only post-run restoration
	EventTypeLightState EventType = "light_state"
	// EventTypeEstimate carries a refreshed illuminance estimate
	EventTypeEstimate EventType = "estimate"
	// EventTypeCalibrated marks a successfully completed run
	EventTypeCalibrated EventType = "calibrated"
)

const (
	workerCount = 4
	queueSize   = 100
)

// RunSummary describes the outcome of a completed calibration run
type RunSummary struct {
	Contributing int
	Tested       int
	Excluded     int
	TotalLux     float64
	MinLux       float64
	MaxLux       float64
}

// Event is one piece of calibration activity. Type and Room are always set;
// the remaining fields are populated per event type.
type Event struct {
	Type  EventType
	Room  string
	RunID string

	Phase string // phase events: the phase label
	Err   string // phase events: failure detail when the run failed

	Lux float64 // estimate events: rounded estimated illuminance

	Reason string // light_state events: what happened to the lights

	Summary *RunSummary // calibrated events
}

// Handler consumes events of one type
type Handler func(Event)

// delivery pairs an event with one subscribed handler for the worker pool
type delivery struct {
	event   Event
	handler Handler
}

// Bus routes events to type-subscribed handlers via a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	deliveries chan delivery
	wg         sync.WaitGroup

	// Closing this channel signals publishers to stop. A channel in select
	// is race-free (unlike mutex + bool).
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates the event bus and starts its worker pool
func New() *Bus {
	b := &Bus{
		handlers:   make(map[EventType][]Handler),
		deliveries: make(chan delivery, queueSize),
		closing:    make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker drains deliveries, isolating handler panics
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for d := range b.deliveries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(d.event.Type)).
						Str("room", d.event.Room).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			d.handler(d.event)
		}()
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all handlers subscribed to its type.
// Non-blocking: when the queue is full or the bus is closing, the event is
// dropped with a warning.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case b.deliveries <- delivery{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("room", event.Room).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool: publishers are signalled to stop, then
// the queue is closed and drained until the workers finish or ctx expires.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	// No new sends after closing is signalled, so the queue can close
	close(b.deliveries)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
