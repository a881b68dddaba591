package reconcile

import (
	"context"
	"time"
)

// EventType classifies what triggered a reconciliation.
type EventType int

const (
	// EventTick is the periodic directory poll.
	EventTick EventType = iota
	// EventConfigChanged fires when the module configuration file changes.
	EventConfigChanged
	// EventProbesChanged fires when the custom probes file changes.
	EventProbesChanged
)

func (t EventType) String() string {
	switch t {
	case EventTick:
		return "tick"
	case EventConfigChanged:
		return "config-changed"
	case EventProbesChanged:
		return "probes-changed"
	default:
		return "unknown"
	}
}

// Event triggers one full recomputation cycle.
type Event struct {
	Type EventType
	Path string // File that changed, for file events
}

// Debouncer coalesces rapid events so a burst of file writes or peer churn
// triggers one recomputation, not many.
type Debouncer struct {
	interval time.Duration
	input    <-chan Event
	output   chan Event
}

// NewDebouncer creates a debouncer that coalesces events within the given interval.
func NewDebouncer(input <-chan Event, interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		input:    input,
		output:   make(chan Event),
	}
}

// Run starts the debouncer and returns the output channel.
// Events that occur within the debounce interval are coalesced into a single event.
func (d *Debouncer) Run(ctx context.Context) <-chan Event {
	go d.loop(ctx)
	return d.output
}

func (d *Debouncer) loop(ctx context.Context) {
	defer close(d.output)

	var timer *time.Timer
	var timerChan <-chan time.Time
	var pending *Event

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-d.input:
			if !ok {
				// Input channel closed, flush any pending event
				if pending != nil {
					select {
					case d.output <- *pending:
					case <-ctx.Done():
					}
				}
				return
			}

			// Store the event (overwriting any pending event)
			pending = &event

			// Reset the timer
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(d.interval)
			timerChan = timer.C

		case <-timerChan:
			if pending != nil {
				select {
				case d.output <- *pending:
				case <-ctx.Done():
					return
				}
				pending = nil
			}
			timerChan = nil
		}
	}
}
