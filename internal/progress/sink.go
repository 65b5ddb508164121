package progress

import (
	"context"
	"fmt"
)

// Sink consumes batches of events. Implementations must be safe for repeated
// calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// orchestrator stays agnostic about how events are delivered.
type Emitter interface {
	Emit(evt Event)
}

// ObserverFunc adapts a per-event callback to Sink. A panicking observer is
// reported as a Consume error and later events in the batch still run.
type ObserverFunc func(Event)

// Consume calls f for every event in order.
func (f ObserverFunc) Consume(_ context.Context, batch []Event) error {
	var firstErr error
	for _, evt := range batch {
		if err := f.call(evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close is a no-op.
func (ObserverFunc) Close(context.Context) error {
	return nil
}

func (f ObserverFunc) call(evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic on %s: %v", evt.Type, r)
		}
	}()
	f(evt)
	return nil
}
