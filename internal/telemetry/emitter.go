package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits session lifecycle events (to Kafka, OTel logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Fanout returns an EventEmitter that emits to every non-nil emitter and joins their errors.
// Returns nil when no emitter is given.
func Fanout(emitters ...EventEmitter) EventEmitter {
	var out multiEmitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type multiEmitter []EventEmitter

func (m multiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
