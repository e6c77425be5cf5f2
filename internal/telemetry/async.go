package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before shutting down OTel providers
// and the Kafka producer, so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// emitter and event may be nil; EmitAsync then returns immediately without starting a goroutine.
// The goroutine keeps ctx values but not its cancellation, so a finished request does not abort the emit.
func EmitAsync(emitter EventEmitter, ctx context.Context, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			slog.Warn("telemetry: async emit failed", "event_type", event.Type, "error", err)
		}
	}()
}
