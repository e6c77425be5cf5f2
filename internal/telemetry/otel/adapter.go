package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"taskboard-auth/backend/internal/telemetry"
)

const instrumentationName = "taskboard-auth/sessions"

// recordLogger is the subset of otellog.Logger used by the emitter.
type recordLogger interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger returns an emitter writing to logger directly.
func NewEventEmitterWithLogger(logger recordLogger) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger recordLogger
}

// Emit converts the event to an OTel log record. Metadata becomes the JSON body.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(event.CreatedAt)
	if rec.Timestamp().IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(otellog.SeverityInfo)
	if len(event.Metadata) > 0 {
		body, err := json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.BytesValue(body))
	}
	attrs := []struct{ key, val string }{
		{"event_type", event.Type},
		{"source", event.Source},
		{"user_id", event.UserID},
		{"session_id", event.SessionID},
		{"reason", event.Reason},
	}
	for _, a := range attrs {
		if a.val != "" {
			rec.AddAttributes(otellog.String(a.key, a.val))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}
