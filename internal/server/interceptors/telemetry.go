package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"taskboard-auth/backend/internal/guard"
	"taskboard-auth/backend/internal/telemetry"
)

// EventGRPCRequest is emitted once per RPC by TelemetryUnary.
const EventGRPCRequest = "grpc_request"

// TelemetryUnary returns a unary server interceptor that emits a telemetry event after each RPC.
// Best-effort: failures are logged by the emitter and do not fail the RPC. If emitter is nil,
// the interceptor no-ops. skipMethods is the set of full method names to not emit.
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		var userID, sessionID string
		if id := guard.FromContext(ctx); id != nil {
			userID, sessionID = id.UserID, id.SessionID
		}
		event := telemetry.NewEvent(EventGRPCRequest, userID, sessionID)
		event.Source = "grpc_interceptor"
		event.Metadata = map[string]any{
			"full_method": info.FullMethod,
			"status_code": status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   ClientIP(ctx),
		}
		telemetry.EmitAsync(emitter, ctx, event)
		return resp, err
	}
}
