package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/guard"
	"taskboard-auth/backend/internal/server/interceptors"
	"taskboard-auth/backend/internal/telemetry"
)

const guardServiceName = "taskboard.guard.v1.GuardService"

// AuthorizeMethod is the full method name of GuardService.Authorize.
const AuthorizeMethod = "/" + guardServiceName + "/Authorize"

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// GuardServiceServer lets other services resolve an access token into an identity.
// The token travels in the authorization metadata and is checked by the auth interceptor.
type GuardServiceServer interface {
	Authorize(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

// GuardServer implements GuardServiceServer from the identity the interceptor attached.
type GuardServer struct{}

// Authorize returns {user_id, email, session_id, expires_at} for the caller.
func (GuardServer) Authorize(ctx context.Context, _ *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := guard.FromContext(ctx)
	if id == nil {
		return nil, apperr.GRPCStatus(apperr.New(apperr.Unauthorized, "Please log in to continue")).Err()
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"user_id":    id.UserID,
		"email":      id.Email,
		"session_id": id.SessionID,
		"expires_at": id.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, apperr.GRPCStatus(err).Err()
	}
	return out, nil
}

func authorizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GuardServiceServer).Authorize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthorizeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GuardServiceServer).Authorize(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GuardServiceDesc describes GuardService for grpc.ServiceRegistrar.
var GuardServiceDesc = grpc.ServiceDesc{
	ServiceName: guardServiceName,
	HandlerType: (*GuardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authorize", Handler: authorizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "taskboard/guard/v1/guard.proto",
}

// GRPCDeps holds the gRPC server dependencies.
type GRPCDeps struct {
	Guard *guard.Guard
	// Events receives one grpc_request event per RPC. Nil disables request events.
	Events telemetry.EventEmitter
	// Health is the standard health service. If nil, a new SERVING one is used.
	Health *health.Server
	Logger *slog.Logger
}

// NewGRPCServer returns a gRPC server with tracing, client IP, auth and telemetry
// interceptors, and every service registered.
func NewGRPCServer(deps GRPCDeps) *grpc.Server {
	public := map[string]bool{healthCheckMethod: true}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.ClientIPUnary(),
			interceptors.AuthUnary(deps.Guard, public),
			interceptors.TelemetryUnary(deps.Events, public),
		),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers GuardService and the health service with s.
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) {
	s.RegisterService(&GuardServiceDesc, GuardServer{})
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
}
