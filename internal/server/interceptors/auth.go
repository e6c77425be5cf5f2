package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/guard"
)

// AuthUnary returns a unary server interceptor that authorizes the Bearer token from gRPC
// metadata with g and stores the identity in the context for protected RPCs.
// publicMethods is the set of full method names that skip authorization (e.g. health checks).
func AuthUnary(g *guard.Guard, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		id, err := g.Authorize(ctx, extractBearer(ctx))
		if err != nil {
			return nil, apperr.GRPCStatus(err).Err()
		}
		return handler(guard.WithIdentity(ctx, id), req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return guard.ParseBearer(vals[0])
}
