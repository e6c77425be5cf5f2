package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"taskboard-auth/backend/internal/audit"
)

const unknownIP = "unknown"

// ClientIPUnary records the caller's IP on the context for audit entries written during the RPC.
func ClientIPUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(audit.WithClientIP(ctx, ClientIP(ctx)), req)
	}
}

// ClientIP resolves the caller's IP: first hop of x-forwarded-for, then x-real-ip, then the
// transport peer.
func ClientIP(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if fwd := firstValue(md, "x-forwarded-for"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := firstValue(md, "x-real-ip"); ip != "" {
		return ip
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return unknownIP
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
