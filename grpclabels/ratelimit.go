package grpclabels

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"xdao.co/labeler/internal/ratelimit"
)

// limited lists the public read methods. Emit is guarded by the moderation key.
var limited = map[string]bool{
	methodQuery:     true,
	methodSubscribe: true,
}

func allow(ctx context.Context, l *ratelimit.Limiter, method string) error {
	if l == nil || !limited[method] {
		return nil
	}
	client := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		client = ratelimit.Host(p.Addr.String())
	}
	if !l.Allow(client) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

// UnaryRateLimit applies l per client host to Query.
func UnaryRateLimit(l *ratelimit.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := allow(ctx, l, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamRateLimit applies l per client host to Subscribe.
func StreamRateLimit(l *ratelimit.Limiter) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := allow(ss.Context(), l, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
