package controlapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// authInterceptor rejects any unary call that does not carry a valid bearer
// token in the "authorization" metadata key.
func authInterceptor(auth *tokenAuth) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "controlapi: missing metadata")
		}
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "controlapi: missing authorization token")
		}
		if _, err := auth.ValidateToken(tokens[0]); err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "controlapi: %v", err)
		}
		return handler(ctx, req)
	}
}
