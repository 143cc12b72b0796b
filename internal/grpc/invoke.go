// Package grpc holds the identity and catalog clients and the gRPC server.
//
// The clients call the peer's unary methods with google.protobuf.Struct as both
// request and response. Peers must register those methods with Struct messages,
// for example behind a gateway; a server built from a typed auth.proto with a
// string field 1 will not decode these bodies.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dial opens a traced, insecure client connection. Connecting is lazy.
func Dial(addr string, logger *slog.Logger) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	logger.Warn("grpc peer must accept google.protobuf.Struct request and response bodies", "addr", addr)
	return conn, nil
}

// invoke performs a unary call whose request and response are google.protobuf.Struct.
func invoke(ctx context.Context, conn grpc.ClientConnInterface, timeout time.Duration, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func int64Field(s *structpb.Struct, key string) int64 {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0
	}
	return int64(v.GetNumberValue())
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}
