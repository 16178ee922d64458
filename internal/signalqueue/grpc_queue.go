package signalqueue

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultGRPCMethod is the unary method the worker exposes.
const DefaultGRPCMethod = "/signals.v1.SignalQueue/Enqueue"

// GRPCQueue forwards jobs to a remote worker as google.protobuf.Struct messages.
type GRPCQueue struct {
	conn   *grpc.ClientConn
	method string
	owned  bool
}

// DialGRPCQueue connects to addr without TLS.
func DialGRPCQueue(addr, method string) (*GRPCQueue, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	q := NewGRPCQueue(conn, method)
	q.owned = true
	return q, nil
}

// NewGRPCQueue uses an existing connection; Close leaves it open.
func NewGRPCQueue(conn *grpc.ClientConn, method string) *GRPCQueue {
	if method == "" {
		method = DefaultGRPCMethod
	}
	return &GRPCQueue{conn: conn, method: method}
}

func (g *GRPCQueue) Enqueue(ctx context.Context, job Job) error {
	req, err := jobStruct(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	var resp structpb.Struct
	if err := g.conn.Invoke(ctx, g.method, req, &resp); err != nil {
		return fmt.Errorf("%s: %v: %w", g.method, err, ErrUnavailable)
	}
	return nil
}

func (g *GRPCQueue) Close() error {
	if g.conn == nil || !g.owned {
		return nil
	}
	return g.conn.Close()
}

func jobStruct(job Job) (*structpb.Struct, error) {
	fields := map[string]any{
		"symbol":         job.Symbol,
		"timeframe":      job.Timeframe,
		"closeTime":      job.CloseTime.UTC().Format(time.RFC3339Nano),
		"idempotencyKey": job.IdempotencyKey,
	}
	if job.JobID != "" {
		fields["jobId"] = job.JobID
	}
	if len(job.Payload) > 0 {
		fields["payload"] = job.Payload
	}
	return structpb.NewStruct(fields)
}
