package grpclabels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

// Client talks to a Labels gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client LabelsClient

	// Key is sent as KeyMetadata on Emit.
	Key string
	// Timeout applies per unary RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
	Key     string
}

func Dial(target string, opts DialOptions) (*Client, error) {
	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cc, err := grpc.DialContext(ctx, target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewLabelsClient(cc), Key: opts.Key}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc *grpc.ClientConn, key string) *Client {
	return &Client{cc: cc, client: NewLabelsClient(cc), Key: key}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Emit(ctx context.Context, req model.EmitLabelRequest) (model.EmitLabelResponse, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return model.EmitLabelResponse{}, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	if c.Key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, KeyMetadata, c.Key)
	}
	reply, err := c.client.Emit(ctx, wrapperspb.Bytes(b))
	if err != nil {
		return model.EmitLabelResponse{}, mapRPC(err)
	}
	var out model.EmitLabelResponse
	if err := json.Unmarshal(reply.GetValue(), &out); err != nil {
		return model.EmitLabelResponse{}, err
	}
	return out, nil
}

func (c *Client) Query(ctx context.Context, q store.Query) (model.QueryLabelsResponse, error) {
	fields := map[string]any{
		"uriPatterns": toList(q.Patterns),
		"cursor":      float64(q.Cursor),
	}
	if len(q.Sources) > 0 {
		fields["sources"] = toList(q.Sources)
	}
	if q.Limit > 0 {
		fields["limit"] = float64(q.Limit)
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return model.QueryLabelsResponse{}, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Query(ctx, in)
	if err != nil {
		return model.QueryLabelsResponse{}, mapRPC(err)
	}
	var out model.QueryLabelsResponse
	if err := json.Unmarshal(reply.GetValue(), &out); err != nil {
		return model.QueryLabelsResponse{}, err
	}
	return out, nil
}

// Subscribe streams labels after cursor (LiveOnly for new labels only) to fn
// until ctx ends, the server closes the stream, or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, cursor int64, fn func(model.SubscribeMessage) error) error {
	stream, err := c.client.Subscribe(ctx, wrapperspb.Int64(cursor))
	if err != nil {
		return mapRPC(err)
	}
	for {
		m, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return mapRPC(err)
		}
		var msg model.SubscribeMessage
		if err := json.Unmarshal(m.GetValue(), &msg); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func toList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
