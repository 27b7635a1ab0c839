package grpclabels

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/labeler/distributor"
	"xdao.co/labeler/label"
	"xdao.co/labeler/labeler"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

// KeyMetadata carries the moderation key on Emit.
const KeyMetadata = "x-moderation-key"

// LiveOnly as the Subscribe cursor skips backfill.
const LiveOnly int64 = -1

// Server exposes a labeler.Service over the Labels gRPC service.
type Server struct {
	UnimplementedLabelsServer
	Service *labeler.Service
	Feed    *distributor.Distributor
	// AuthToken guards Emit. Empty rejects every Emit.
	AuthToken string
	Logger    *slog.Logger
}

func (s *Server) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) authorize(ctx context.Context) error {
	if s.AuthToken == "" {
		return status.Error(codes.Unavailable, "auth token not configured")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, got := range md.Get(KeyMetadata) {
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.AuthToken)) == 1 {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "missing or invalid "+KeyMetadata)
}

func (s *Server) Emit(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Service == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing labeler")
	}
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	var req model.EmitLabelRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request: "+err.Error())
	}
	rec, err := s.Service.Emit(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return marshal(model.EmitLabelResponse{Seq: rec.Seq, Label: rec.Label})
}

func (s *Server) Query(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Service == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing labeler")
	}
	if !s.Service.Enabled() {
		return nil, status.Error(codes.Unavailable, "labeler not configured")
	}
	q, err := queryFromStruct(in)
	if err != nil {
		return nil, err
	}
	page, err := s.Service.Store().Query(ctx, q)
	if err != nil {
		return nil, mapErr(label.WrapError(label.KindStorage, "RPC-QUERY-001", "query labels", err))
	}
	resp := model.QueryLabelsResponse{Labels: make([]label.Label, 0, len(page.Records))}
	for _, rec := range page.Records {
		resp.Labels = append(resp.Labels, rec.Label)
	}
	if page.Cursor != "" {
		resp.Cursor = &page.Cursor
	}
	return marshal(resp)
}

func (s *Server) Subscribe(in *wrapperspb.Int64Value, stream Labels_SubscribeServer) error {
	if s == nil || s.Service == nil || s.Feed == nil || !s.Service.Enabled() {
		return status.Error(codes.Unavailable, "labeler not configured")
	}
	var cursor *int64
	if c := in.GetValue(); c != LiveOnly {
		if c < 0 {
			return status.Error(codes.InvalidArgument, "cursor must be a non-negative integer")
		}
		cursor = &c
	}
	err := s.Feed.Serve(stream.Context(), cursor, func(ctx context.Context, rec store.Record) error {
		b, err := json.Marshal(model.SubscribeMessage{Seq: rec.Seq, Labels: []label.Label{rec.Label}})
		if err != nil {
			return err
		}
		return stream.Send(wrapperspb.Bytes(b))
	})
	if err != nil && stream.Context().Err() == nil {
		s.log().Warn("grpc subscription ended", slog.Any("error", err))
		return mapErr(err)
	}
	return nil
}

func queryFromStruct(in *structpb.Struct) (store.Query, error) {
	fields := in.GetFields()
	q := store.Query{
		Patterns: stringList(fields["uriPatterns"]),
		Sources:  stringList(fields["sources"]),
		Limit:    store.DefaultLimit,
	}
	if len(q.Patterns) == 0 {
		return store.Query{}, status.Error(codes.InvalidArgument, "uriPatterns is required")
	}
	if v, ok := fields["limit"]; ok {
		q.Limit = int(v.GetNumberValue())
	}
	if v, ok := fields["cursor"]; ok {
		switch v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			q.Cursor = int64(v.GetNumberValue())
		case *structpb.Value_StringValue:
			q.Cursor, _ = strconv.ParseInt(v.GetStringValue(), 10, 64)
		}
	}
	return q, nil
}

func stringList(v *structpb.Value) []string {
	if v == nil {
		return nil
	}
	var raw []string
	if l := v.GetListValue(); l != nil {
		for _, item := range l.GetValues() {
			raw = append(raw, item.GetStringValue())
		}
	} else {
		raw = strings.Split(v.GetStringValue(), ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func marshal(v any) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode reply: "+err.Error())
	}
	return wrapperspb.Bytes(b), nil
}
