package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
	writeTimeout      = 5 * time.Second
)

type replay struct {
	done bool
	resp model.EmitLabelResponse
}

func (s *Server) emitLabel(w http.ResponseWriter, r *http.Request) {
	var req model.EmitLabelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	key := r.Header.Get(idempotencyHeader)
	if key != "" && s.replays != nil {
		if err := s.replays.Add(key, replay{}, s.replayTTL); err != nil {
			if v, ok := s.replays.Get(key); ok && v.(replay).done {
				w.Header().Set(replayHeader, "true")
				writeJSON(w, http.StatusOK, v.(replay).resp)
				return
			}
			writeCoded(w, http.StatusConflict, model.ErrBadRequest, "request with this "+idempotencyHeader+" is in progress")
			return
		}
	}

	rec, err := s.svc.Emit(r.Context(), req)
	if err != nil {
		if key != "" && s.replays != nil {
			s.replays.Delete(key)
		}
		s.writeError(w, r, err)
		return
	}
	resp := model.EmitLabelResponse{Seq: rec.Seq, Label: rec.Label}
	if key != "" && s.replays != nil {
		s.replays.Set(key, replay{done: true, resp: resp}, s.replayTTL)
	}
	writeJSON(w, http.StatusOK, resp)
}

// splitParam accepts repeated and comma-joined query values.
func splitParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *Server) queryLabels(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Enabled() {
		s.writeError(w, r, label.NewError(label.KindConfiguration, "HTTP-CFG-001", "labeler not configured"))
		return
	}
	q := r.URL.Query()
	patterns := splitParam(q["uriPatterns"])
	if len(patterns) == 0 {
		s.writeError(w, r, label.NewError(label.KindValidation, "HTTP-QUERY-001", "uriPatterns is required"))
		return
	}
	limit := store.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	// A cursor that is not a number starts from the beginning.
	cursor, _ := strconv.ParseInt(q.Get("cursor"), 10, 64)

	page, err := s.svc.Store().Query(r.Context(), store.Query{
		Patterns: patterns,
		Sources:  splitParam(q["sources"]),
		Cursor:   cursor,
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, label.WrapError(label.KindStorage, "HTTP-QUERY-002", "query labels", err))
		return
	}

	resp := model.QueryLabelsResponse{Labels: make([]label.Label, 0, len(page.Records))}
	for _, rec := range page.Records {
		resp.Labels = append(resp.Labels, rec.Label)
	}
	if page.Cursor != "" {
		resp.Cursor = &page.Cursor
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) subscribeLabels(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Enabled() || s.feed == nil {
		s.writeError(w, r, label.NewError(label.KindConfiguration, "HTTP-CFG-001", "labeler not configured"))
		return
	}
	var cursor *int64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		c, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || c < 0 {
			s.writeError(w, r, label.NewError(label.KindValidation, "HTTP-SUB-001", "cursor must be a non-negative integer"))
			return
		}
		cursor = &c
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.CloseNow()

	// CloseRead keeps control frames flowing and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	err = s.feed.Serve(ctx, cursor, func(ctx context.Context, rec store.Record) error {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return wsjson.Write(writeCtx, conn, model.SubscribeMessage{Seq: rec.Seq, Labels: []label.Label{rec.Label}})
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
	case label.IsKind(err, label.KindDistribution):
		s.log.Debug("subscriber went away", slog.Any("error", err))
	default:
		s.log.Error("subscription failed", slog.Any("error", err))
		_ = conn.Close(websocket.StatusInternalError, "backfill failed")
	}
}
