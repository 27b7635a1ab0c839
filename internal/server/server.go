// Package server exposes the labeler over HTTP: the ATProto label xrpc
// endpoints, label emission and the review/admin API.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"xdao.co/labeler/distributor"
	"xdao.co/labeler/internal/ratelimit"
	"xdao.co/labeler/label"
	"xdao.co/labeler/labeler"
	"xdao.co/labeler/model"
	"xdao.co/labeler/resolution"
	"xdao.co/labeler/review"
	"xdao.co/labeler/store"
)

const maxBodyBytes = 1 << 20

type Options struct {
	// AuthToken guards emission and the admin/review API via the
	// X-Moderation-Key header. Empty disables those routes.
	AuthToken string
	// SigningKey is the public key advertised on /health.
	SigningKey string
	// Limiter bounds each client on the xrpc routes. When nil, one is built
	// from RateLimitRPS and RateLimitBurst; a zero rate disables limiting.
	Limiter        *ratelimit.Limiter
	RateLimitRPS   float64
	RateLimitBurst int
	// IdempotencyTTL is how long an Idempotency-Key replay is kept.
	// Zero disables replay.
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

type Server struct {
	svc    *labeler.Service
	engine *resolution.Engine
	review *review.Coordinator
	feed   *distributor.Distributor
	log    *slog.Logger

	authToken  string
	signingKey string
	limiter    *ratelimit.Limiter
	replays    *gocache.Cache
	replayTTL  time.Duration
}

func New(svc *labeler.Service, engine *resolution.Engine, coord *review.Coordinator, feed *distributor.Distributor, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		svc:        svc,
		engine:     engine,
		review:     coord,
		feed:       feed,
		log:        opts.Logger,
		authToken:  opts.AuthToken,
		signingKey: opts.SigningKey,
	}
	switch {
	case opts.Limiter != nil:
		s.limiter = opts.Limiter
	case opts.RateLimitRPS > 0:
		s.limiter = ratelimit.New(opts.RateLimitRPS, opts.RateLimitBurst, 0)
	}
	if opts.IdempotencyTTL > 0 {
		s.replays = gocache.New(opts.IdempotencyTTL, 2*opts.IdempotencyTTL)
		s.replayTTL = opts.IdempotencyTTL
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/xrpc/com.atproto.label.queryLabels", s.queryLabels)
		r.Get("/xrpc/com.atproto.label.subscribeLabels", s.subscribeLabels)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireKey)
		r.Post("/emit-label", s.emitLabel)
		r.Get("/admin/flags", s.listFlags)
		r.Post("/admin/resolve", s.resolveFlag)
		r.Post("/admin/context", s.storeContext)
		r.Post("/admin/batches", s.createBatch)
		r.Get("/review/{id}/data", s.reviewData)
		r.Post("/review/{id}/submit", s.submitReview)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:         "ok",
		LabelerEnabled: s.svc.Enabled(),
		Issuer:         s.svc.Issuer(),
	}
	if resp.LabelerEnabled {
		resp.SigningKey = s.signingKey
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return label.WrapError(label.KindValidation, "HTTP-BODY-001", "invalid JSON body", err)
	}
	return nil
}

func writeCoded(w http.ResponseWriter, status int, code model.ErrorCode, msg string) {
	writeJSON(w, status, model.NewError(code, msg))
}

// writeError maps a structured error onto a status and error code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, model.ErrInternal
	switch label.KindOf(err) {
	case label.KindConfiguration:
		status, code = http.StatusServiceUnavailable, model.ErrLabelerNotConfigured
	case label.KindValidation:
		status, code = http.StatusBadRequest, model.ErrBadRequest
		if errors.Is(err, store.ErrNotFound) {
			status, code = http.StatusNotFound, model.ErrNotFound
		}
	case label.KindSigning, label.KindKey, label.KindSerialization:
		code = model.ErrSigning
	case label.KindStorage:
		code = model.ErrStorage
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("path", r.URL.Path), slog.String("rule", label.RuleID(err)), slog.Any("error", err))
	}
	writeCoded(w, status, code, err.Error())
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("handler panic", slog.String("path", r.URL.Path), slog.Any("panic", v))
				writeCoded(w, http.StatusInternalServerError, model.ErrInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
