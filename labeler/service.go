// Package labeler is the emission pipeline: validate, sign, append, then
// announce. Every label that enters the log goes through Service.
package labeler

import (
	"context"
	"fmt"
	"log/slog"

	"xdao.co/labeler/cidutil"
	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

// DefaultValue is the label value used when a resolution names none.
const DefaultValue = "copyright-violation"

// Publisher receives each record after it is durably appended.
// *distributor.Distributor satisfies it.
type Publisher interface {
	Publish(r store.Record)
}

// Signer produces signed labels. *label.Signer satisfies it.
type Signer interface {
	Sign(l label.Label) (label.Label, error)
	Issuer() string
}

type Options struct {
	Feed         Publisher
	Logger       *slog.Logger
	DefaultValue string
}

// Service is safe for concurrent use. A Service without a signer or a store
// is valid but disabled: every operation reports a Configuration error.
type Service struct {
	signer Signer
	store  store.Store
	feed   Publisher
	log    *slog.Logger
	val    string
}

func New(signer Signer, st store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultValue == "" {
		opts.DefaultValue = DefaultValue
	}
	return &Service{signer: signer, store: st, feed: opts.Feed, log: opts.Logger, val: opts.DefaultValue}
}

// Enabled reports whether both a signer and a store are configured.
func (s *Service) Enabled() bool {
	return s != nil && s.signer != nil && s.store != nil
}

// Issuer returns the identity written into src, or "" when disabled.
func (s *Service) Issuer() string {
	if s == nil || s.signer == nil {
		return ""
	}
	return s.signer.Issuer()
}

func (s *Service) DefaultValue() string { return s.val }

func (s *Service) Store() store.Store { return s.store }

var errNotConfigured = label.NewError(label.KindConfiguration, "LBL-CFG-001", "labeler not configured")

func (s *Service) ready() error {
	if !s.Enabled() {
		return errNotConfigured
	}
	return nil
}

// Emit signs and appends one label, stores any supplied context and
// publishes the record to live subscribers.
//
// Context storage is best-effort: a failure is logged and does not fail the
// emission. Resolution fields in the supplied context are ignored.
func (s *Service) Emit(ctx context.Context, req model.EmitLabelRequest) (store.Record, error) {
	if err := s.ready(); err != nil {
		return store.Record{}, err
	}
	if req.URI == "" {
		return store.Record{}, label.NewError(label.KindValidation, "LBL-EMIT-001", "uri is required")
	}
	if req.Val == "" {
		return store.Record{}, label.NewError(label.KindValidation, "LBL-EMIT-002", "val is required")
	}
	l := label.New(req.URI, req.Val)
	if req.CID != nil && *req.CID != "" {
		if err := cidutil.Validate(*req.CID); err != nil {
			return store.Record{}, label.WrapError(label.KindValidation, "LBL-EMIT-003", "cid is not a valid CID", err)
		}
		l = l.WithCID(*req.CID)
	}
	if req.Neg {
		l = l.Negated()
	}

	s.log.Info("emitting label", slog.String("uri", req.URI), slog.String("val", req.Val), slog.Bool("neg", req.Neg))
	rec, err := s.append(ctx, l)
	if err != nil {
		return store.Record{}, err
	}

	if req.Context != nil {
		c := req.Context.Normalized()
		c.ResolutionReason = nil
		c.ResolutionNotes = nil
		if err := s.store.PutContext(ctx, req.URI, c); err != nil {
			s.log.Warn("failed to store label context", slog.String("uri", req.URI), slog.Any("error", err))
		}
	}

	s.publish(rec)
	return rec, nil
}

// Resolve appends a negation for (uri, val) and records why. An empty val
// selects the default label value. The reason and notes are stored
// best-effort after the negation is durable.
func (s *Service) Resolve(ctx context.Context, req model.ResolveRequest) (store.Record, error) {
	if err := s.ready(); err != nil {
		return store.Record{}, err
	}
	if req.URI == "" {
		return store.Record{}, label.NewError(label.KindValidation, "LBL-RESOLVE-001", "uri is required")
	}
	val := req.Val
	if val == "" {
		val = s.val
	}
	var reason *model.ResolutionReason
	if req.Reason != nil {
		r, err := model.ParseResolutionReason(*req.Reason)
		if err != nil {
			return store.Record{}, label.WrapError(label.KindValidation, "LBL-RESOLVE-002", "invalid resolution reason", err)
		}
		reason = &r
	}

	s.log.Info("resolving flag (creating negation)", slog.String("uri", req.URI), slog.String("val", val))
	rec, err := s.append(ctx, label.New(req.URI, val).Negated())
	if err != nil {
		return store.Record{}, err
	}

	if reason != nil {
		if err := s.store.PutResolution(ctx, req.URI, *reason, req.Notes); err != nil {
			s.log.Warn("failed to store resolution reason", slog.String("uri", req.URI), slog.Any("error", err))
		}
	}

	s.publish(rec)
	return rec, nil
}

// StoreContext merges descriptive metadata for uri without emitting a label.
func (s *Service) StoreContext(ctx context.Context, uri string, c model.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if uri == "" {
		return label.NewError(label.KindValidation, "LBL-CTX-001", "uri is required")
	}
	s.log.Info("storing label context", slog.String("uri", uri))
	if err := s.store.PutContext(ctx, uri, c.Normalized()); err != nil {
		return label.WrapError(label.KindStorage, "LBL-CTX-002", "store context", err)
	}
	return nil
}

func (s *Service) append(ctx context.Context, l label.Label) (store.Record, error) {
	signed, err := s.signer.Sign(l)
	if err != nil {
		return store.Record{}, err
	}
	seq, err := s.store.Append(ctx, signed)
	if err != nil {
		return store.Record{}, label.WrapError(label.KindStorage, "LBL-STORE-001", fmt.Sprintf("append label for %s", l.URI), err)
	}
	s.log.Info("label stored", slog.Int64("seq", seq), slog.String("uri", l.URI))
	return store.Record{Seq: seq, Label: signed}, nil
}

func (s *Service) publish(rec store.Record) {
	if s.feed != nil {
		s.feed.Publish(rec)
	}
}
