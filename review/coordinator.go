// Package review groups active flags into batches for human review and
// turns reviewer decisions back into signed labels.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"xdao.co/labeler/label"
	"xdao.co/labeler/labeler"
	"xdao.co/labeler/model"
	"xdao.co/labeler/resolution"
	"xdao.co/labeler/store"
)

// ClearNotes is recorded against every target cleared through a batch.
const ClearNotes = "batch review: cleared"

type Options struct {
	Logger *slog.Logger
	// Now overrides the clock. Intended for tests.
	Now func() time.Time
}

// Coordinator owns batch and member state. Label emission is delegated to
// the labeler service so cleared targets reach live subscribers.
type Coordinator struct {
	svc     *labeler.Service
	batches store.Batches
	engine  *resolution.Engine
	log     *slog.Logger
	now     func() time.Time
}

func New(svc *labeler.Service, batches store.Batches, engine *resolution.Engine, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{svc: svc, batches: batches, engine: engine, log: opts.Logger, now: opts.Now}
}

func (c *Coordinator) ready() error {
	if c == nil || !c.svc.Enabled() || c.batches == nil || c.engine == nil {
		return label.NewError(label.KindConfiguration, "REV-CFG-001", "labeler not configured")
	}
	return nil
}

// NewBatchID returns a short time-ordered identifier with a random suffix.
func NewBatchID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + suffix
}

// CreateBatch snapshots targets into a new pending batch. With no targets it
// uses every currently unresolved flagged target, most recent first.
// It returns the batch and its member count.
func (c *Coordinator) CreateBatch(ctx context.Context, targets []string, createdBy *string) (model.Batch, int, error) {
	if err := c.ready(); err != nil {
		return model.Batch{}, 0, err
	}
	if len(targets) == 0 {
		var err error
		targets, err = c.engine.UnresolvedTargets(ctx, c.svc.DefaultValue())
		if err != nil {
			return model.Batch{}, 0, err
		}
	}
	targets = dedupe(targets)
	if len(targets) == 0 {
		return model.Batch{}, 0, label.NewError(label.KindValidation, "REV-BATCH-001", "no flags to review")
	}

	now := c.now().UTC()
	b := model.Batch{
		ID:        NewBatchID(now),
		CreatedAt: now,
		Status:    model.BatchPending,
		CreatedBy: createdBy,
	}
	if err := c.batches.CreateBatch(ctx, b, targets); err != nil {
		return model.Batch{}, 0, label.WrapError(label.KindStorage, "REV-BATCH-002", "create batch", err)
	}
	c.log.Info("created review batch", slog.String("batch_id", b.ID), slog.Int("members", len(targets)))
	return b, len(targets), nil
}

// GetBatch returns the batch, its members and the current flags on them.
func (c *Coordinator) GetBatch(ctx context.Context, id string) (model.BatchView, error) {
	if err := c.ready(); err != nil {
		return model.BatchView{}, err
	}
	b, err := c.lookup(ctx, id)
	if err != nil {
		return model.BatchView{}, err
	}
	members, err := c.batches.Members(ctx, id)
	if err != nil {
		return model.BatchView{}, label.WrapError(label.KindStorage, "REV-READ-001", "read batch members", err)
	}
	uris := make([]string, len(members))
	for i, m := range members {
		uris[i] = m.URI
	}
	flags, err := c.engine.Flags(ctx, uris, c.svc.DefaultValue())
	if err != nil {
		return model.BatchView{}, err
	}
	return model.BatchView{Batch: b, Members: members, Flags: flags}, nil
}

// SubmitReview applies decisions in order. Decisions already applied stay
// applied if a later one fails; a clear whose negation could not be appended
// leaves its member unreviewed. Unknown decisions and targets outside the
// batch are logged and skipped.
func (c *Coordinator) SubmitReview(ctx context.Context, id string, decisions []model.ReviewDecision) (model.SubmitReviewResponse, error) {
	if err := c.ready(); err != nil {
		return model.SubmitReviewResponse{}, err
	}
	if _, err := c.lookup(ctx, id); err != nil {
		return model.SubmitReviewResponse{}, err
	}
	members, err := c.batches.Members(ctx, id)
	if err != nil {
		return model.SubmitReviewResponse{}, label.WrapError(label.KindStorage, "REV-READ-001", "read batch members", err)
	}
	inBatch := make(map[string]bool, len(members))
	for _, m := range members {
		inBatch[m.URI] = true
	}

	resolved := 0
	for _, d := range decisions {
		log := c.log.With(slog.String("batch_id", id), slog.String("uri", d.URI), slog.String("decision", d.Decision))
		decision, ok := model.ParseDecision(d.Decision)
		if !ok {
			err := label.NewError(label.KindDecision, "REV-DECISION-001", fmt.Sprintf("unknown decision %q", d.Decision))
			log.Warn("skipping review decision", slog.Any("error", err))
			continue
		}
		log.Info("processing review decision")

		if !inBatch[d.URI] {
			log.Warn("skipping review decision for target outside batch")
			continue
		}

		// A clear is recorded only once its negation is durable.
		if decision == model.DecisionClear {
			reason := string(model.ReasonFingerprintNoise)
			notes := ClearNotes
			if _, err := c.svc.Resolve(ctx, model.ResolveRequest{URI: d.URI, Reason: &reason, Notes: &notes}); err != nil {
				return model.SubmitReviewResponse{}, err
			}
			resolved++
		}
		if _, err := c.batches.MarkReviewed(ctx, id, d.URI, decision, c.now()); err != nil {
			return model.SubmitReviewResponse{}, label.WrapError(label.KindStorage, "REV-REVIEW-001", "mark member reviewed", err)
		}
	}

	if err := c.completeIfReviewed(ctx, id); err != nil {
		return model.SubmitReviewResponse{}, err
	}
	return model.SubmitReviewResponse{
		ResolvedCount: resolved,
		Message:       fmt.Sprintf("processed %d decisions, resolved %d flags", len(decisions), resolved),
	}, nil
}

func (c *Coordinator) completeIfReviewed(ctx context.Context, id string) error {
	members, err := c.batches.Members(ctx, id)
	if err != nil {
		return label.WrapError(label.KindStorage, "REV-READ-001", "read batch members", err)
	}
	for _, m := range members {
		if !m.Reviewed {
			return nil
		}
	}
	if err := c.batches.CompleteBatch(ctx, id); err != nil {
		return label.WrapError(label.KindStorage, "REV-BATCH-003", "complete batch", err)
	}
	c.log.Info("review batch completed", slog.String("batch_id", id))
	return nil
}

func (c *Coordinator) lookup(ctx context.Context, id string) (model.Batch, error) {
	b, err := c.batches.GetBatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Batch{}, label.WrapError(label.KindValidation, "REV-BATCH-004", "batch not found", err)
	}
	if err != nil {
		return model.Batch{}, label.WrapError(label.KindStorage, "REV-READ-002", "read batch", err)
	}
	return b, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
