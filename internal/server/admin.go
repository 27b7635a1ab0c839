package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
)

func (s *Server) listFlags(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Enabled() {
		s.writeError(w, r, label.NewError(label.KindConfiguration, "HTTP-CFG-001", "labeler not configured"))
		return
	}
	flags, err := s.engine.PendingFlags(r.Context(), s.svc.DefaultValue())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if flags == nil {
		flags = []model.Flag{}
	}
	writeJSON(w, http.StatusOK, model.ListFlagsResponse{Flags: flags})
}

func (s *Server) resolveFlag(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.svc.Resolve(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ResolveResponse{
		Seq:     rec.Seq,
		Message: fmt.Sprintf("created negation label for %s", req.URI),
	})
}

func (s *Server) storeContext(w http.ResponseWriter, r *http.Request) {
	var req model.StoreContextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.StoreContext(r.Context(), req.URI, req.Context); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: fmt.Sprintf("context stored for %s", req.URI)})
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBatchRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	b, n, err := s.review.CreateBatch(r.Context(), req.URIs, req.CreatedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CreateBatchResponse{ID: b.ID, MemberCount: n})
}

func (s *Server) reviewData(w http.ResponseWriter, r *http.Request) {
	view, err := s.review.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if view.Flags == nil {
		view.Flags = []model.Flag{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) submitReview(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.review.SubmitReview(r.Context(), chi.URLParam(r, "id"), req.Decisions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
