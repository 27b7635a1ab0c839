package model

import "xdao.co/labeler/label"

// EmitLabelRequest asks the labeler to sign and append one label.
type EmitLabelRequest struct {
	URI     string   `json:"uri"`
	Val     string   `json:"val"`
	CID     *string  `json:"cid,omitempty"`
	Neg     bool     `json:"neg,omitempty"`
	Context *Context `json:"context,omitempty"`
}

type EmitLabelResponse struct {
	Seq   int64       `json:"seq"`
	Label label.Label `json:"label"`
}

type QueryLabelsResponse struct {
	Cursor *string       `json:"cursor"`
	Labels []label.Label `json:"labels"`
}

// SubscribeMessage is one frame on the label stream.
type SubscribeMessage struct {
	Seq    int64         `json:"seq"`
	Labels []label.Label `json:"labels"`
}

type ResolveRequest struct {
	URI    string  `json:"uri"`
	Val    string  `json:"val,omitempty"`
	Reason *string `json:"reason,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

type ResolveResponse struct {
	Seq     int64  `json:"seq"`
	Message string `json:"message"`
}

type StoreContextRequest struct {
	URI     string  `json:"uri"`
	Context Context `json:"context"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ListFlagsResponse struct {
	Flags []Flag `json:"flags"`
}

type CreateBatchRequest struct {
	URIs      []string `json:"uris,omitempty"`
	CreatedBy *string  `json:"created_by,omitempty"`
}

type CreateBatchResponse struct {
	ID          string `json:"id"`
	MemberCount int    `json:"member_count"`
}

// BatchView is a batch with its members and their current flags.
type BatchView struct {
	Batch   Batch    `json:"batch"`
	Members []Member `json:"members"`
	Flags   []Flag   `json:"flags"`
}

type ReviewDecision struct {
	URI      string `json:"uri"`
	Decision string `json:"decision"`
}

type SubmitReviewRequest struct {
	Decisions []ReviewDecision `json:"decisions"`
}

type SubmitReviewResponse struct {
	ResolvedCount int    `json:"resolved_count"`
	Message       string `json:"message"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	LabelerEnabled bool   `json:"labeler_enabled"`
	Issuer         string `json:"issuer,omitempty"`
	SigningKey     string `json:"signing_key,omitempty"`
}
