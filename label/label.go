// Package label defines the signed label record, its canonical encoding and
// the Signer that produces it.
//
// A label's identity for verification purposes is the canonical DAG-CBOR
// encoding of every field except sig. Absent optional fields (cid, neg,
// exp) are omitted from that encoding rather than written as null, so an
// independent verifier can rebuild the exact signed bytes.
package label

import (
	"time"
)

// Version is the label format version written into ver.
const Version int64 = 1

// TimeLayout is the creation/expiry timestamp format: UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Label is an assertion (or, with Neg set, a retraction) that URI carries Val.
type Label struct {
	Ver int64  `json:"ver,omitempty"`
	Src string `json:"src"`
	URI string `json:"uri"`
	CID string `json:"cid,omitempty"`
	Val string `json:"val"`
	Neg bool   `json:"neg,omitempty"`
	Cts string `json:"cts"`
	Exp string `json:"exp,omitempty"`
	Sig []byte `json:"sig,omitempty"`
}

// New returns an unsigned asserting label for uri/val with no timestamp.
// Signer.Sign fills ver, src and cts.
func New(uri, val string) Label {
	return Label{URI: uri, Val: val}
}

// WithCID pins the label to one version of the target content.
func (l Label) WithCID(c string) Label {
	l.CID = c
	return l
}

// Negated turns the label into a retraction of (URI, Val).
func (l Label) Negated() Label {
	l.Neg = true
	return l
}

// ExpiresAt sets exp.
func (l Label) ExpiresAt(t time.Time) Label {
	l.Exp = FormatTime(t)
	return l
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts any RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Signed reports whether a signature is attached.
func (l Label) Signed() bool { return len(l.Sig) > 0 }
