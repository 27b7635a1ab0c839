package label

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"xdao.co/labeler/cidutil"
)

// unsignedRecord is the field set covered by the signature.
// Map keys are emitted in DAG-CBOR order (length-first, then bytewise).
type unsignedRecord struct {
	Ver int64  `cbor:"ver,omitempty"`
	Src string `cbor:"src"`
	URI string `cbor:"uri"`
	CID string `cbor:"cid,omitempty"`
	Val string `cbor:"val"`
	Neg bool   `cbor:"neg,omitempty"`
	Cts string `cbor:"cts"`
	Exp string `cbor:"exp,omitempty"`
}

type signedRecord struct {
	Ver int64  `cbor:"ver,omitempty"`
	Src string `cbor:"src"`
	URI string `cbor:"uri"`
	CID string `cbor:"cid,omitempty"`
	Val string `cbor:"val"`
	Neg bool   `cbor:"neg,omitempty"`
	Cts string `cbor:"cts"`
	Exp string `cbor:"exp,omitempty"`
	Sig []byte `cbor:"sig"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

func (l Label) checkCanonical() error {
	switch {
	case l.Src == "":
		return NewError(KindSerialization, "LBL-CANON-001", "label: missing src")
	case l.URI == "":
		return NewError(KindSerialization, "LBL-CANON-002", "label: missing uri")
	case l.Val == "":
		return NewError(KindSerialization, "LBL-CANON-003", "label: missing val")
	case l.Cts == "":
		return NewError(KindSerialization, "LBL-CANON-004", "label: missing cts")
	}
	if _, err := ParseTime(l.Cts); err != nil {
		return WrapError(KindSerialization, "LBL-CANON-005", "label: malformed cts", err)
	}
	if l.Exp != "" {
		if _, err := ParseTime(l.Exp); err != nil {
			return WrapError(KindSerialization, "LBL-CANON-006", "label: malformed exp", err)
		}
	}
	return nil
}

// CanonicalBytes returns the DAG-CBOR encoding of every field except sig.
// These are the bytes the signature covers.
func (l Label) CanonicalBytes() ([]byte, error) {
	if err := l.checkCanonical(); err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(unsignedRecord{
		Ver: l.Ver, Src: l.Src, URI: l.URI, CID: l.CID,
		Val: l.Val, Neg: l.Neg, Cts: l.Cts, Exp: l.Exp,
	})
	if err != nil {
		return nil, WrapError(KindSerialization, "LBL-CANON-010", "label: cbor encoding failed", err)
	}
	return b, nil
}

// SignedBytes returns the DAG-CBOR encoding of the full signed record.
func (l Label) SignedBytes() ([]byte, error) {
	if err := l.checkCanonical(); err != nil {
		return nil, err
	}
	if !l.Signed() {
		return nil, NewError(KindSerialization, "LBL-CANON-007", "label: not signed")
	}
	b, err := encMode.Marshal(signedRecord{
		Ver: l.Ver, Src: l.Src, URI: l.URI, CID: l.CID,
		Val: l.Val, Neg: l.Neg, Cts: l.Cts, Exp: l.Exp, Sig: l.Sig,
	})
	if err != nil {
		return nil, WrapError(KindSerialization, "LBL-CANON-010", "label: cbor encoding failed", err)
	}
	return b, nil
}

// RecordCID is the dag-cbor CIDv1 of the signed record.
func (l Label) RecordCID() (cid.Cid, error) {
	b, err := l.SignedBytes()
	if err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1DagCBORSHA256(b)
	if err != nil {
		return cid.Undef, WrapError(KindSerialization, "LBL-CANON-011", "label: cid computation failed", err)
	}
	return id, nil
}

// ParseSigned decodes the output of SignedBytes. Input that does not
// re-encode to the same bytes is rejected.
func ParseSigned(b []byte) (Label, error) {
	var r signedRecord
	if err := decMode.Unmarshal(b, &r); err != nil {
		return Label{}, WrapError(KindSerialization, "LBL-CANON-012", "label: cbor decoding failed", err)
	}
	l := Label{
		Ver: r.Ver, Src: r.Src, URI: r.URI, CID: r.CID,
		Val: r.Val, Neg: r.Neg, Cts: r.Cts, Exp: r.Exp, Sig: r.Sig,
	}
	again, err := l.SignedBytes()
	if err != nil {
		return Label{}, err
	}
	if string(again) != string(b) {
		return Label{}, NewError(KindSerialization, "LBL-CANON-013", "label: record is not in canonical form")
	}
	return l, nil
}
