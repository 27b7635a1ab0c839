package label

import (
	"time"

	"xdao.co/labeler/keys"
)

// KeySigner signs canonical bytes. *keys.PrivateKey satisfies it.
type KeySigner interface {
	Sign(message []byte) ([]byte, error)
}

// Signer binds an issuer identity to its signing key.
type Signer struct {
	issuer string
	key    KeySigner
	now    func() time.Time
}

// NewSigner returns a Signer for issuer.
func NewSigner(issuer string, key KeySigner) (*Signer, error) {
	if issuer == "" {
		return nil, NewError(KindKey, "LBL-KEY-001", "signer: missing issuer")
	}
	if key == nil {
		return nil, NewError(KindKey, "LBL-KEY-002", "signer: missing key")
	}
	return &Signer{issuer: issuer, key: key, now: time.Now}, nil
}

// NewSignerFromHex parses a hex secret for alg and returns a Signer for issuer.
func NewSignerFromHex(issuer string, alg keys.Algorithm, secretHex string) (*Signer, *keys.PrivateKey, error) {
	k, err := keys.ParsePrivateKeyHex(alg, secretHex)
	if err != nil {
		return nil, nil, WrapError(KindKey, "LBL-KEY-003", "signer: invalid signing key", err)
	}
	s, err := NewSigner(issuer, k)
	if err != nil {
		return nil, nil, err
	}
	return s, k, nil
}

// WithClock overrides the creation-time source. Intended for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Issuer returns the identity written into src.
func (s *Signer) Issuer() string { return s.issuer }

// Sign fills ver, src and (when empty) cts, canonicalizes the unsigned
// fields and attaches the signature. No partially signed label is returned
// on error.
func (s *Signer) Sign(l Label) (Label, error) {
	l.Ver = Version
	l.Src = s.issuer
	if l.Cts == "" {
		l.Cts = FormatTime(s.now())
	}
	l.Sig = nil

	msg, err := l.CanonicalBytes()
	if err != nil {
		return Label{}, err
	}
	sig, err := s.key.Sign(msg)
	if err != nil {
		return Label{}, WrapError(KindSigning, "LBL-SIGN-001", "signer: signing failed", err)
	}
	l.Sig = sig
	return l, nil
}

// Verify checks l's signature against pub by recomputing the canonical bytes.
func (l Label) Verify(pub keys.PublicKey) error {
	msg, err := l.CanonicalBytes()
	if err != nil {
		return err
	}
	if err := pub.Verify(msg, l.Sig); err != nil {
		return WrapError(KindSigning, "LBL-SIGN-002", "label: signature does not verify", err)
	}
	return nil
}
