package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Algorithm names a signature scheme.
type Algorithm string

const (
	// Secp256k1 is the ATProto-compatible scheme: ECDSA over sha256(message),
	// encoded as a 64-byte compact r||s with low-S normalization.
	Secp256k1 Algorithm = "secp256k1"
	// Ed25519 signs sha256(message).
	Ed25519 Algorithm = "ed25519"
	// Dilithium3 signs sha3-256(message).
	Dilithium3 Algorithm = "dilithium3"
)

// SecretSize is the length of the hex-decoded secret accepted by every algorithm.
const SecretSize = 32

var (
	ErrInvalidKey           = errors.New("keys: invalid key")
	ErrUnsupportedAlgorithm = errors.New("keys: unsupported algorithm")
	ErrBadSignature         = errors.New("keys: signature verification failed")
)

// ParseAlgorithm maps a configuration string to an Algorithm.
// The empty string selects Secp256k1.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", Secp256k1:
		return Secp256k1, nil
	case Ed25519:
		return Ed25519, nil
	case Dilithium3:
		return Dilithium3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// SignatureSize returns the fixed signature length for alg, or 0 if unknown.
func SignatureSize(alg Algorithm) int {
	switch alg {
	case Secp256k1:
		return 64
	case Ed25519:
		return ed25519.SignatureSize
	case Dilithium3:
		return mode3.SignatureSize
	default:
		return 0
	}
}

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

func hashFor(alg Algorithm) string {
	if alg == Dilithium3 {
		return "sha3-256"
	}
	return "sha256"
}

// PrivateKey is a signing key for one Algorithm.
type PrivateKey struct {
	alg  Algorithm
	secp *secp256k1.PrivateKey
	ed   ed25519.PrivateKey
	dil  *mode3.PrivateKey
	pub  PublicKey
}

// NewPrivateKey builds a key from a SecretSize-byte secret.
//
// For secp256k1 the secret is the scalar itself and must be in [1, N-1].
// For ed25519 and dilithium3 it is the seed.
func NewPrivateKey(alg Algorithm, secret []byte) (*PrivateKey, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, SecretSize, len(secret))
	}
	switch alg {
	case Secp256k1:
		var s secp256k1.ModNScalar
		if overflow := s.SetByteSlice(secret); overflow || s.IsZero() {
			return nil, fmt.Errorf("%w: secp256k1 scalar out of range", ErrInvalidKey)
		}
		priv := secp256k1.NewPrivateKey(&s)
		return &PrivateKey{
			alg:  alg,
			secp: priv,
			pub:  PublicKey{alg: alg, bytes: priv.PubKey().SerializeCompressed()},
		}, nil
	case Ed25519:
		priv := ed25519.NewKeyFromSeed(secret)
		pub := priv.Public().(ed25519.PublicKey)
		return &PrivateKey{alg: alg, ed: priv, pub: PublicKey{alg: alg, bytes: []byte(pub)}}, nil
	case Dilithium3:
		var seed [mode3.SeedSize]byte
		copy(seed[:], secret)
		pk, sk := mode3.NewKeyFromSeed(&seed)
		return &PrivateKey{alg: alg, dil: sk, pub: PublicKey{alg: alg, bytes: pk.Bytes()}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// ParsePrivateKeyHex decodes a hex secret (optionally 0x-prefixed).
func ParsePrivateKeyHex(alg Algorithm, secretHex string) (*PrivateKey, error) {
	secret, err := ParseSecretHex(secretHex)
	if err != nil {
		return nil, err
	}
	return NewPrivateKey(alg, secret)
}

// ParseSecretHex decodes and length-checks a hex secret.
func ParseSecretHex(secretHex string) ([]byte, error) {
	secretHex = strings.TrimSpace(secretHex)
	secretHex = strings.TrimPrefix(secretHex, "0x")
	data, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(data) != SecretSize {
		return nil, fmt.Errorf("%w: expected secret length of %d bytes, got %d", ErrInvalidKey, SecretSize, len(data))
	}
	return data, nil
}

// GenerateKey draws a fresh secret from rand and returns the key with its secret.
func GenerateKey(alg Algorithm, rand io.Reader) (*PrivateKey, []byte, error) {
	for attempt := 0; attempt < 8; attempt++ {
		secret := make([]byte, SecretSize)
		if _, err := io.ReadFull(rand, secret); err != nil {
			return nil, nil, err
		}
		k, err := NewPrivateKey(alg, secret)
		if errors.Is(err, ErrInvalidKey) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return k, secret, nil
	}
	return nil, nil, fmt.Errorf("%w: could not draw a valid secret", ErrInvalidKey)
}

func (k *PrivateKey) Algorithm() Algorithm { return k.alg }

func (k *PrivateKey) Public() PublicKey { return k.pub }

// Sign returns a fixed-length signature over hash(message).
func (k *PrivateKey) Sign(message []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("missing private key")
	}
	digest, err := digestFor(hashFor(k.alg), message)
	if err != nil {
		return nil, err
	}
	switch k.alg {
	case Secp256k1:
		sig := ecdsa.Sign(k.secp, digest)
		r, s := sig.R(), sig.S()
		out := make([]byte, 64)
		r.PutBytesUnchecked(out[:32])
		s.PutBytesUnchecked(out[32:])
		return out, nil
	case Ed25519:
		return ed25519.Sign(k.ed, digest), nil
	case Dilithium3:
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(k.dil, digest, sig)
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, k.alg)
	}
}

// PublicKey is a verification key for one Algorithm.
type PublicKey struct {
	alg   Algorithm
	bytes []byte
}

// NewPublicKey validates raw public key bytes for alg.
// secp256k1 keys may be compressed or uncompressed; they are stored compressed.
func NewPublicKey(alg Algorithm, b []byte) (PublicKey, error) {
	switch alg {
	case Secp256k1:
		pk, err := secp256k1.ParsePubKey(b)
		if err != nil {
			return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return PublicKey{alg: alg, bytes: pk.SerializeCompressed()}, nil
	case Ed25519:
		if len(b) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(b))
		}
		return PublicKey{alg: alg, bytes: append([]byte(nil), b...)}, nil
	case Dilithium3:
		if len(b) != mode3.PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: dilithium3 public key must be %d bytes, got %d", ErrInvalidKey, mode3.PublicKeySize, len(b))
		}
		return PublicKey{alg: alg, bytes: append([]byte(nil), b...)}, nil
	default:
		return PublicKey{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

func (p PublicKey) Algorithm() Algorithm { return p.alg }

func (p PublicKey) Bytes() []byte { return append([]byte(nil), p.bytes...) }

// Verify returns nil when sig is a valid signature over hash(message).
func (p PublicKey) Verify(message, sig []byte) error {
	if len(sig) != SignatureSize(p.alg) {
		return fmt.Errorf("%w: signature must be %d bytes, got %d", ErrBadSignature, SignatureSize(p.alg), len(sig))
	}
	digest, err := digestFor(hashFor(p.alg), message)
	if err != nil {
		return err
	}
	ok := false
	switch p.alg {
	case Secp256k1:
		ok = verifySecp256k1(p.bytes, digest, sig)
	case Ed25519:
		ok = ed25519.Verify(ed25519.PublicKey(p.bytes), digest, sig)
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(p.bytes); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		ok = mode3.Verify(&pk, digest, sig)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, p.alg)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

func verifySecp256k1(pub, digest, sig []byte) bool {
	pk, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return false
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
		return false
	}
	// ATProto accepts low-S signatures only.
	if s.IsOverHalfOrder() {
		return false
	}
	return ecdsa.NewSignature(&r, &s).Verify(digest, pk)
}
