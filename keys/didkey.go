package keys

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
)

// Multicodec codes for did:key public keys.
const (
	codecSecp256k1Pub uint64 = 0xe7
	codecEd25519Pub   uint64 = 0xed
)

const didKeyPrefix = "did:key:"

// DIDKey encodes the key as a did:key string (multibase base58btc over
// multicodec-prefixed bytes). Dilithium3 has no registered multicodec and
// is rejected.
func (p PublicKey) DIDKey() (string, error) {
	var code uint64
	switch p.alg {
	case Secp256k1:
		code = codecSecp256k1Pub
	case Ed25519:
		code = codecEd25519Pub
	default:
		return "", fmt.Errorf("%w: no did:key codec for %q", ErrUnsupportedAlgorithm, p.alg)
	}
	buf := append(varint.ToUvarint(code), p.bytes...)
	enc, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		return "", err
	}
	return didKeyPrefix + enc, nil
}

// String returns the did:key form when available, else "<alg>:<base64>".
func (p PublicKey) String() string {
	if did, err := p.DIDKey(); err == nil {
		return did
	}
	return string(p.alg) + ":" + base64.StdEncoding.EncodeToString(p.bytes)
}

// ParsePublicKey accepts the forms produced by PublicKey.String.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, didKeyPrefix) {
		return parseDIDKey(strings.TrimPrefix(s, didKeyPrefix))
	}
	alg, rest, ok := strings.Cut(s, ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("%w: unrecognized public key %q", ErrInvalidKey, s)
	}
	a, err := ParseAlgorithm(alg)
	if err != nil {
		return PublicKey{}, err
	}
	b, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewPublicKey(a, b)
}

func parseDIDKey(mb string) (PublicKey, error) {
	enc, data, err := multibase.Decode(mb)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if enc != multibase.Base58BTC {
		return PublicKey{}, fmt.Errorf("%w: did:key must use base58btc", ErrInvalidKey)
	}
	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch code {
	case codecSecp256k1Pub:
		return NewPublicKey(Secp256k1, data[n:])
	case codecEd25519Pub:
		return NewPublicKey(Ed25519, data[n:])
	default:
		return PublicKey{}, fmt.Errorf("%w: multicodec 0x%x", ErrUnsupportedAlgorithm, code)
	}
}
