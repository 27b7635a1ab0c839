package keys

import (
	"bytes"
	"errors"
	"testing"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func testSecret() []byte {
	secret := make([]byte, SecretSize)
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	return secret
}

func TestSignVerify_AllAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{Secp256k1, Ed25519, Dilithium3} {
		t.Run(string(alg), func(t *testing.T) {
			k, err := NewPrivateKey(alg, testSecret())
			if err != nil {
				t.Fatalf("NewPrivateKey: %v", err)
			}
			msg := []byte("hello labels")
			sig, err := k.Sign(msg)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if len(sig) != SignatureSize(alg) {
				t.Fatalf("signature size: got %d want %d", len(sig), SignatureSize(alg))
			}
			if err := k.Public().Verify(msg, sig); err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if err := k.Public().Verify([]byte("tampered"), sig); !errors.Is(err, ErrBadSignature) {
				t.Fatalf("Verify tampered: got %v want ErrBadSignature", err)
			}
		})
	}
}

func TestSecp256k1_DeterministicLowS(t *testing.T) {
	k, err := NewPrivateKey(Secp256k1, testSecret())
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	a, err := k.Sign([]byte("same"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b, err := k.Sign([]byte("same"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected RFC6979 deterministic signatures")
	}
	if pub := k.Public().Bytes(); len(pub) != 33 {
		t.Fatalf("expected compressed public key, got %d bytes", len(pub))
	}
}

func TestNewPrivateKey_RejectsBadSecrets(t *testing.T) {
	if _, err := NewPrivateKey(Secp256k1, make([]byte, SecretSize)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("zero scalar: got %v want ErrInvalidKey", err)
	}
	over := bytes.Repeat([]byte{0xff}, SecretSize)
	if _, err := NewPrivateKey(Secp256k1, over); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("overflow scalar: got %v want ErrInvalidKey", err)
	}
	if _, err := NewPrivateKey(Ed25519, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("short secret: got %v want ErrInvalidKey", err)
	}
	if _, err := ParsePrivateKeyHex(Secp256k1, "not-hex"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("bad hex: got %v want ErrInvalidKey", err)
	}
	if _, err := NewPrivateKey("rsa", testSecret()); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("unknown alg: got %v want ErrUnsupportedAlgorithm", err)
	}
}

func TestParsePrivateKeyHex_AcceptsPrefix(t *testing.T) {
	const hexKey = "0x0101010101010101010101010101010101010101010101010101010101010101"
	k, err := ParsePrivateKeyHex(Secp256k1, " "+hexKey+"\n")
	if err != nil {
		t.Fatalf("ParsePrivateKeyHex: %v", err)
	}
	if k.Algorithm() != Secp256k1 {
		t.Fatalf("algorithm: got %q", k.Algorithm())
	}
}

func TestGenerateKey(t *testing.T) {
	k, secret, err := GenerateKey(Ed25519, &deterministicReader{})
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	again, err := NewPrivateKey(Ed25519, secret)
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	if !bytes.Equal(k.Public().Bytes(), again.Public().Bytes()) {
		t.Fatalf("returned secret does not reproduce the key")
	}
}

func TestParseAlgorithm(t *testing.T) {
	cases := map[string]Algorithm{"": Secp256k1, "SECP256K1": Secp256k1, " ed25519 ": Ed25519, "dilithium3": Dilithium3}
	for in, want := range cases {
		got, err := ParseAlgorithm(in)
		if err != nil {
			t.Fatalf("ParseAlgorithm(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseAlgorithm(%q): got %q want %q", in, got, want)
		}
	}
	if _, err := ParseAlgorithm("p256"); err == nil {
		t.Fatalf("expected error for p256")
	}
}
