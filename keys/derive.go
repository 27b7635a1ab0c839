package keys

import (
	"crypto/sha256"
	"fmt"
)

// DeriveRoleSecret deterministically derives a role-specific secret from a root secret.
//
// Operators use roles to keep separate signing identities (for example a
// staging labeler) under one root without storing more than one secret.
func DeriveRoleSecret(rootSecret []byte, role string) ([]byte, error) {
	if len(rootSecret) != SecretSize {
		return nil, fmt.Errorf("root secret must be %d bytes", SecretSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSecret)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("xdao-labeler-kms-lite-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	out := make([]byte, SecretSize)
	copy(out, sum[:SecretSize])
	return out, nil
}
