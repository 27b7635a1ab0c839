// Package keys provides the signing primitives used by the labeler.
//
// API stability:
//
// Stable:
//   - Algorithm names, signature encodings and did:key formatting. Labels signed
//     today must verify with any later release.
//
// Experimental:
//   - Filesystem-backed key storage (KeyStore) and role derivation helpers.
//     These are local-first utilities for operators and may change.
package keys
