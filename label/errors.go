package label

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// KindConfiguration: a required dependency (signer or store) is absent.
	KindConfiguration Kind = "Configuration"
	// KindValidation: a malformed request, rejected before any state mutation.
	KindValidation Kind = "Validation"
	// KindSerialization: the canonical encoding could not be produced.
	KindSerialization Kind = "Serialization"
	// KindKey: malformed signing key material.
	KindKey Kind = "Key"
	// KindSigning: the cryptographic operation failed.
	KindSigning Kind = "Signing"
	// KindStorage: persistence failed.
	KindStorage Kind = "Storage"
	// KindDistribution: a subscriber fell behind the live feed.
	KindDistribution Kind = "Distribution"
	// KindDecision: an unrecognized batch review decision.
	KindDecision Kind = "Decision"
)

// Error is the structured error type shared by the labeler packages.
//
// RuleID is a stable identifier (e.g., LBL-CANON-001, LBL-EMIT-002) naming
// the violated rule. Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

func WrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
