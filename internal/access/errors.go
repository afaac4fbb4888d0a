package access

import "errors"

var (
	ErrNotFound     = errors.New("access: not found")
	ErrConflict     = errors.New("access: resource conflict")
	ErrInvalidInput = errors.New("access: invalid input")
	ErrUserBanned   = errors.New("access: user banned")

	// ErrUnavailable wraps persistent-store failures. Callers must treat it
	// as deny, never allow.
	ErrUnavailable = errors.New("access: store unavailable")
)

// Session validation outcomes. Validate returns exactly one of these when it
// does not return a session.
var (
	ErrTokenNotFound = errors.New("access: token not found")
	ErrTokenExpired  = errors.New("access: token expired")
	ErrTokenRevoked  = errors.New("access: token revoked")
)

// DenyReason is the structured reason attached to a deny decision.
type DenyReason string

const (
	ReasonNone                  DenyReason = ""
	ReasonUnauthenticated       DenyReason = "unauthenticated"
	ReasonEndpointNotConfigured DenyReason = "endpoint_not_configured"
	ReasonEndpointDisabled      DenyReason = "endpoint_disabled"
	ReasonUserBlocked           DenyReason = "user_blocked"
	ReasonOutOfScope            DenyReason = "out_of_scope"

	// ReasonUnavailable marks denials caused by a store failure rather
	// than a policy decision; it keeps outage denials out of the
	// per-policy decision metrics.
	ReasonUnavailable DenyReason = "unavailable"
)

// Decision is the single allow/deny outcome of an evaluation.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Rule    *PermissionRule
}

// Allow builds an allow decision for the matched rule.
func Allow(rule *PermissionRule) Decision {
	return Decision{Allowed: true, Rule: rule}
}

// Deny builds a deny decision with the given reason.
func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}
