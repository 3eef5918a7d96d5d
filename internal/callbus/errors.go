package callbus

import (
	"errors"

	dErrors "warden/pkg/domain-errors"
)

// Authorization failures. Each is a coded domain error so transports map it
// to an explicit denial; callers match with errors.Is.
var (
	ErrInsufficientPrivilege = dErrors.New(dErrors.CodeForbidden, "insufficient privilege")
	ErrUnknownTarget         = dErrors.New(dErrors.CodeNotFound, "unknown target agent")
	ErrExpired               = dErrors.New(dErrors.CodeUnauthorized, "capability token expired")
	ErrReplayed              = dErrors.New(dErrors.CodeUnauthorized, "capability token already used")
	ErrAudienceMismatch      = dErrors.New(dErrors.CodeUnauthorized, "capability token audience mismatch")
	ErrBadSignature          = dErrors.New(dErrors.CodeUnauthorized, "capability token signature invalid")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInsufficientPrivilege, "insufficient_privilege"},
	{ErrUnknownTarget, "unknown_target"},
	{ErrExpired, "expired"},
	{ErrReplayed, "replayed"},
	{ErrAudienceMismatch, "audience_mismatch"},
	{ErrBadSignature, "bad_signature"},
}

// Reason returns the stable snake_case name of an authorization failure, or
// "error" for anything outside the taxonomy.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "error"
}

// IsAuthError reports whether err belongs to the authorization taxonomy.
func IsAuthError(err error) bool {
	return Reason(err) != "error"
}
