package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: no such record (agent, grant, audit correlation)
//   - ErrConflict: record already exists (duplicate agent registration)
//   - ErrExpired: credential or grant is past its expiry
//   - ErrAlreadyUsed: single-use value (capability nonce) already consumed
//   - ErrInvalidState: record cannot take the requested transition
//   - ErrUnavailable: backing service unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
