package chat

import "errors"

// Failure taxonomy. Lookup misses and store outages are deliberately kept
// apart so the caller can tell "no such order" from "could not ask".
var (
	ErrNotFound     = errors.New("chat: not found")
	ErrLookupFailed = errors.New("chat: lookup failed")
	ErrWriteFailed  = errors.New("chat: write rejected by store")
	ErrValidation   = errors.New("chat: invalid input")
)
