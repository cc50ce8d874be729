package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate key")
	ErrInvalidAssertion  = errors.New("invalid identity assertion")
	ErrInvalidSignature  = errors.New("invalid session signature")
	ErrExpiredCredential = errors.New("session credential expired")
	ErrStaleToken        = errors.New("auth token changed concurrently")
)
