package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTaskNotFound     = errors.New("task not found")
	ErrLinkageFailed    = errors.New("task linkage failed")
	ErrStoreUnavailable = errors.New("store unavailable")
)
