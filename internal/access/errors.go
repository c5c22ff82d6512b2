package access

import "errors"

var (
	ErrNotFound       = errors.New("access: not found")
	ErrInvalidRequest = errors.New("access: invalid request")
	ErrInvalidGrant   = errors.New("access: grant needs a gate and an account or group")
	ErrConflict       = errors.New("access: conflict")
)
