package domain

import "errors"

var (
	ErrUsernameEmpty     = errors.New("username empty")
	ErrUsernameTooLong   = errors.New("username too long")
	ErrDuplicateIdentity = errors.New("identity already connected")
	ErrGroupExists       = errors.New("group already exists")
	ErrGroupNameEmpty    = errors.New("group name empty")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidSignal     = errors.New("invalid call signal")
)
