package core

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicate   = errors.New("resource url already exists")
	ErrInvalidURL  = errors.New("invalid url")
	ErrUnreachable = errors.New("url is unreachable")
	ErrInvalidRule = errors.New("invalid threshold rule")
	ErrInvalidKind = errors.New("invalid resource kind")

	ErrInvalidStatus = errors.New("invalid resource status")
)
