package domain

import "errors"

var (
	// ErrDataFormat marks records or byte streams that violate the binary format contract.
	ErrDataFormat = errors.New("data format error")
	// ErrNotSupported marks operations a storage cannot perform.
	ErrNotSupported = errors.New("operation not supported")
)
