package core

import (
	"errors"
	"strings"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrTransport       = errors.New("transport failure")
)

// Wire codes reported to clients.
const (
	CodeInvalidArgument  = "InvalidArgument"
	CodeNotFound         = "NotFound"
	CodeTransportFailure = "TransportFailure"
	CodeInternal         = "Internal"
)

// ErrorCode classifies err into one of the wire codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTransport):
		return CodeTransportFailure
	default:
		return CodeInternal
	}
}

// IsBlank reports whether s is empty after trimming whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
