package session

import "errors"

var (
	// ErrTabNotFound means no open tab's title contains the requested text.
	ErrTabNotFound = errors.New("tab not found")
	// ErrConnectionFailed covers every I/O or protocol failure while a
	// session is being opened or its domains enabled.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrCloseFailed is reported when tearing down a connection fails. The
	// session state is cleared regardless.
	ErrCloseFailed = errors.New("close failed")
)
