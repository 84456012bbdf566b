// Package errors holds the storage errors shared by the record store
// backends.
package errors

import "errors"

var (
	ErrTimeout          = errors.New("editlock: storage timeout")
	ErrConnectionClosed = errors.New("editlock: storage connection closed")
)
