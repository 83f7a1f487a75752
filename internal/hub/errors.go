package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDeviceFound means discovery probed every candidate port without an answer.
	ErrNoDeviceFound = errors.New("no usb hub found")
	// ErrAlreadyConnected is returned by Connect while a connection is live.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected is returned by Exchange when the link is down.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout means the retry budget was exhausted by exchange timeouts.
	ErrTimeout = errors.New("exchange timed out")
	// ErrDeviceLost means the transport failed hard; the link is dropped.
	ErrDeviceLost = errors.New("device lost")
)

// ValidationError rejects bad caller input before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OpError tags a link failure with the dispatcher operation that triggered it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
