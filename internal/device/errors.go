package device

import "errors"

var (
	// ErrNotSupported marks a node no driver claims, or whose on-device
	// signature did not match. Callers skip such nodes silently.
	ErrNotSupported = errors.New("not supported")

	// ErrNoResources is returned when an MMIO window cannot be mapped.
	ErrNoResources = errors.New("no resources")

	// ErrInvalidParam marks a structurally inconsistent request, such as an
	// interrupt routed to an unknown controller or an out-of-range line.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrNotFound is returned when a required property is missing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an interrupt line already has a handler.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidFormat marks a malformed blob or property value.
	ErrInvalidFormat = errors.New("invalid format")
)
