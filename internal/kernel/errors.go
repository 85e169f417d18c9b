package kernel

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Sentinel kinds for the two kernel answers callers are allowed to treat as
// benign during reconciliation. Everything else surfaces as-is.
var (
	// ErrExists is returned when the kernel already holds the requested
	// route or rule (EEXIST).
	ErrExists = errors.New("kernel: already exists")
	// ErrNotFound is returned when the requested object is absent
	// (ENOENT/ESRCH).
	ErrNotFound = errors.New("kernel: not found")
)

// classify maps the errno carried by a netlink error response onto the
// package sentinels. Errors without an errno pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.EEXIST:
		return ErrExists
	case unix.ENOENT, unix.ESRCH:
		return ErrNotFound
	}
	return err
}
