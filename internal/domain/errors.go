package domain

import "errors"

var (
	// ErrPermissionUnavailable means the usage-log permission is not granted
	// (on adb: the device has not authorized this host).
	ErrPermissionUnavailable = errors.New("usage access permission unavailable")

	// ErrUnsupported means the platform cannot answer foreground queries at all.
	ErrUnsupported = errors.New("foreground query unsupported on this platform")

	// ErrInvalidPin is returned when a parent PIN does not verify.
	ErrInvalidPin = errors.New("incorrect parent PIN")
)
