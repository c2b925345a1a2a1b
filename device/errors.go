// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package device

import (
	"fmt"
	"log/slog"
	"time"
)

// TimeoutError indicates the device did not reply within the request
// deadline.
type TimeoutError struct {
	Host    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device %s did not reply within %s", e.Host, e.Timeout)
}

func (e *TimeoutError) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("host", e.Host),
		slog.Duration("timeout", e.Timeout),
	}
}

// UnreachableError indicates the connection to the device could not be
// established or broke mid-request. It may wrap an underlying error using Go
// standard error wrapping.
type UnreachableError struct {
	Host    string
	wrapped error
}

func (e *UnreachableError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("device %s unreachable: %v", e.Host, e.wrapped)
	}
	return fmt.Sprintf("device %s unreachable", e.Host)
}

func (e *UnreachableError) Unwrap() error {
	return e.wrapped
}

func (e *UnreachableError) Attrs() []slog.Attr {
	return []slog.Attr{slog.String("host", e.Host)}
}

// ProtocolError indicates the device replied with an unexpected HTTP status
// or a body that could not be interpreted.
type ProtocolError struct {
	Host       string
	StatusCode int
	message    string
	wrapped    error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf(
			"device %s replied with HTTP %d", e.Host, e.StatusCode,
		)
	case e.wrapped != nil:
		return fmt.Sprintf("device %s: %s: %v", e.Host, e.message, e.wrapped)
	default:
		return fmt.Sprintf("device %s: %s", e.Host, e.message)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.wrapped
}

func (e *ProtocolError) Attrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("host", e.Host)}
	if e.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status_code", e.StatusCode))
	}
	return attrs
}

// WriteRejectedError indicates the device replied to a write but did not
// confirm it. The protocol reports success only with the exact string
// "true"; Response carries whatever the device sent instead, empty when the
// field was absent.
type WriteRejectedError struct {
	SerialNumber string
	Response     string
}

func (e *WriteRejectedError) Error() string {
	if e.Response == "" {
		return fmt.Sprintf(
			"device %s rejected write: no success confirmation",
			e.SerialNumber,
		)
	}
	return fmt.Sprintf(
		"device %s rejected write: success=%q", e.SerialNumber, e.Response,
	)
}

func (e *WriteRejectedError) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("serial_number", e.SerialNumber),
		slog.String("response", e.Response),
	}
}

// RegistrationError indicates the initial connectivity probe failed and the
// device was not added to the fleet. It wraps the probe failure.
type RegistrationError struct {
	Host         string
	SerialNumber string
	wrapped      error
}

// NewRegistrationError wraps a probe failure for the given device identity.
func NewRegistrationError(host, serialNumber string, err error) *RegistrationError {
	return &RegistrationError{Host: host, SerialNumber: serialNumber, wrapped: err}
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf(
		"registration of device %s at %s failed: %v",
		e.SerialNumber, e.Host, e.wrapped,
	)
}

func (e *RegistrationError) Unwrap() error {
	return e.wrapped
}

func (e *RegistrationError) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("serial_number", e.SerialNumber),
		slog.String("host", e.Host),
	}
}
