// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package device

import (
	"log/slog"
	"net/http"
	"time"
)

type (
	// SessionOption represents a single option for a device session.
	SessionOption interface{ session(*SessionOptions) }

	// SessionOptions are the resolved options for a device session.
	SessionOptions struct {
		// Timeout bounds each request/response exchange.
		Timeout time.Duration

		// HTTPClient overrides the transport used to reach the device.
		HTTPClient *http.Client

		// Logger receives wire diagnostics and decode warnings.
		Logger *slog.Logger
	}

	// WithTimeout sets the per-request deadline.
	WithTimeout time.Duration

	// This option is not used directly; see WithHTTPClient below.
	withHTTPClient struct{ *http.Client }

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *SessionOptions) Apply(
	opts []SessionOption,
	rest ...SessionOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.session(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.session(o)
		}
	}
}

func (o *SessionOptions) session(opt *SessionOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithTimeout) session(opt *SessionOptions) {
	opt.Timeout = time.Duration(o)
}

// WithHTTPClient provides a custom HTTP client for device requests. Sessions
// sharing a client share its connection pool.
func WithHTTPClient(client *http.Client) SessionOption {
	return withHTTPClient{client}
}

func (o withHTTPClient) session(opt *SessionOptions) {
	opt.HTTPClient = o.Client
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return withLogger{logger}
}

func (o withLogger) session(opt *SessionOptions) {
	opt.Logger = o.Logger
}
