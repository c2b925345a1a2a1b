// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package discovery

import "log/slog"

type (
	// ListenerOption represents a single option for a listener.
	ListenerOption interface{ listener(*ListenerOptions) }

	// ListenerOptions are the resolved options for a listener.
	ListenerOptions struct {
		// Port overrides the announcement port.
		Port int

		// Logger receives discovery diagnostics.
		Logger *slog.Logger
	}

	// WithPort sets the announcement port to listen on.
	WithPort int

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *ListenerOptions) Apply(
	opts []ListenerOption,
	rest ...ListenerOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.listener(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.listener(o)
		}
	}
}

func (o *ListenerOptions) listener(opt *ListenerOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithPort) listener(opt *ListenerOptions) {
	opt.Port = int(o)
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) ListenerOption {
	return withLogger{logger}
}

func (o withLogger) listener(opt *ListenerOptions) {
	opt.Logger = o.Logger
}
