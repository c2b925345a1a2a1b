// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package fleet

import (
	"log/slog"
	"time"

	"github.com/IlyaSemenov/terneo-ha/device"
)

type (
	// CoordinatorOption represents a single option for a coordinator.
	CoordinatorOption interface{ coordinator(*CoordinatorOptions) }

	// CoordinatorOptions are the resolved options for a coordinator.
	CoordinatorOptions struct {
		// PollInterval is the cadence of scheduled poll cycles.
		PollInterval time.Duration

		// SessionOptions are passed to every device session the coordinator
		// creates.
		SessionOptions []device.SessionOption

		// Logger receives cycle and registration diagnostics.
		Logger *slog.Logger
	}

	// WithPollInterval sets the scheduled poll cadence.
	WithPollInterval time.Duration

	// WithSessionOptions forwards options to created device sessions.
	WithSessionOptions []device.SessionOption

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *CoordinatorOptions) Apply(
	opts []CoordinatorOption,
	rest ...CoordinatorOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.coordinator(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.coordinator(o)
		}
	}
}

func (o *CoordinatorOptions) coordinator(opt *CoordinatorOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithPollInterval) coordinator(opt *CoordinatorOptions) {
	opt.PollInterval = time.Duration(o)
}

func (o WithSessionOptions) coordinator(opt *CoordinatorOptions) {
	opt.SessionOptions = o
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return withLogger{logger}
}

func (o withLogger) coordinator(opt *CoordinatorOptions) {
	opt.Logger = o.Logger
}
