// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import (
	"log/slog"

	"github.com/IlyaSemenov/terneo-ha/internal/retry"
)

type (
	// BridgeOption represents a single option for a bridge.
	BridgeOption interface{ bridge(*BridgeOptions) }

	// BridgeOptions are the resolved options for a bridge.
	BridgeOptions struct {
		// Connection overrides the connection provider derived from the
		// settings.
		Connection ConnectionProvider

		// RetryPolicy governs reconnection attempts.
		RetryPolicy retry.Policy

		// Logger receives connection and command diagnostics.
		Logger *slog.Logger
	}

	// WithConnection sets the connection provider.
	WithConnection ConnectionProvider

	// This option is not used directly; see WithRetryPolicy below.
	withRetryPolicy struct{ retry.Policy }

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *BridgeOptions) Apply(
	opts []BridgeOption,
	rest ...BridgeOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.bridge(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.bridge(o)
		}
	}
}

func (o *BridgeOptions) bridge(opt *BridgeOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithConnection) bridge(opt *BridgeOptions) {
	opt.Connection = ConnectionProvider(o)
}

// WithRetryPolicy sets the retry policy for reconnection.
func WithRetryPolicy(policy retry.Policy) BridgeOption {
	return withRetryPolicy{policy}
}

func (o withRetryPolicy) bridge(opt *BridgeOptions) {
	opt.RetryPolicy = o.Policy
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) BridgeOption {
	return withLogger{logger}
}

func (o withLogger) bridge(opt *BridgeOptions) {
	opt.Logger = o.Logger
}
