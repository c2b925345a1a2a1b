// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package exporter

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type (
	// ServerOption represents a single option for an exporter server.
	ServerOption interface{ server(*ServerOptions) }

	// ServerOptions are the resolved options for an exporter server.
	ServerOptions struct {
		// ListenAddress is the TCP address the HTTP server binds to.
		ListenAddress string

		// Registry receives the exporter's instruments. A fresh private
		// registry is created when unset, keeping the default registry's Go
		// runtime metrics out of the scrape.
		Registry *prometheus.Registry

		// Logger receives server diagnostics.
		Logger *slog.Logger
	}

	// WithListenAddress sets the TCP address the HTTP server binds to.
	WithListenAddress string

	// This option is not used directly; see WithRegistry below.
	withRegistry struct{ *prometheus.Registry }

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *ServerOptions) Apply(
	opts []ServerOption,
	rest ...ServerOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.server(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.server(o)
		}
	}
}

func (o *ServerOptions) server(opt *ServerOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithListenAddress) server(opt *ServerOptions) {
	opt.ListenAddress = string(o)
}

// WithRegistry registers the exporter's instruments on the provided registry
// instead of a private one.
func WithRegistry(registry *prometheus.Registry) ServerOption {
	return withRegistry{registry}
}

func (o withRegistry) server(opt *ServerOptions) {
	opt.Registry = o.Registry
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return withLogger{logger}
}

func (o withLogger) server(opt *ServerOptions) {
	opt.Logger = o.Logger
}
