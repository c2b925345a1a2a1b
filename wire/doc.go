// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// Package wire implements the Terneo device protocol codec: the typed
// parameter encoding carried over JSON, the flat telemetry document, the
// weekly schedule document, and the device's away-time epoch.
//
// The device exchanges all values as strings tagged with a small scalar type
// system (see WireType). Reads declare the type inline per parameter; writes
// rely on the static ParameterID table, so both sides of the codec consult
// the same mapping.
package wire
