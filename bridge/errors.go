// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import (
	"fmt"
	"log/slog"
)

// SettingsError indicates an invalid or missing connection setting.
type SettingsError struct {
	Setting string
	message string
	wrapped error
}

func (e *SettingsError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Setting, e.message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Setting, e.message)
}

func (e *SettingsError) Unwrap() error {
	return e.wrapped
}

func (e *SettingsError) Attrs() []slog.Attr {
	return []slog.Attr{slog.String("setting", e.Setting)}
}

// ConnectionError indicates the connection to the MQTT server could not be
// established or was refused. Fatal reports a CONNACK reason the server will
// keep returning, such as bad credentials, where retrying cannot help.
type ConnectionError struct {
	ReasonCode byte
	Fatal      bool
	message    string
	wrapped    error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.ReasonCode != 0:
		return fmt.Sprintf(
			"MQTT connection refused with reason code 0x%02x", e.ReasonCode,
		)
	case e.wrapped != nil:
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	default:
		return e.message
	}
}

func (e *ConnectionError) Unwrap() error {
	return e.wrapped
}

func (e *ConnectionError) Attrs() []slog.Attr {
	if e.ReasonCode != 0 {
		return []slog.Attr{slog.Int("reason_code", int(e.ReasonCode))}
	}
	return nil
}

// PublishError indicates the server rejected a published message.
type PublishError struct {
	Topic      string
	ReasonCode byte
	wrapped    error
}

func (e *PublishError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("publish to %s failed: %v", e.Topic, e.wrapped)
	}
	return fmt.Sprintf(
		"publish to %s rejected with reason code 0x%02x",
		e.Topic, e.ReasonCode,
	)
}

func (e *PublishError) Unwrap() error {
	return e.wrapped
}

func (e *PublishError) Attrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("topic", e.Topic)}
	if e.ReasonCode != 0 {
		attrs = append(attrs, slog.Int("reason_code", int(e.ReasonCode)))
	}
	return attrs
}

// fatalConnackReasonCodes are CONNACK rejections that will not resolve by
// retrying with the same configuration.
var fatalConnackReasonCodes = map[byte]struct{}{
	0x81: {}, // malformed packet
	0x82: {}, // protocol error
	0x84: {}, // unsupported protocol version
	0x85: {}, // client identifier not valid
	0x86: {}, // bad user name or password
	0x87: {}, // not authorized
	0x8a: {}, // banned
	0x8c: {}, // bad authentication method
	0x9c: {}, // use another server
	0x9d: {}, // server moved
}

func isFatalConnack(reasonCode byte) bool {
	_, ok := fatalConnackReasonCodes[reasonCode]
	return ok
}
