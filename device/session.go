// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// Package device provides the request/response session and the cached state
// for a single thermostat.
//
// A session speaks the device's local HTTP API: every command is a JSON
// object posted to /api.cgi, and every reply is a JSON object. Reads are
// keyed by a numeric command code; writes echo the device serial number and
// are confirmed only by the exact string "true" in the reply.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/IlyaSemenov/terneo-ha/internal/log"
	"github.com/IlyaSemenov/terneo-ha/internal/wallclock"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

const (
	// apiPath is the single endpoint the device serves commands on.
	apiPath = "/api.cgi"

	// defaultTimeout bounds each request/response exchange unless
	// overridden with WithTimeout.
	defaultTimeout = 10 * time.Second
)

// Command codes understood by the device.
const (
	cmdGetParameters = 1
	cmdGetSchedule   = 2
	cmdGetTelemetry  = 4
)

type (
	// Session owns the exchange with one physical device. It is safe for
	// concurrent use; the device itself serializes requests.
	Session struct {
		host         string
		serialNumber string

		client  *http.Client
		timeout time.Duration
		log     wireLogger
	}

	commandRequest struct {
		Cmd int `json:"cmd"`
	}

	setParametersRequest struct {
		SerialNumber string           `json:"sn"`
		Parameters   []wire.Parameter `json:"par"`
	}

	setScheduleRequest struct {
		SerialNumber string                   `json:"sn"`
		Schedule     map[string][]wire.Period `json:"tt"`
	}
)

// NewSession creates a session for the device with the given serial number
// reachable at host (an IP or DNS name, no scheme or path).
func NewSession(host, serialNumber string, opt ...SessionOption) *Session {
	var opts SessionOptions
	opts.Apply(opt)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		// Each session gets its own transport so that closing one device's
		// idle connections cannot touch another's.
		client = &http.Client{Transport: &http.Transport{}}
	}

	return &Session{
		host:         host,
		serialNumber: serialNumber,
		client:       client,
		timeout:      timeout,
		log:          wireLogger{log.Wrap(opts.Logger)},
	}
}

// Host returns the network address the session targets.
func (s *Session) Host() string {
	return s.host
}

// SerialNumber returns the serial number the session writes on behalf of.
func (s *Session) SerialNumber() string {
	return s.serialNumber
}

// Close releases idle connections held for this device. The session remains
// usable; the next request redials.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

func (s *Session) url() string {
	return "http://" + s.host + apiPath
}

// send posts one command object and decodes the JSON reply. Failures are
// classified into the session error types; a nil error guarantees a decoded
// object.
func (s *Session) send(
	ctx context.Context,
	body any,
) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProtocolError{
			Host:    s.host,
			message: "encoding request",
			wrapped: err,
		}
	}

	ctx, cancel := wallclock.Instance.WithTimeoutCause(
		ctx,
		s.timeout,
		&TimeoutError{Host: s.host, Timeout: s.timeout},
	)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.url(),
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, &UnreachableError{Host: s.host, wrapped: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Host: s.host, StatusCode: res.StatusCode}
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &ProtocolError{
			Host:    s.host,
			message: "malformed response body",
			wrapped: err,
		}
	}

	s.log.exchange(ctx, body, decoded)
	return decoded, nil
}

// classify maps a transport failure onto the session error types. A deadline
// set by this session surfaces through the context cause as a TimeoutError;
// anything else means the device was unreachable.
func (s *Session) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		var timedOut *TimeoutError
		if errors.As(context.Cause(ctx), &timedOut) {
			return timedOut
		}
	}
	return &UnreachableError{Host: s.host, wrapped: err}
}

// GetParameters fetches the device's full parameter table. Values that fail
// typed decoding are kept as raw strings and logged rather than failing the
// read.
func (s *Session) GetParameters(
	ctx context.Context,
) (wire.ParameterSet, error) {
	res, err := s.send(ctx, commandRequest{Cmd: cmdGetParameters})
	if err != nil {
		return nil, err
	}

	entries, ok := res["par"].([]any)
	if !ok {
		return nil, &ProtocolError{Host: s.host, message: `reply missing "par"`}
	}

	params, fallbacks := wire.DecodeParameters(entries)
	for _, id := range fallbacks {
		s.log.Log(ctx, slog.LevelWarn, "parameter kept as raw string",
			slog.String("host", s.host),
			slog.Int("parameter", int(id)),
		)
	}
	return params, nil
}

// GetTelemetry fetches the device's flat telemetry document. The serial
// number echoed in the reply is stripped; it is identity, not telemetry.
func (s *Session) GetTelemetry(
	ctx context.Context,
) (wire.TelemetryFrame, error) {
	res, err := s.send(ctx, commandRequest{Cmd: cmdGetTelemetry})
	if err != nil {
		return nil, err
	}
	delete(res, "sn")
	return wire.DecodeTelemetry(res), nil
}

// GetSchedule fetches the device's weekly schedule.
func (s *Session) GetSchedule(ctx context.Context) (wire.ScheduleMap, error) {
	res, err := s.send(ctx, commandRequest{Cmd: cmdGetSchedule})
	if err != nil {
		return nil, err
	}

	days, ok := res["tt"].(map[string]any)
	if !ok {
		return nil, &ProtocolError{Host: s.host, message: `reply missing "tt"`}
	}
	return wire.DecodeSchedule(days), nil
}

// SetParameters writes the given parameters in a single request, which the
// device applies as one batch. An empty set is a no-op. A nil error means
// the device confirmed the write.
func (s *Session) SetParameters(
	ctx context.Context,
	params wire.ParameterSet,
) error {
	if len(params) == 0 {
		return nil
	}

	res, err := s.send(ctx, setParametersRequest{
		SerialNumber: s.serialNumber,
		Parameters:   params.Encode(),
	})
	if err != nil {
		return err
	}
	return s.confirm(res)
}

// SetSchedule replaces the schedule for a single day (0 is Monday). Each day
// is its own transaction; writing several days means several calls, and a
// failure leaves the already-written days in place.
func (s *Session) SetSchedule(
	ctx context.Context,
	day int,
	periods []wire.Period,
) error {
	res, err := s.send(ctx, setScheduleRequest{
		SerialNumber: s.serialNumber,
		Schedule:     map[string][]wire.Period{strconv.Itoa(day): periods},
	})
	if err != nil {
		return err
	}
	return s.confirm(res)
}

// confirm checks a write reply. The device signals success only with the
// exact string "true"; any other value, shape, or absence is a rejection.
func (s *Session) confirm(res map[string]any) error {
	if success, ok := res["success"].(string); ok && success == "true" {
		return nil
	}

	var response string
	if v, ok := res["success"]; ok {
		response = fmt.Sprint(v)
	}
	return &WriteRejectedError{
		SerialNumber: s.serialNumber,
		Response:     response,
	}
}
