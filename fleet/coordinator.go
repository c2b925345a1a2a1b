// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// Package fleet owns the registered device set and the periodic poll cycle
// across it.
//
// The coordinator fans out one fetch per device each cycle, waits for all of
// them, applies the results to each device's state, and only then publishes
// a consolidated snapshot. One device failing never aborts the others; a
// failed device simply contributes an unavailable entry until it recovers.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/IlyaSemenov/terneo-ha/device"
	"github.com/IlyaSemenov/terneo-ha/internal/container"
	"github.com/IlyaSemenov/terneo-ha/internal/log"
	"github.com/IlyaSemenov/terneo-ha/internal/wallclock"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

// defaultPollInterval is the scheduled cycle cadence unless overridden with
// WithPollInterval.
const defaultPollInterval = 30 * time.Second

// ErrNotRegistered is returned by device-addressed operations when the
// serial number is not in the fleet.
var ErrNotRegistered = errors.New("device is not registered")

type (
	// Coordinator owns the fleet registry and the poll cycle. Construct it
	// with NewCoordinator; the zero value is not usable.
	Coordinator struct {
		devices  container.SyncMap[string, *member]
		handlers container.SyncMap[uint64, SnapshotHandler]

		nextHandler    atomic.Uint64
		pollInterval   time.Duration
		sessionOptions []device.SessionOption
		log            log.Logger

		// mu serializes registry mutations; poll cycles iterate a
		// point-in-time copy and take no part in it.
		mu sync.Mutex
	}

	// member pairs a device's session with its cached state. The session is
	// owned by exactly this entry for its lifetime in the fleet.
	member struct {
		session *device.Session
		state   *device.State
	}
)

// NewCoordinator creates a coordinator with no registered devices.
func NewCoordinator(opt ...CoordinatorOption) *Coordinator {
	var opts CoordinatorOptions
	opts.Apply(opt)

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	sessionOptions := opts.SessionOptions
	if opts.Logger != nil {
		sessionOptions = append(
			append([]device.SessionOption{}, sessionOptions...),
			device.WithLogger(opts.Logger),
		)
	}

	return &Coordinator{
		devices:        container.NewSyncMap[string, *member](),
		handlers:       container.NewSyncMap[uint64, SnapshotHandler](),
		pollInterval:   pollInterval,
		sessionOptions: sessionOptions,
		log:            log.Wrap(opts.Logger),
	}
}

// AddDevice registers the device at host under the given serial number. The
// device joins the fleet only after one successful parameter fetch and one
// successful telemetry fetch; a probe failure surfaces as a
// RegistrationError and leaves the fleet unchanged.
//
// Re-adding a registered serial number with the same host returns the
// existing state. A different host re-probes and, on success, replaces the
// old session, which covers devices that moved address on the LAN.
func (c *Coordinator) AddDevice(
	ctx context.Context,
	host string,
	serialNumber string,
) (*device.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.devices.Load(serialNumber); ok {
		if existing.state.Host() == host {
			return existing.state, nil
		}
		c.log.Log(ctx, slog.LevelInfo, "device changed address",
			slog.String("serial_number", serialNumber),
			slog.String("old_host", existing.state.Host()),
			slog.String("new_host", host),
		)
	}

	session := device.NewSession(host, serialNumber, c.sessionOptions...)
	state := device.NewState(host, serialNumber)

	params, err := session.GetParameters(ctx)
	if err == nil {
		var frame wire.TelemetryFrame
		if frame, err = session.GetTelemetry(ctx); err == nil {
			state.UpdateParameters(params)
			state.UpdateTelemetry(frame)
		}
	}
	if err != nil {
		session.Close()
		return nil, device.NewRegistrationError(host, serialNumber, err)
	}

	if old, ok := c.devices.Load(serialNumber); ok {
		old.session.Close()
	}
	c.devices.Store(serialNumber, &member{session: session, state: state})

	c.log.Log(ctx, slog.LevelInfo, "device registered",
		slog.String("serial_number", serialNumber),
		slog.String("host", host),
	)
	return state, nil
}

// RemoveDevice drops the device from the fleet and closes its session. It
// reports whether the serial number was registered.
func (c *Coordinator) RemoveDevice(serialNumber string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.devices.LoadAndDelete(serialNumber)
	if !ok {
		return false
	}
	m.session.Close()
	return true
}

// Device returns the state of a registered device.
func (c *Coordinator) Device(serialNumber string) (*device.State, bool) {
	m, ok := c.devices.Load(serialNumber)
	if !ok {
		return nil, false
	}
	return m.state, true
}

// Devices returns the states of all registered devices, ordered by serial
// number.
func (c *Coordinator) Devices() []*device.State {
	members := c.devices.Values()
	states := make([]*device.State, 0, len(members))
	for _, m := range members {
		states = append(states, m.state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].SerialNumber() < states[j].SerialNumber()
	})
	return states
}

// OnSnapshot registers a handler invoked after every completed poll cycle.
// The returned function removes the handler.
func (c *Coordinator) OnSnapshot(handler SnapshotHandler) func() {
	id := c.nextHandler.Add(1)
	c.handlers.Store(id, handler)
	return sync.OnceFunc(func() { c.handlers.Delete(id) })
}

// Run polls the fleet on the configured interval until ctx is done, then
// closes every device session. An immediate first cycle runs before the
// interval starts so consumers are not blind for a full period.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Log(ctx, slog.LevelInfo, "fleet coordinator started",
		slog.Duration("poll_interval", c.pollInterval),
	)

	c.Poll(ctx)

	ticker := wallclock.Instance.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			c.log.Log(ctx, slog.LevelInfo, "fleet coordinator stopped")
			return ctx.Err()
		case <-ticker.C():
			c.Poll(ctx)
		}
	}
}

// Close closes every registered device session. In-flight requests fail
// through transport teardown; there is no cooperative per-request
// cancellation.
func (c *Coordinator) Close() {
	for _, m := range c.devices.Values() {
		m.session.Close()
	}
}

// Poll runs one cycle immediately: fan out a fetch per device, wait for all
// of them, then publish the consolidated snapshot. It may run concurrently
// with scheduled cycles; both converge on the same device endpoints.
func (c *Coordinator) Poll(ctx context.Context) Snapshot {
	snap := Snapshot{
		Cycle:   uuid.NewString(),
		Taken:   wallclock.Instance.Now(),
		Devices: make(map[string]Entry),
	}
	members := c.devices.Values()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, m := range members {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := c.pollDevice(ctx, snap.Cycle, m)
			mu.Lock()
			snap.Devices[entry.SerialNumber] = entry
			mu.Unlock()
		}()
	}
	wg.Wait()

	c.log.Log(ctx, slog.LevelDebug, "poll cycle complete",
		slog.String("cycle", snap.Cycle),
		slog.Int("devices", len(members)),
		slog.Int("available", len(snap.Available())),
	)

	for _, handler := range c.handlers.Values() {
		handler(snap)
	}
	return snap
}

// pollDevice fetches one device's cycle contribution. Parameters are fetched
// only when none are cached yet; telemetry is fetched every cycle.
func (c *Coordinator) pollDevice(
	ctx context.Context,
	cycle string,
	m *member,
) Entry {
	entry := Entry{
		Host:         m.state.Host(),
		SerialNumber: m.state.SerialNumber(),
	}

	if m.state.Parameters() == nil {
		params, err := m.session.GetParameters(ctx)
		if err != nil {
			return c.pollFailed(ctx, cycle, m, err)
		}
		m.state.UpdateParameters(params)
	}

	frame, err := m.session.GetTelemetry(ctx)
	if err != nil {
		return c.pollFailed(ctx, cycle, m, err)
	}
	m.state.UpdateTelemetry(frame)

	entry.Available = true
	entry.Telemetry = frame
	entry.Parameters = m.state.Parameters()
	return entry
}

func (c *Coordinator) pollFailed(
	ctx context.Context,
	cycle string,
	m *member,
	err error,
) Entry {
	m.state.MarkUnreachable()
	c.log.Log(ctx, slog.LevelWarn, "device poll failed",
		append(errorAttrs(err), slog.String("cycle", cycle))...,
	)
	return Entry{
		Host:         m.state.Host(),
		SerialNumber: m.state.SerialNumber(),
	}
}

// RefreshDevice re-reads one device's parameters and telemetry immediately,
// outside the scheduled cycle.
func (c *Coordinator) RefreshDevice(
	ctx context.Context,
	serialNumber string,
) error {
	m, ok := c.devices.Load(serialNumber)
	if !ok {
		return fmt.Errorf("%s: %w", serialNumber, ErrNotRegistered)
	}
	return c.reconcile(ctx, m)
}

// SetDeviceParameters writes a parameter batch to the device and, on
// success, immediately re-reads its state so the cache reflects what the
// device actually applied. The cache is never patched optimistically from
// the write itself. A nil error means the device confirmed the write; the
// coordinator does not retry failures.
func (c *Coordinator) SetDeviceParameters(
	ctx context.Context,
	serialNumber string,
	params wire.ParameterSet,
) error {
	m, ok := c.devices.Load(serialNumber)
	if !ok {
		return fmt.Errorf("%s: %w", serialNumber, ErrNotRegistered)
	}

	if err := m.session.SetParameters(ctx, params); err != nil {
		return err
	}

	if err := c.reconcile(ctx, m); err != nil {
		// The device confirmed the write; a refresh failure only delays
		// when the cache catches up.
		c.log.Log(ctx, slog.LevelWarn, "post-write refresh failed",
			errorAttrs(err)...)
	}
	return nil
}

// SetDeviceSchedule replaces one day's schedule (0 is Monday) and re-reads
// the schedule document on success. Multi-day updates are issued per day;
// a mid-sequence failure leaves prior days applied.
func (c *Coordinator) SetDeviceSchedule(
	ctx context.Context,
	serialNumber string,
	day int,
	periods []wire.Period,
) error {
	if day < 0 || day > 6 {
		return fmt.Errorf("schedule day %d out of range 0..6", day)
	}

	m, ok := c.devices.Load(serialNumber)
	if !ok {
		return fmt.Errorf("%s: %w", serialNumber, ErrNotRegistered)
	}

	if err := m.session.SetSchedule(ctx, day, periods); err != nil {
		return err
	}

	schedule, err := m.session.GetSchedule(ctx)
	if err != nil {
		c.log.Log(ctx, slog.LevelWarn, "post-write refresh failed",
			errorAttrs(err)...)
		return nil
	}
	m.state.UpdateSchedule(schedule)
	return nil
}

// reconcile re-reads parameters and telemetry into the device state.
func (c *Coordinator) reconcile(ctx context.Context, m *member) error {
	params, err := m.session.GetParameters(ctx)
	if err != nil {
		m.state.MarkUnreachable()
		return err
	}
	frame, err := m.session.GetTelemetry(ctx)
	if err != nil {
		m.state.MarkUnreachable()
		return err
	}

	m.state.UpdateParameters(params)
	m.state.UpdateTelemetry(frame)
	return nil
}

func errorAttrs(err error) []slog.Attr {
	var attrs log.Attrs
	if errors.As(err, &attrs) {
		return append(attrs.Attrs(), slog.String("error", err.Error()))
	}
	return []slog.Attr{slog.String("error", err.Error())}
}
