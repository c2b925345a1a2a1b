// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session/state"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"github.com/IlyaSemenov/terneo-ha/climate"
	"github.com/IlyaSemenov/terneo-ha/device"
	"github.com/IlyaSemenov/terneo-ha/fleet"
	"github.com/IlyaSemenov/terneo-ha/internal/retry"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

const (
	brokerUsername = "iryna"
	brokerPassword = "tangerine"

	awaitTimeout = 10 * time.Second
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startBrokerOn runs an in-process MQTT server on the given local port.
func startBrokerOn(t *testing.T, port int) *mochi.Server {
	t.Helper()

	server := mochi.New(nil)
	err := server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			// Auth disallows all by default.
			Auth: auth.AuthRules{{
				Username: auth.RString(brokerUsername),
				Password: auth.RString(brokerPassword),
				Allow:    true,
			}},
		},
	})
	require.NoError(t, err)

	cfg := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf("localhost:%d", port),
	})
	require.NoError(t, server.AddListener(cfg))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return server
}

func startBroker(t *testing.T) int {
	t.Helper()
	port := freePort(t)
	startBrokerOn(t, port)
	return port
}

type (
	recordedWrite struct {
		serialNumber string
		params       wire.ParameterSet
	}

	recordedSchedule struct {
		serialNumber string
		day          int
		periods      []wire.Period
	}

	// fakeFleet is a Fleet double with preloaded device states. Writes are
	// recorded instead of reaching a device, and snapshots are emitted on
	// demand.
	fakeFleet struct {
		mu        sync.Mutex
		devices   map[string]*device.State
		handlers  []fleet.SnapshotHandler
		writes    []recordedWrite
		schedules []recordedSchedule
	}
)

func newFakeFleet(states ...*device.State) *fakeFleet {
	f := &fakeFleet{devices: make(map[string]*device.State)}
	for _, s := range states {
		f.devices[s.SerialNumber()] = s
	}
	return f
}

func (f *fakeFleet) OnSnapshot(handler fleet.SnapshotHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return func() {}
}

func (f *fakeFleet) emit(snap fleet.Snapshot) {
	f.mu.Lock()
	handlers := append([]fleet.SnapshotHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(snap)
	}
}

func (f *fakeFleet) Devices() []*device.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := make([]*device.State, 0, len(f.devices))
	for _, s := range f.devices {
		states = append(states, s)
	}
	return states
}

func (f *fakeFleet) Device(serialNumber string) (*device.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.devices[serialNumber]
	return s, ok
}

func (f *fakeFleet) SetDeviceParameters(
	_ context.Context,
	serialNumber string,
	params wire.ParameterSet,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[serialNumber]; !ok {
		return fmt.Errorf("%s: %w", serialNumber, fleet.ErrNotRegistered)
	}
	f.writes = append(f.writes, recordedWrite{serialNumber, params})
	return nil
}

func (f *fakeFleet) SetDeviceSchedule(
	_ context.Context,
	serialNumber string,
	day int,
	periods []wire.Period,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[serialNumber]; !ok {
		return fmt.Errorf("%s: %w", serialNumber, fleet.ErrNotRegistered)
	}
	f.schedules = append(f.schedules, recordedSchedule{serialNumber, day, periods})
	return nil
}

func (f *fakeFleet) takeWrites() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	writes := f.writes
	f.writes = nil
	return writes
}

func (f *fakeFleet) takeSchedules() []recordedSchedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedules := f.schedules
	f.schedules = nil
	return schedules
}

// testDeviceState builds a device state as it would look after a successful
// poll: manual management, floor control, heating towards 25 degrees.
func testDeviceState(serialNumber string) *device.State {
	s := device.NewState("192.0.2.10", serialNumber)
	s.UpdateParameters(wire.ParameterSet{
		wire.ParamSetTemperature: int64(22),
		wire.ParamLowerLimit:     int64(5),
		wire.ParamUpperLimit:     int64(45),
	})
	s.UpdateTelemetry(wire.DecodeTelemetry(map[string]any{
		"t.1": 360.0, // floor 22.5
		"t.2": 368.0, // air 23.0
		"t.5": 400.0, // setpoint 25.0
		"f.0": 1.0,   // heating
		"m.0": 0.0,   // floor control
		"m.1": 3.0,   // manual management
	}))
	return s
}

func setpointTelemetry(celsius float64) wire.TelemetryFrame {
	return wire.DecodeTelemetry(map[string]any{
		"t.1": 360.0,
		"t.2": 368.0,
		"t.5": celsius * 16,
		"f.0": 1.0,
		"m.0": 0.0,
		"m.1": 3.0,
	})
}

// observer is a plain MQTT client that records the latest payload per topic.
type observer struct {
	client *paho.Client

	mu  sync.Mutex
	got map[string][]byte
}

func newObserver(t *testing.T, port int, filter string) *observer {
	t.Helper()

	conn, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", port))
	require.NoError(t, err)

	o := &observer{got: make(map[string][]byte)}
	o.client = paho.NewClient(paho.ClientConfig{
		ClientID: "observer",
		Conn:     conn,
		Session:  state.NewInMemory(),
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				o.record(pr.Packet)
				return true, nil
			},
		},
	})

	connack, err := o.client.Connect(context.Background(), &paho.Connect{
		ClientID:     "observer",
		CleanStart:   true,
		KeepAlive:    30,
		Username:     brokerUsername,
		UsernameFlag: true,
		Password:     []byte(brokerPassword),
		PasswordFlag: true,
	})
	require.NoError(t, err)
	require.Less(t, connack.ReasonCode, byte(0x80))
	t.Cleanup(func() { _ = o.client.Disconnect(&paho.Disconnect{}) })

	_, err = o.client.Subscribe(context.Background(), &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 1}},
	})
	require.NoError(t, err)

	return o
}

func (o *observer) record(p *paho.Publish) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got[p.Topic] = p.Payload
}

func (o *observer) publish(t *testing.T, topic string, payload string) {
	t.Helper()
	_, err := o.client.Publish(context.Background(), &paho.Publish{
		QoS:     1,
		Topic:   topic,
		Payload: []byte(payload),
	})
	require.NoError(t, err)
}

// await polls for a payload on the topic accepted by want (nil accepts any).
func (o *observer) await(
	t *testing.T,
	topic string,
	want func([]byte) bool,
) []byte {
	t.Helper()
	deadline := time.Now().Add(awaitTimeout)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		payload, ok := o.got[topic]
		o.mu.Unlock()
		if ok && (want == nil || want(payload)) {
			return payload
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", topic)
	return nil
}

func await(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(awaitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func payloadIs(want string) func([]byte) bool {
	return func(payload []byte) bool { return string(payload) == want }
}

func summaryWithTarget(t *testing.T, celsius float64) func([]byte) bool {
	t.Helper()
	return func(payload []byte) bool {
		var summary climate.Summary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return false
		}
		return summary.TargetTemperature != nil &&
			*summary.TargetTemperature == celsius
	}
}

func testSettings(port int) *Settings {
	return &Settings{
		Hostname:    "localhost",
		TCPPort:     port,
		ClientID:    "bridge-under-test",
		Username:    brokerUsername,
		Password:    []byte(brokerPassword),
		TopicPrefix: "terneo-test",
	}
}

func fastRetry() BridgeOption {
	return WithRetryPolicy(&retry.ExponentialBackoff{
		MinInterval: 10 * time.Millisecond,
		MaxInterval: 50 * time.Millisecond,
	})
}

func TestBridgeWithBroker(t *testing.T) {
	port := startBroker(t)

	deviceState := testDeviceState("100001")
	f := newFakeFleet(deviceState)

	b, err := NewBridge(f, testSettings(port), fastRetry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	obs := newObserver(t, port, "terneo-test/#")

	t.Run("Online", func(t *testing.T) {
		obs.await(t, "terneo-test/bridge/state", payloadIs("online"))
	})

	t.Run("PublishesStateOnConnect", func(t *testing.T) {
		payload := obs.await(t, "terneo-test/100001/state",
			summaryWithTarget(t, 25.0))

		var summary climate.Summary
		require.NoError(t, json.Unmarshal(payload, &summary))
		require.Equal(t, "100001", summary.SerialNumber)
		require.True(t, summary.Available)
		require.Equal(t, climate.PresetManual, summary.Preset)
		require.Equal(t, climate.ActionHeating, summary.Action)

		obs.await(t, "terneo-test/100001/availability", payloadIs("online"))
	})

	t.Run("PublishesStateOnCycle", func(t *testing.T) {
		deviceState.UpdateTelemetry(setpointTelemetry(26.0))
		f.emit(fleet.Snapshot{
			Cycle: "cycle-1",
			Taken: time.Now(),
			Devices: map[string]fleet.Entry{
				"100001": {SerialNumber: "100001", Available: true},
			},
		})

		obs.await(t, "terneo-test/100001/state", summaryWithTarget(t, 26.0))
	})

	t.Run("TemperatureCommand", func(t *testing.T) {
		obs.publish(t, "terneo-test/100001/set/temperature", "24")

		var writes []recordedWrite
		await(t, "temperature write", func() bool {
			writes = append(writes, f.takeWrites()...)
			return len(writes) > 0
		})
		require.Equal(t, "100001", writes[0].serialNumber)
		// Manual management with floor control routes the setpoint to the
		// manual floor temperature parameter.
		require.Equal(t, wire.ParameterSet{
			wire.ParamManualFloorTemp: 24,
		}, writes[0].params)
	})

	t.Run("PresetCommand", func(t *testing.T) {
		obs.publish(t, "terneo-test/100001/set/preset", "schedule")

		var writes []recordedWrite
		await(t, "preset write", func() bool {
			writes = append(writes, f.takeWrites()...)
			return len(writes) > 0
		})
		require.Equal(t, "100001", writes[0].serialNumber)
		require.Equal(t, wire.ParameterSet{
			wire.ParamMode: int(wire.ModeSchedule),
		}, writes[0].params)
	})

	t.Run("PowerCommand", func(t *testing.T) {
		obs.publish(t, "terneo-test/100001/set/power", "off")

		var writes []recordedWrite
		await(t, "power write", func() bool {
			writes = append(writes, f.takeWrites()...)
			return len(writes) > 0
		})
		require.Equal(t, wire.ParameterSet{
			wire.ParamPowerOff: true,
		}, writes[0].params)
	})

	t.Run("ScheduleCommand", func(t *testing.T) {
		obs.publish(t, "terneo-test/100001/set/schedule/2",
			"[[360,220],[1080,180]]")

		var schedules []recordedSchedule
		await(t, "schedule write", func() bool {
			schedules = append(schedules, f.takeSchedules()...)
			return len(schedules) > 0
		})
		require.Equal(t, recordedSchedule{
			serialNumber: "100001",
			day:          2,
			periods: []wire.Period{
				{Minute: 360, Tenths: 220},
				{Minute: 1080, Tenths: 180},
			},
		}, schedules[0])
	})

	t.Run("ToggleCommand", func(t *testing.T) {
		obs.publish(t, "terneo-test/100001/set/child_lock", "on")

		var writes []recordedWrite
		await(t, "child lock write", func() bool {
			writes = append(writes, f.takeWrites()...)
			return len(writes) > 0
		})
		require.Equal(t, "100001", writes[0].serialNumber)
		require.Equal(t, wire.ParameterSet{
			wire.ParamChildrenLock: true,
		}, writes[0].params)
	})

	t.Run("NumberCommand", func(t *testing.T) {
		obs.publish(t, "terneo-test/100001/set/hysteresis", "3.5")

		var writes []recordedWrite
		await(t, "hysteresis write", func() bool {
			writes = append(writes, f.takeWrites()...)
			return len(writes) > 0
		})
		// Hysteresis travels in tenths of a degree.
		require.Equal(t, wire.ParameterSet{
			wire.ParamHysteresis: 35,
		}, writes[0].params)
	})

	t.Run("IgnoresUnknownDevice", func(t *testing.T) {
		obs.publish(t, "terneo-test/999999/set/power", "off")
		obs.publish(t, "terneo-test/100001/set/power", "on")

		var writes []recordedWrite
		await(t, "power write", func() bool {
			writes = append(writes, f.takeWrites()...)
			return len(writes) > 0
		})
		require.Len(t, writes, 1)
		require.Equal(t, "100001", writes[0].serialNumber)
		require.Equal(t, wire.ParameterSet{
			wire.ParamPowerOff: false,
		}, writes[0].params)
	})

	t.Run("OfflineOnShutdown", func(t *testing.T) {
		cancel()

		select {
		case err := <-runErr:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(awaitTimeout):
			t.Fatal("timed out waiting for shutdown")
		}

		obs.await(t, "terneo-test/bridge/state", payloadIs("offline"))
	})
}

func TestBridgeBadCredentials(t *testing.T) {
	port := startBroker(t)

	settings := testSettings(port)
	settings.Password = []byte("wrong")

	b, err := NewBridge(newFakeFleet(), settings, fastRetry())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()

	var connErr *ConnectionError
	require.ErrorAs(t, b.Run(ctx), &connErr)
	require.True(t, connErr.Fatal)
	require.Equal(t, byte(0x86), connErr.ReasonCode)
}

func TestBridgeConnectsWhenBrokerAppears(t *testing.T) {
	port := freePort(t)

	f := newFakeFleet(testDeviceState("100001"))
	b, err := NewBridge(f, testSettings(port), fastRetry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	// Let the bridge accumulate a few refused dials before the server shows
	// up.
	time.Sleep(50 * time.Millisecond)
	startBrokerOn(t, port)

	obs := newObserver(t, port, "terneo-test/#")
	obs.await(t, "terneo-test/bridge/state", payloadIs("online"))
}

// relay is a TCP forwarder in front of the broker so a test can sever live
// connections and watch the bridge re-establish them.
type relay struct {
	listener net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func newRelay(t *testing.T, target string) *relay {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	r := &relay{listener: l}
	go r.serve(target)
	t.Cleanup(func() { _ = l.Close() })
	return r
}

func (r *relay) port() int {
	return r.listener.Addr().(*net.TCPAddr).Port
}

func (r *relay) serve(target string) {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		upstream, err := net.Dial("tcp", target)
		if err != nil {
			_ = conn.Close()
			continue
		}

		r.mu.Lock()
		r.conns = append(r.conns, conn, upstream)
		r.mu.Unlock()

		go func() { _, _ = io.Copy(upstream, conn) }()
		go func() { _, _ = io.Copy(conn, upstream) }()
	}
}

func (r *relay) drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		_ = conn.Close()
	}
	r.conns = nil
}

func TestBridgeReconnects(t *testing.T) {
	brokerPort := startBroker(t)
	r := newRelay(t, fmt.Sprintf("localhost:%d", brokerPort))

	deviceState := testDeviceState("100001")
	f := newFakeFleet(deviceState)

	b, err := NewBridge(f, testSettings(r.port()), fastRetry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	// The observer connects to the broker directly so severing the relay only
	// affects the bridge.
	obs := newObserver(t, brokerPort, "terneo-test/#")
	obs.await(t, "terneo-test/bridge/state", payloadIs("online"))

	// The new setpoint can only reach the broker through the post-reconnect
	// state publication.
	deviceState.UpdateTelemetry(setpointTelemetry(28.0))
	r.drop()

	obs.await(t, "terneo-test/100001/state", summaryWithTarget(t, 28.0))
}
