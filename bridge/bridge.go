// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// Package bridge publishes the fleet's state to an MQTT server and accepts
// thermostat commands from it.
//
// Every completed poll cycle becomes a set of retained per-device
// publications, so late subscribers always see the latest known state.
// Commands arrive on set topics under the same prefix and are translated to
// device parameter writes through the fleet coordinator, which reconciles the
// device state immediately after a confirmed write.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session"
	"github.com/eclipse/paho.golang/paho/session/state"

	"github.com/IlyaSemenov/terneo-ha/climate"
	"github.com/IlyaSemenov/terneo-ha/device"
	"github.com/IlyaSemenov/terneo-ha/fleet"
	"github.com/IlyaSemenov/terneo-ha/internal/log"
	"github.com/IlyaSemenov/terneo-ha/internal/retry"
	"github.com/IlyaSemenov/terneo-ha/internal/wallclock"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

// shutdownGrace bounds the offline publication and DISCONNECT exchange during
// an orderly shutdown.
const shutdownGrace = 2 * time.Second

type (
	// Fleet is the coordinator surface the bridge consumes.
	// *fleet.Coordinator satisfies it.
	Fleet interface {
		OnSnapshot(fleet.SnapshotHandler) func()
		Devices() []*device.State
		Device(serialNumber string) (*device.State, bool)
		SetDeviceParameters(
			ctx context.Context,
			serialNumber string,
			params wire.ParameterSet,
		) error
		SetDeviceSchedule(
			ctx context.Context,
			serialNumber string,
			day int,
			periods []wire.Period,
		) error
	}

	// Bridge connects one fleet to one MQTT server. Construct it with
	// NewBridge and drive it with Run.
	Bridge struct {
		fleet    Fleet
		conn     ConnectionProvider
		settings *Settings
		clientID string
		prefix   string
		policy   retry.Policy
		log      log.Logger

		// session preserves QoS state across reconnects within one bridge
		// lifetime.
		session session.SessionManager

		// connCount distinguishes the initial connect (which honors the
		// configured CleanStart) from reconnects (which always resume).
		connCount int

		mu     sync.RWMutex
		client *paho.Client
	}
)

// NewBridge creates a bridge between the fleet and the MQTT server described
// by the settings.
func NewBridge(f Fleet, settings *Settings, opt ...BridgeOption) (*Bridge, error) {
	var opts BridgeOptions
	opts.Apply(opt)

	if settings == nil {
		settings = &Settings{}
	}

	conn := opts.Connection
	if conn == nil {
		var err error
		if conn, err = settings.Connection(); err != nil {
			return nil, err
		}
	}

	policy := opts.RetryPolicy
	if policy == nil {
		policy = &retry.ExponentialBackoff{Logger: opts.Logger}
	}

	return &Bridge{
		fleet:    f,
		conn:     conn,
		settings: settings,
		clientID: settings.effectiveClientID(),
		prefix:   settings.effectiveTopicPrefix(),
		policy:   policy,
		session:  state.NewInMemory(),
		log:      log.Wrap(opts.Logger),
	}, nil
}

// ClientID returns the MQTT client id the bridge connects with.
func (b *Bridge) ClientID() string {
	return b.clientID
}

// Run connects to the server and serves the bridge until ctx is done:
// snapshots out, commands in. Lost connections are re-established with
// backoff; a CONNACK rejection that retrying cannot fix (bad credentials,
// banned client) ends the run with a ConnectionError.
func (b *Bridge) Run(ctx context.Context) error {
	snaps := make(chan fleet.Snapshot, 1)
	remove := b.fleet.OnSnapshot(func(snap fleet.Snapshot) {
		// Publications carry full retained state, so when the bridge is
		// behind, a newer cycle fully supersedes a dropped one.
		select {
		case snaps <- snap:
		default:
		}
	})
	defer remove()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snaps:
				b.publishCycle(ctx, snap)
			}
		}
	}()

	b.log.Log(ctx, slog.LevelInfo, "mqtt bridge starting",
		slog.String("client_id", b.clientID),
		slog.String("topic_prefix", b.prefix),
	)

	for {
		down, err := b.connect(ctx)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			b.shutdown()
			b.log.Log(ctx, slog.LevelInfo, "mqtt bridge stopped")
			return ctx.Err()
		case <-down:
			b.dropClient()
			b.log.Log(ctx, slog.LevelWarn, "mqtt connection lost")
		}
	}
}

// connect dials and performs the MQTT handshake under the retry policy. On
// success the bridge is subscribed, marked online, and the current fleet
// state is published. The returned channel closes when the connection drops.
func (b *Bridge) connect(ctx context.Context) (<-chan struct{}, error) {
	var down chan struct{}

	err := b.policy.Start(ctx, "mqtt connect",
		func(attemptCtx context.Context) (bool, error) {
			// Message handlers outlive the attempt, so they run on the
			// bridge's context rather than the attempt's.
			d, err := b.attemptConnect(attemptCtx, ctx)
			if err != nil {
				var connErr *ConnectionError
				if errors.As(err, &connErr) && connErr.Fatal {
					return false, err
				}
				return true, err
			}
			down = d
			return false, nil
		},
	)
	if err != nil {
		return nil, err
	}

	b.log.Log(ctx, slog.LevelInfo, "mqtt connected",
		slog.String("client_id", b.clientID),
	)

	if err := b.subscribeCommands(ctx); err != nil {
		b.log.Err(ctx, err)
	}
	if err := b.publish(
		ctx, b.bridgeStateTopic(), []byte(payloadOnline), true, "", nil,
	); err != nil {
		b.log.Err(ctx, err)
	}
	b.publishFleet(ctx)

	return down, nil
}

// attemptConnect performs one dial and CONNECT exchange. Incoming publishes
// are handled on msgCtx, which spans the bridge's whole run.
func (b *Bridge) attemptConnect(
	ctx context.Context,
	msgCtx context.Context,
) (chan struct{}, error) {
	conn, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}

	down := make(chan struct{})
	var once sync.Once
	disconnected := func() { once.Do(func() { close(down) }) }

	client := paho.NewClient(paho.ClientConfig{
		ClientID: b.clientID,
		Conn:     conn,
		Session:  b.session,
		OnClientError: func(error) {
			disconnected()
		},
		OnServerDisconnect: func(*paho.Disconnect) {
			disconnected()
		},
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				return b.onMessage(msgCtx, pr.Packet), nil
			},
		},
	})

	packet, err := b.connectPacket()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	connack, err := client.Connect(ctx, packet)
	if err != nil {
		_ = conn.Close()
		if connack != nil && connack.ReasonCode >= 0x80 {
			return nil, &ConnectionError{
				ReasonCode: connack.ReasonCode,
				Fatal:      isFatalConnack(connack.ReasonCode),
				wrapped:    err,
			}
		}
		return nil, &ConnectionError{message: "MQTT connect", wrapped: err}
	}

	b.connCount++
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	return down, nil
}

// connectPacket builds the CONNECT packet, with the bridge state topic as the
// will so the server flips it to offline if the bridge dies uncleanly.
func (b *Bridge) connectPacket() (*paho.Connect, error) {
	password, err := b.settings.effectivePassword()
	if err != nil {
		return nil, err
	}

	sessionExpiry := uint32(b.settings.effectiveSessionExpiry().Seconds())

	// The configured clean start only applies to the first connection;
	// reconnects always resume the session.
	cleanStart := b.settings.CleanStart
	if b.connCount > 0 {
		cleanStart = false
	}

	return &paho.Connect{
		ClientID:     b.clientID,
		CleanStart:   cleanStart,
		KeepAlive:    uint16(b.settings.effectiveKeepAlive().Seconds()),
		Username:     b.settings.Username,
		UsernameFlag: b.settings.Username != "",
		Password:     password,
		PasswordFlag: len(password) != 0,
		Properties: &paho.ConnectProperties{
			SessionExpiryInterval: &sessionExpiry,
		},
		WillMessage: &paho.WillMessage{
			Retain:  true,
			QoS:     1,
			Topic:   b.bridgeStateTopic(),
			Payload: []byte(payloadOffline),
		},
	}, nil
}

func (b *Bridge) subscribeCommands(ctx context.Context) error {
	client := b.current()
	if client == nil {
		return &ConnectionError{message: "not connected"}
	}

	_, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic: b.commandFilter(),
			QoS:   1,
		}},
	})
	if err != nil {
		return &ConnectionError{message: "MQTT subscribe", wrapped: err}
	}
	return nil
}

func (b *Bridge) current() *paho.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *Bridge) dropClient() {
	b.mu.Lock()
	b.client = nil
	b.mu.Unlock()
}

// shutdown marks the bridge offline and disconnects cleanly. Run's context is
// already done by now, so the farewell runs on its own short deadline.
func (b *Bridge) shutdown() {
	client := b.current()
	if client == nil {
		return
	}

	ctx, cancel := wallclock.Instance.WithTimeoutCause(
		context.Background(), shutdownGrace, nil,
	)
	defer cancel()

	if err := b.publish(
		ctx, b.bridgeStateTopic(), []byte(payloadOffline), true, "", nil,
	); err != nil {
		b.log.Err(ctx, err)
	}

	_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	b.dropClient()
}

// publish sends one QoS 1 message and surfaces server rejections as errors.
func (b *Bridge) publish(
	ctx context.Context,
	topic string,
	payload []byte,
	retain bool,
	contentType string,
	correlation []byte,
) error {
	client := b.current()
	if client == nil {
		return &ConnectionError{message: "not connected"}
	}

	res, err := client.Publish(ctx, &paho.Publish{
		QoS:     1,
		Retain:  retain,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:     contentType,
			CorrelationData: correlation,
		},
	})
	if err != nil {
		return &PublishError{Topic: topic, wrapped: err}
	}
	if res != nil && res.ReasonCode >= 0x80 {
		return &PublishError{Topic: topic, ReasonCode: res.ReasonCode}
	}
	return nil
}

// publishCycle pushes one poll cycle's outcome. The cycle id rides along as
// correlation data so device logs and MQTT traffic line up.
func (b *Bridge) publishCycle(ctx context.Context, snap fleet.Snapshot) {
	if b.current() == nil {
		b.log.Log(ctx, slog.LevelDebug, "not connected; skipping cycle",
			slog.String("cycle", snap.Cycle),
		)
		return
	}

	correlation := []byte(snap.Cycle)
	for serialNumber := range snap.Devices {
		b.publishDevice(ctx, serialNumber, correlation)
	}
}

// publishFleet pushes the current state of every registered device,
// regardless of poll cycles. Used right after connecting so retained topics
// are warm before the next cycle lands.
func (b *Bridge) publishFleet(ctx context.Context) {
	for _, deviceState := range b.fleet.Devices() {
		b.publishDevice(ctx, deviceState.SerialNumber(), nil)
	}
}

// publishDevice pushes one device's retained summary and availability.
func (b *Bridge) publishDevice(
	ctx context.Context,
	serialNumber string,
	correlation []byte,
) {
	deviceState, ok := b.fleet.Device(serialNumber)
	if !ok {
		return
	}
	summary := climate.Summarize(deviceState.Snapshot())

	payload, err := json.Marshal(summary)
	if err != nil {
		b.log.Err(ctx, err)
		return
	}
	if err := b.publish(
		ctx, b.stateTopic(serialNumber), payload,
		true, "application/json", correlation,
	); err != nil {
		b.log.Err(ctx, err)
		return
	}

	availability := payloadOffline
	if summary.Available {
		availability = payloadOnline
	}
	if err := b.publish(
		ctx, b.availabilityTopic(serialNumber), []byte(availability),
		true, "", correlation,
	); err != nil {
		b.log.Err(ctx, err)
	}
}

// onMessage routes one incoming publish. It reports whether the message was
// addressed to the bridge's command space; command failures are logged, not
// propagated, since the sender is a remote MQTT client.
func (b *Bridge) onMessage(ctx context.Context, p *paho.Publish) bool {
	if !topicMatches(b.commandFilter(), p.Topic) {
		return false
	}
	cmd, ok := b.parseCommand(p.Topic, p.Payload)
	if !ok {
		return false
	}

	b.log.Log(ctx, slog.LevelInfo, "mqtt command",
		slog.String("serial_number", cmd.SerialNumber),
		slog.String("command", cmd.What),
	)

	if err := b.handleCommand(ctx, cmd); err != nil {
		b.log.Err(ctx, err)
		return true
	}

	// The coordinator reconciled the device state after the confirmed write;
	// publish it now instead of waiting out the poll interval.
	b.publishDevice(ctx, cmd.SerialNumber, nil)
	return true
}

// handleCommand translates one command into a fleet write.
func (b *Bridge) handleCommand(ctx context.Context, cmd command) error {
	deviceState, ok := b.fleet.Device(cmd.SerialNumber)
	if !ok {
		return fmt.Errorf("%s: %w", cmd.SerialNumber, fleet.ErrNotRegistered)
	}
	payload := strings.TrimSpace(string(cmd.Payload))

	switch cmd.What {
	case "temperature":
		celsius, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return fmt.Errorf("temperature payload %q: %w", payload, err)
		}
		management, _ := deviceState.ManagementType()
		control, _ := deviceState.ControlType()
		return b.fleet.SetDeviceParameters(ctx, cmd.SerialNumber,
			climate.TargetTemperature(management, control, celsius))

	case "preset":
		params, err := climate.PresetParameters(climate.Preset(payload))
		if err != nil {
			return err
		}
		return b.fleet.SetDeviceParameters(ctx, cmd.SerialNumber, params)

	case "power":
		on, err := parseOnOff(payload)
		if err != nil {
			return err
		}
		return b.fleet.SetDeviceParameters(ctx, cmd.SerialNumber,
			climate.PowerParameters(on))

	case "schedule":
		day, err := strconv.Atoi(cmd.Arg)
		if err != nil {
			return fmt.Errorf("schedule day %q: %w", cmd.Arg, err)
		}
		var periods []wire.Period
		if err := json.Unmarshal(cmd.Payload, &periods); err != nil {
			return fmt.Errorf("schedule payload: %w", err)
		}
		return b.fleet.SetDeviceSchedule(ctx, cmd.SerialNumber, day, periods)

	default:
		return b.handleControl(ctx, cmd, payload)
	}
}

// handleControl resolves a command name against the climate control tables,
// covering the switch and number style settings (child lock, brightness,
// sensor corrections, hysteresis and the rest).
func (b *Bridge) handleControl(
	ctx context.Context,
	cmd command,
	payload string,
) error {
	if toggle, ok := climate.FindToggle(cmd.What); ok {
		on, err := parseOnOff(payload)
		if err != nil {
			return err
		}
		return b.fleet.SetDeviceParameters(ctx, cmd.SerialNumber,
			toggle.Parameters(on))
	}
	if number, ok := climate.FindNumberControl(cmd.What); ok {
		value, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return fmt.Errorf("%s payload %q: %w", cmd.What, payload, err)
		}
		return b.fleet.SetDeviceParameters(ctx, cmd.SerialNumber,
			number.Parameters(value))
	}
	return fmt.Errorf("unknown command %q", cmd.What)
}

func parseOnOff(payload string) (bool, error) {
	switch strings.ToLower(payload) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	on, err := strconv.ParseBool(payload)
	if err != nil {
		return false, fmt.Errorf("on/off payload %q: %w", payload, err)
	}
	return on, nil
}
