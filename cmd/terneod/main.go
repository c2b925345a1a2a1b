// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// terneod polls Terneo thermostats on the local network and serves their
// state over HTTP and MQTT.
//
// Configuration is environment-driven:
//
//	TERNEO_DEVICES          static devices as "sn@host" pairs, comma separated
//	TERNEO_DISCOVERY        listen for LAN broadcasts (default true)
//	TERNEO_POLL_INTERVAL    poll cadence, ISO 8601 (default PT30S)
//	TERNEO_REQUEST_TIMEOUT  per-request deadline, ISO 8601 (default PT10S)
//	TERNEO_LISTEN           exporter listen address (default :8077)
//	TERNEO_LOG_LEVEL        debug, info, warn or error (default info)
//	TERNEO_LOG_FORMAT       json or text (default json)
//	TERNEO_MQTT_*           bridge connection settings; the bridge is off
//	                        when TERNEO_MQTT_HOST_NAME is empty
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sosodev/duration"

	"github.com/IlyaSemenov/terneo-ha/bridge"
	"github.com/IlyaSemenov/terneo-ha/device"
	"github.com/IlyaSemenov/terneo-ha/discovery"
	"github.com/IlyaSemenov/terneo-ha/exporter"
	"github.com/IlyaSemenov/terneo-ha/fleet"
	"github.com/IlyaSemenov/terneo-ha/internal/retry"
)

func main() {
	cfg, err := configFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "terneod:", err)
		os.Exit(2)
	}

	log := cfg.logger()

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("terneod failed", "error", err)
		os.Exit(1)
	}
	log.Info("terneod stopped")
}

type (
	staticDevice struct {
		serialNumber string
		host         string
	}

	config struct {
		devices        []staticDevice
		discovery      bool
		pollInterval   time.Duration
		requestTimeout time.Duration
		listen         string
		logLevel       slog.Level
		logFormat      string
		mqtt           *bridge.Settings
	}
)

func configFromEnv() (*config, error) {
	cfg := &config{
		discovery: true,
		listen:    os.Getenv("TERNEO_LISTEN"),
		logFormat: strings.ToLower(os.Getenv("TERNEO_LOG_FORMAT")),
	}

	var err error
	if cfg.devices, err = parseDevices(os.Getenv("TERNEO_DEVICES")); err != nil {
		return nil, err
	}
	if value := os.Getenv("TERNEO_DISCOVERY"); value != "" {
		if cfg.discovery, err = strconv.ParseBool(value); err != nil {
			return nil, fmt.Errorf("TERNEO_DISCOVERY: %w", err)
		}
	}
	if cfg.pollInterval, err = envDuration("TERNEO_POLL_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.requestTimeout, err = envDuration("TERNEO_REQUEST_TIMEOUT"); err != nil {
		return nil, err
	}
	if value := os.Getenv("TERNEO_LOG_LEVEL"); value != "" {
		if err := cfg.logLevel.UnmarshalText([]byte(value)); err != nil {
			return nil, fmt.Errorf("TERNEO_LOG_LEVEL: %w", err)
		}
	}
	if cfg.mqtt, err = bridge.SettingsFromEnv(); err != nil {
		return nil, err
	}

	if len(cfg.devices) == 0 && !cfg.discovery {
		return nil, errors.New(
			"no devices configured and discovery is disabled; set " +
				"TERNEO_DEVICES or enable TERNEO_DISCOVERY",
		)
	}
	return cfg, nil
}

// parseDevices splits "sn@host,sn@host" into static registrations.
func parseDevices(value string) ([]staticDevice, error) {
	var devices []staticDevice
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		serialNumber, host, found := strings.Cut(entry, "@")
		if !found || serialNumber == "" || host == "" {
			return nil, fmt.Errorf(
				"TERNEO_DEVICES: %q is not of the form sn@host", entry,
			)
		}
		devices = append(devices, staticDevice{
			serialNumber: strings.TrimSpace(serialNumber),
			host:         strings.TrimSpace(host),
		})
	}
	return devices, nil
}

func envDuration(name string) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, nil
	}
	d, err := duration.Parse(value)
	if err != nil {
		return 0, fmt.Errorf("%s: not a valid ISO 8601 duration: %w", name, err)
	}
	return d.ToTimeDuration(), nil
}

func (c *config) logger() *slog.Logger {
	if c.logFormat == "text" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level: c.logLevel,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: c.logLevel,
	}))
}

func run(ctx context.Context, cfg *config, log *slog.Logger) error {
	coordinator := fleet.NewCoordinator(
		fleet.WithPollInterval(cfg.pollInterval),
		fleet.WithSessionOptions{device.WithTimeout(cfg.requestTimeout)},
		fleet.WithLogger(log),
	)
	defer coordinator.Close()

	var mqttBridge *bridge.Bridge
	if cfg.mqtt.Configured() {
		var err error
		mqttBridge, err = bridge.NewBridge(
			coordinator, cfg.mqtt, bridge.WithLogger(log),
		)
		if err != nil {
			return err
		}
	} else {
		log.Info("mqtt bridge disabled; TERNEO_MQTT_HOST_NAME is not set")
	}

	registerStaticDevices(ctx, coordinator, cfg.devices, log)

	// Components are listed in shutdown order: discovery stops taking in new
	// devices first, the bridge announces offline while state is still
	// served, then the HTTP surface closes, and the coordinator goes last.
	var components []*component
	failures := make(chan error, 4)

	if cfg.discovery {
		listener := discovery.NewListener(
			func(ctx context.Context, a discovery.Announcement) {
				if _, err := coordinator.AddDevice(
					ctx, a.Host, a.SerialNumber,
				); err != nil {
					log.Warn("cannot register discovered device",
						"serial_number", a.SerialNumber,
						"host", a.Host,
						"error", err,
					)
				}
			},
			discovery.WithLogger(log),
		)
		components = append(components,
			startComponent("discovery", failures, listener.Run))
	}

	if mqttBridge != nil {
		components = append(components,
			startComponent("bridge", failures, mqttBridge.Run))
	}

	server := exporter.NewServer(
		coordinator,
		exporter.WithListenAddress(cfg.listen),
		exporter.WithLogger(log),
	)
	components = append(components,
		startComponent("exporter", failures, server.Run))

	components = append(components,
		startComponent("coordinator", failures, coordinator.Run))

	var cause error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case cause = <-failures:
		log.Error("component failed", "error", cause)
	}

	for _, c := range components {
		c.stop()
		if err := c.wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("component stopped with error",
				"component", c.name,
				"error", err,
			)
		}
	}
	return cause
}

// registerStaticDevices adds the configured devices, retrying in the
// background so a thermostat that is offline at boot still joins once it
// comes up.
func registerStaticDevices(
	ctx context.Context,
	coordinator *fleet.Coordinator,
	devices []staticDevice,
	log *slog.Logger,
) {
	for _, d := range devices {
		d := d
		go func() {
			policy := retry.ExponentialBackoff{
				MaxInterval: 5 * time.Minute,
				Logger:      log,
			}
			err := policy.Start(ctx, "register "+d.serialNumber,
				func(ctx context.Context) (bool, error) {
					_, err := coordinator.AddDevice(ctx, d.host, d.serialNumber)
					return true, err
				},
			)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("cannot register device",
					"serial_number", d.serialNumber,
					"host", d.host,
					"error", err,
				)
			}
		}()
	}
}

// component is one long-running part of the daemon with its own lifetime, so
// shutdown can proceed in a fixed order regardless of why it started.
type component struct {
	name   string
	cancel context.CancelFunc
	done   chan error
}

func startComponent(
	name string,
	failures chan<- error,
	run func(context.Context) error,
) *component {
	ctx, cancel := context.WithCancel(context.Background())
	c := &component{name: name, cancel: cancel, done: make(chan error, 1)}

	go func() {
		err := run(ctx)
		c.done <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			failures <- fmt.Errorf("%s: %w", name, err)
		}
	}()
	return c
}

func (c *component) stop() {
	c.cancel()
}

func (c *component) wait() error {
	return <-c.done
}
