// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package exporter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IlyaSemenov/terneo-ha/climate"
	"github.com/IlyaSemenov/terneo-ha/fleet"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

// temperatureSensors maps telemetry indexes to the sensor label values they
// are exported under.
var temperatureSensors = []struct {
	index int
	name  string
}{
	{wire.TempFloor, "floor"},
	{wire.TempAir, "air"},
	{wire.TempSetpoint, "setpoint"},
	{wire.TempMCU, "mcu"},
	{wire.TempOverheat, "overheat"},
}

// metrics holds the exported instrument set. Instruments live on the
// instance rather than in package globals so two servers never fight over
// one registry.
type metrics struct {
	temperature  *prometheus.GaugeVec
	heating      *prometheus.GaugeVec
	available    *prometheus.GaugeVec
	powerWatts   *prometheus.GaugeVec
	wifiSignal   *prometheus.GaugeVec
	pollFailures *prometheus.CounterVec
	pollCycles   prometheus.Counter
	lastRefresh  prometheus.Gauge

	// tracked remembers which devices currently export label sets, so
	// gauges for removed devices can be dropped instead of going stale.
	mu      sync.Mutex
	tracked map[string]prometheus.Labels
}

func newMetrics(reg *prometheus.Registry) *metrics {
	deviceLabels := []string{"serial_number", "host"}

	m := &metrics{
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terneo",
			Name:      "temperature_celsius",
			Help:      "Temperature readings by sensor",
		}, []string{"serial_number", "host", "sensor"}),
		heating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terneo",
			Name:      "heating",
			Help:      "1 while the relay is heating, 0 otherwise",
		}, deviceLabels),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terneo",
			Name:      "device_available",
			Help:      "1 if the device answered the most recent poll",
		}, deviceLabels),
		powerWatts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terneo",
			Name:      "rated_power_watts",
			Help:      "Rated heater power in watts",
		}, deviceLabels),
		wifiSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terneo",
			Name:      "wifi_signal_dbm",
			Help:      "WiFi signal strength reported by the device",
		}, deviceLabels),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terneo",
			Name:      "poll_failures_total",
			Help:      "Failed device polls",
		}, deviceLabels),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terneo",
			Name:      "poll_cycles_total",
			Help:      "Completed fleet poll cycles",
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terneo",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix timestamp of the last completed poll cycle",
		}),
		tracked: map[string]prometheus.Labels{},
	}

	reg.MustRegister(
		m.temperature,
		m.heating,
		m.available,
		m.powerWatts,
		m.wifiSignal,
		m.pollFailures,
		m.pollCycles,
		m.lastRefresh,
	)
	return m
}

// observe folds one poll cycle into the instruments.
func (m *metrics) observe(snap fleet.Snapshot) {
	m.pollCycles.Inc()
	m.lastRefresh.Set(float64(snap.Taken.Unix()))

	m.mu.Lock()
	defer m.mu.Unlock()

	for sn, entry := range snap.Devices {
		labels := prometheus.Labels{
			"serial_number": sn,
			"host":          entry.Host,
		}
		m.tracked[sn] = labels

		if !entry.Available {
			m.available.With(labels).Set(0)
			m.pollFailures.With(labels).Inc()
			continue
		}
		m.available.With(labels).Set(1)

		for _, sensor := range temperatureSensors {
			if v, ok := entry.Telemetry.TemperatureCelsius(sensor.index); ok {
				m.temperature.With(prometheus.Labels{
					"serial_number": sn,
					"host":          entry.Host,
					"sensor":        sensor.name,
				}).Set(v)
			}
		}

		if heating, ok := entry.Telemetry.Flag(wire.FlagHeating); ok {
			m.heating.With(labels).Set(boolGauge(heating))
		}
		if watts, ok := climate.PowerWatts(entry.Parameters); ok {
			m.powerWatts.With(labels).Set(float64(watts))
		}
		if signal, ok := climate.WifiSignalDBM(entry.Telemetry); ok {
			m.wifiSignal.With(labels).Set(float64(signal))
		}
	}

	// Devices removed from the fleet stop exporting rather than freezing at
	// their last values.
	for sn, labels := range m.tracked {
		if _, ok := snap.Devices[sn]; ok {
			continue
		}
		delete(m.tracked, sn)
		match := prometheus.Labels{"serial_number": sn}
		m.temperature.DeletePartialMatch(match)
		m.heating.Delete(labels)
		m.available.Delete(labels)
		m.powerWatts.Delete(labels)
		m.wifiSignal.Delete(labels)
		m.pollFailures.Delete(labels)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
