package statistics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const connectionSubsystem = "connection"

type ConnectionSource interface {
	Connected() bool
	HasControl() bool
}

type ConnectionCollector struct {
	source ConnectionSource

	connected  *prometheus.Desc
	hasControl *prometheus.Desc
}

func NewConnectionCollector(source ConnectionSource) *ConnectionCollector {
	return &ConnectionCollector{
		source: source,
		connected: prometheus.NewDesc(prometheus.BuildFQName(namespace, connectionSubsystem, "connected"),
			"1 if the websocket connection to the robot is open",
			nil, nil,
		),
		hasControl: prometheus.NewDesc(prometheus.BuildFQName(namespace, connectionSubsystem, "has_control"),
			"1 if this console is the controlling client of the robot",
			nil, nil,
		),
	}
}

func (collector *ConnectionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.connected
	ch <- collector.hasControl
}

// Collect implements required collect function for all prometheus collectors
func (collector *ConnectionCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(collector.connected, prometheus.GaugeValue, boolToFloat(collector.source.Connected()))
	ch <- prometheus.MustNewConstMetric(collector.hasControl, prometheus.GaugeValue, boolToFloat(collector.source.HasControl()))
}
