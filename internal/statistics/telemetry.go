package statistics

import (
	"github.com/drivetune/drivetune/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
)

const telemetrySubsystem = "wheel"

type TelemetrySource interface {
	Latest() (monitor.Snapshot, bool)
}

type TelemetryCollector struct {
	source TelemetrySource

	velocity    *prometheus.Desc
	avgVelocity *prometheus.Desc
	pwm         *prometheus.Desc
	count       *prometheus.Desc
	distance    *prometheus.Desc
	battery     *prometheus.Desc
	telemetry   *prometheus.Desc
	velErrors   *prometheus.Desc
}

func NewTelemetryCollector(source TelemetrySource) *TelemetryCollector {
	return &TelemetryCollector{
		source: source,
		velocity: prometheus.NewDesc(prometheus.BuildFQName(namespace, telemetrySubsystem, "velocity_cm_s"),
			"Last reported velocity of the wheel",
			[]string{"wheel"}, nil,
		),
		avgVelocity: prometheus.NewDesc(prometheus.BuildFQName(namespace, telemetrySubsystem, "velocity_avg_cm_s"),
			"Average velocity of the wheel over the rolling window",
			[]string{"wheel"}, nil,
		),
		pwm: prometheus.NewDesc(prometheus.BuildFQName(namespace, telemetrySubsystem, "pwm"),
			"Last reported signed motor output of the wheel",
			[]string{"wheel"}, nil,
		),
		count: prometheus.NewDesc(prometheus.BuildFQName(namespace, telemetrySubsystem, "encoder_count"),
			"Encoder ticks of the wheel",
			[]string{"wheel"}, nil,
		),
		distance: prometheus.NewDesc(prometheus.BuildFQName(namespace, telemetrySubsystem, "distance_cm"),
			"Distance travelled by the wheel",
			[]string{"wheel"}, nil,
		),
		battery: prometheus.NewDesc(prometheus.BuildFQName(namespace, "robot", "battery_volts"),
			"Battery voltage reported by the robot",
			nil, nil,
		),
		telemetry: prometheus.NewDesc(prometheus.BuildFQName(namespace, "robot", "telemetry_messages_total"),
			"Number of telemetry messages received",
			nil, nil,
		),
		velErrors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "robot", "velocity_error_messages_total"),
			"Number of velocity error reports received",
			nil, nil,
		),
	}
}

func (collector *TelemetryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.velocity
	ch <- collector.avgVelocity
	ch <- collector.pwm
	ch <- collector.count
	ch <- collector.distance
	ch <- collector.battery
	ch <- collector.telemetry
	ch <- collector.velErrors
}

// Collect implements required collect function for all prometheus collectors
func (collector *TelemetryCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot, ok := collector.source.Latest()
	ch <- prometheus.MustNewConstMetric(collector.telemetry, prometheus.CounterValue, float64(snapshot.TelemetryCount))
	ch <- prometheus.MustNewConstMetric(collector.velErrors, prometheus.CounterValue, float64(snapshot.VelocityErrorCount))
	if !ok {
		return
	}

	for wheel, stats := range map[string]monitor.WheelStats{"left": snapshot.Left, "right": snapshot.Right} {
		ch <- prometheus.MustNewConstMetric(collector.velocity, prometheus.GaugeValue, stats.Velocity, wheel)
		ch <- prometheus.MustNewConstMetric(collector.avgVelocity, prometheus.GaugeValue, stats.AvgVelocity, wheel)
		ch <- prometheus.MustNewConstMetric(collector.count, prometheus.GaugeValue, float64(stats.Count), wheel)
		ch <- prometheus.MustNewConstMetric(collector.distance, prometheus.GaugeValue, stats.Distance, wheel)
		if stats.Pwm != nil {
			ch <- prometheus.MustNewConstMetric(collector.pwm, prometheus.GaugeValue, *stats.Pwm, wheel)
		}
	}
	if snapshot.Telemetry.Battery != nil {
		ch <- prometheus.MustNewConstMetric(collector.battery, prometheus.GaugeValue, *snapshot.Telemetry.Battery)
	}
}
