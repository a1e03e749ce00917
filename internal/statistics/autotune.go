package statistics

import (
	"sync"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/prometheus/client_golang/prometheus"
)

const autotuneSubsystem = "autotune"

type AutotuneSource interface {
	Snapshot() (autotune.RunState, bool)
	Result() (*autotune.AnalysisResult, bool)
}

type AutotuneCollector struct {
	source AutotuneSource

	mu        sync.Mutex
	completed uint64
	aborted   uint64
	failed    uint64

	phase       *prometheus.Desc
	samples     *prometheus.Desc
	runs        *prometheus.Desc
	gain        *prometheus.Desc
	riseTime    *prometheus.Desc
	settling    *prometheus.Desc
	overshoot   *prometheus.Desc
	steadyError *prometheus.Desc
}

func NewAutotuneCollector(source AutotuneSource) *AutotuneCollector {
	return &AutotuneCollector{
		source: source,
		phase: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "phase"),
			"1 for the current phase of the autotune run",
			[]string{"phase"}, nil,
		),
		samples: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "samples"),
			"Number of samples recorded by the current run",
			nil, nil,
		),
		runs: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "runs_total"),
			"Number of finished autotune runs by outcome",
			[]string{"outcome"}, nil,
		),
		gain: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "gain"),
			"Gains suggested by the last completed run",
			[]string{"term"}, nil,
		),
		riseTime: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "rise_time_seconds"),
			"Rise time measured by the last completed run",
			nil, nil,
		),
		settling: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "settling_time_seconds"),
			"Settling time measured by the last completed run",
			nil, nil,
		),
		overshoot: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "overshoot_percent"),
			"Overshoot measured by the last completed run",
			nil, nil,
		),
		steadyError: prometheus.NewDesc(prometheus.BuildFQName(namespace, autotuneSubsystem, "steady_state_error_cm_s"),
			"Steady state error measured by the last completed run",
			nil, nil,
		),
	}
}

// OnEvent counts finished runs, register it as a listener of the sequencer
func (collector *AutotuneCollector) OnEvent(event autotune.Event) {
	collector.mu.Lock()
	defer collector.mu.Unlock()
	if !event.Finished() {
		return
	}
	switch event.Phase {
	case autotune.PhaseCompleted:
		collector.completed++
	case autotune.PhaseAborted:
		collector.aborted++
	default:
		collector.failed++
	}
}

func (collector *AutotuneCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.phase
	ch <- collector.samples
	ch <- collector.runs
	ch <- collector.gain
	ch <- collector.riseTime
	ch <- collector.settling
	ch <- collector.overshoot
	ch <- collector.steadyError
}

// Collect implements required collect function for all prometheus collectors
func (collector *AutotuneCollector) Collect(ch chan<- prometheus.Metric) {
	collector.mu.Lock()
	ch <- prometheus.MustNewConstMetric(collector.runs, prometheus.CounterValue, float64(collector.completed), "completed")
	ch <- prometheus.MustNewConstMetric(collector.runs, prometheus.CounterValue, float64(collector.aborted), "aborted")
	ch <- prometheus.MustNewConstMetric(collector.runs, prometheus.CounterValue, float64(collector.failed), "failed")
	collector.mu.Unlock()

	run, ok := collector.source.Snapshot()
	current := autotune.PhaseIdle
	if ok {
		current = run.Phase
		ch <- prometheus.MustNewConstMetric(collector.samples, prometheus.GaugeValue, float64(len(run.Samples)))
	}
	for _, phase := range autotune.Phases {
		ch <- prometheus.MustNewConstMetric(collector.phase, prometheus.GaugeValue, boolToFloat(phase == current), phase.String())
	}

	result, ok := collector.source.Result()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(collector.gain, prometheus.GaugeValue, result.Kp, "kp")
	ch <- prometheus.MustNewConstMetric(collector.gain, prometheus.GaugeValue, result.Ki, "ki")
	ch <- prometheus.MustNewConstMetric(collector.gain, prometheus.GaugeValue, result.Kd, "kd")
	ch <- prometheus.MustNewConstMetric(collector.riseTime, prometheus.GaugeValue, result.RiseTimeSec)
	ch <- prometheus.MustNewConstMetric(collector.settling, prometheus.GaugeValue, result.SettlingTimeSec)
	ch <- prometheus.MustNewConstMetric(collector.overshoot, prometheus.GaugeValue, result.OvershootPct)
	ch <- prometheus.MustNewConstMetric(collector.steadyError, prometheus.GaugeValue, result.SteadyStateError)
}
