package ji

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	frames  *prometheus.CounterVec
	alerts  prometheus.Counter
	seconds prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evsdk_frames_total",
			Help: "Images submitted for processing, by result status",
		}, []string{"status"}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evsdk_alerts_total",
			Help: "Images that raised an alert",
		}),
		seconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evsdk_process_seconds",
			Help:    "Time taken to process an image, from decode until the result is written",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	for _, c := range []prometheus.Collector{m.frames, m.alerts, m.seconds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) record(status Status, ev Event, start time.Time) {
	m.frames.WithLabelValues(status.String()).Inc()
	if status == StatusSucceed {
		if ev.Code == CodeAlarm {
			m.alerts.Inc()
		}
		m.seconds.Observe(time.Since(start).Seconds())
	}
}
