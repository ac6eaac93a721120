package node

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fernhollow/airnode/internal/sensor"
)

// Metrics holds the sampling collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	samplesTotal    prometheus.Counter
	sampleErrors    *prometheus.CounterVec
	lastSampleTime  prometheus.Gauge
	temperature     prometheus.Gauge
	humidityPercent prometheus.Gauge
}

// NewMetrics builds and registers the sampling collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_samples_total",
			Help: "Successful sensor samples",
		}),
		sampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_sample_errors_total",
			Help: "Failed sensor samples by failure reason",
		}, []string{"reason"}),
		lastSampleTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_last_sample_timestamp_seconds",
			Help: "Last successful sample timestamp (epoch seconds)",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_temperature_celsius",
			Help: "Last sampled temperature",
		}),
		humidityPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_humidity_percent",
			Help: "Last sampled relative humidity",
		}),
	}
	reg.MustRegister(
		m.samplesTotal,
		m.sampleErrors,
		m.lastSampleTime,
		m.temperature,
		m.humidityPercent,
	)
	return m
}

func (m *Metrics) sampleOK(r sensor.Reading) {
	if m == nil {
		return
	}
	m.samplesTotal.Inc()
	m.lastSampleTime.Set(float64(r.CapturedAt.Unix()))
	m.temperature.Set(r.Temperature)
	m.humidityPercent.Set(r.Humidity)
}

func (m *Metrics) sampleError(err error) {
	if m == nil {
		return
	}
	m.sampleErrors.WithLabelValues(failureReason(err)).Inc()
}

// failureReason maps a sample error onto a bounded label set.
func failureReason(err error) string {
	switch {
	case errors.Is(err, sensor.ErrChecksum):
		return "checksum"
	case errors.Is(err, sensor.ErrTimeout):
		return "timeout"
	case errors.Is(err, sensor.ErrBusConnect):
		return "bus_connect"
	case errors.Is(err, sensor.ErrAckLow):
		return "ack_low"
	case errors.Is(err, sensor.ErrAckHigh):
		return "ack_high"
	default:
		var unknown *sensor.UnknownCodeError
		if errors.As(err, &unknown) {
			return "unknown_code"
		}
		return "io"
	}
}
