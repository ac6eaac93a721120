// Package node orchestrates the appliance core: it owns the device
// identity and the current sensor reading, drives the sampling cadence,
// and feeds successful readings to the message bus and the history
// store.
//
// The reading has exactly one writer, the sampling loop, so the rest
// of the process (HTTP status page, health endpoint) sees it only
// through mutex-guarded snapshots. A failed sample leaves the previous
// reading untouched and publishes nothing; the cadence clock advances
// on every attempt, successful or not.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fernhollow/airnode/internal/messaging"
	"github.com/fernhollow/airnode/internal/sensor"
)

// TemperatureTopic carries the periodic telemetry payload.
const TemperatureTopic = "temperature"

// SampleSource triggers one measurement. *sensor.Sampler is the
// production implementation.
type SampleSource interface {
	Sample(ctx context.Context) (sensor.Reading, error)
}

// Publisher sends payloads to the bus, best-effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Appender archives successful readings.
type Appender interface {
	Append(r sensor.Reading) error
}

// telemetry is the wire payload for the temperature topic.
type telemetry struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	MAC         string  `json:"mac"`
}

// Status is a point-in-time view of the sampling state for the HTTP
// surface.
type Status struct {
	Reading     sensor.Reading
	HasReading  bool
	LastAttempt time.Time
	LastError   string
}

// Node drives sampling and publishing.
type Node struct {
	identity Identity
	sampler  SampleSource
	bus      Publisher
	history  Appender
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu          sync.Mutex
	reading     sensor.Reading
	hasReading  bool
	lastAttempt time.Time
	lastErr     error
}

// New creates a Node. history and metrics may be nil.
func New(identity Identity, sampler SampleSource, bus Publisher, history Appender, interval time.Duration, logger *slog.Logger, metrics *Metrics) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		identity: identity,
		sampler:  sampler,
		bus:      bus,
		history:  history,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Identity returns the device identity.
func (n *Node) Identity() Identity {
	return n.identity
}

// Reading returns the last successful reading, if any.
func (n *Node) Reading() (sensor.Reading, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reading, n.hasReading
}

// StatusSnapshot returns the current sampling status.
func (n *Node) StatusSnapshot() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Status{
		Reading:     n.reading,
		HasReading:  n.hasReading,
		LastAttempt: n.lastAttempt,
	}
	if n.lastErr != nil {
		s.LastError = n.lastErr.Error()
	}
	return s
}

// SelfDescription builds the meta-topic document announcing this node:
// identity, current bus endpoint, and software version.
func (n *Node) SelfDescription(endpoint, version string) any {
	return map[string]string{
		"mac":      n.identity.ID,
		"name":     n.identity.Name,
		"endpoint": endpoint,
		"version":  version,
	}
}

// RunSampler is the sampling loop: an immediate attempt on start, then
// one per interval. It blocks until ctx is cancelled.
func (n *Node) RunSampler(ctx context.Context) error {
	for {
		n.maybeSample(ctx, n.now())

		wait := n.nextWait(n.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// maybeSample attempts a sample if the cadence interval has elapsed
// since the last attempt (or none has been made yet). Returns whether
// an attempt was made.
func (n *Node) maybeSample(ctx context.Context, now time.Time) bool {
	n.mu.Lock()
	last := n.lastAttempt
	n.mu.Unlock()

	if !last.IsZero() && now.Sub(last) < n.interval {
		return false
	}
	n.sample(ctx, now)
	return true
}

// nextWait returns how long until the next attempt is due.
func (n *Node) nextWait(now time.Time) time.Duration {
	n.mu.Lock()
	last := n.lastAttempt
	n.mu.Unlock()

	if last.IsZero() {
		return 0
	}
	wait := n.interval - now.Sub(last)
	if wait < 0 {
		return 0
	}
	return wait
}

func (n *Node) sample(ctx context.Context, now time.Time) {
	n.mu.Lock()
	n.lastAttempt = now
	n.mu.Unlock()

	r, err := n.sampler.Sample(ctx)

	n.mu.Lock()
	n.lastErr = err
	n.mu.Unlock()

	if err != nil {
		n.metrics.sampleError(err)
		n.logger.Warn("sample failed, keeping previous reading", "error", err)
		return
	}

	n.mu.Lock()
	n.reading = r
	n.hasReading = true
	n.mu.Unlock()
	n.metrics.sampleOK(r)

	if n.history != nil {
		if err := n.history.Append(r); err != nil {
			n.logger.Warn("history append failed", "error", err)
		}
	}

	n.publish(ctx, r)
}

func (n *Node) publish(ctx context.Context, r sensor.Reading) {
	payload, err := json.Marshal(telemetry{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		MAC:         n.identity.ID,
	})
	if err != nil {
		n.logger.Error("marshal telemetry", "error", err)
		return
	}

	err = n.bus.Publish(ctx, TemperatureTopic, payload)
	switch {
	case err == nil:
		n.logger.Debug("telemetry published",
			"temperature", r.Temperature,
			"humidity", r.Humidity,
		)
	case errors.Is(err, messaging.ErrNotConnected):
		// Best-effort: the reading is retained locally and the next
		// one goes out once the bus is back.
		n.logger.Debug("telemetry publish skipped, bus not connected")
	default:
		n.logger.Warn("telemetry publish failed", "error", err)
	}
}
