// Package sensor triggers environmental measurements and classifies
// the outcome. The physical layer (bus timing, bit decoding) lives
// behind the [RawBus] collaborator; this package owns the status-code
// taxonomy and the stale-but-present reading semantics: a failed
// sample never clobbers the previous successful reading.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Reading is one successful measurement.
type Reading struct {
	Temperature float64
	Humidity    float64
	CapturedAt  time.Time
}

// Status codes reported by the raw bus collaborator. Zero is success;
// the negative values follow the DHT driver convention for the
// distinct physical-layer failures.
const (
	CodeOK       = 0
	CodeChecksum = -1
	CodeTimeout  = -2
	CodeConnect  = -3
	CodeAckLow   = -4
	CodeAckHigh  = -5
)

// Sentinel errors for the enumerated physical-layer failures. All are
// treated identically by callers (previous reading retained, no
// publish) but stay distinguishable for diagnostics.
var (
	ErrChecksum   = errors.New("sensor: checksum mismatch")
	ErrTimeout    = errors.New("sensor: read timeout")
	ErrBusConnect = errors.New("sensor: bus connect failed")
	ErrAckLow     = errors.New("sensor: ack low failed")
	ErrAckHigh    = errors.New("sensor: ack high failed")
)

// UnknownCodeError reports a status code outside the enumerated set.
type UnknownCodeError struct {
	Code int
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("sensor: unknown status code %d", e.Code)
}

// ErrorForCode maps a raw status code to its sentinel error, or to an
// [UnknownCodeError] for codes outside the enumerated set. CodeOK maps
// to nil.
func ErrorForCode(code int) error {
	switch code {
	case CodeOK:
		return nil
	case CodeChecksum:
		return ErrChecksum
	case CodeTimeout:
		return ErrTimeout
	case CodeConnect:
		return ErrBusConnect
	case CodeAckLow:
		return ErrAckLow
	case CodeAckHigh:
		return ErrAckHigh
	default:
		return &UnknownCodeError{Code: code}
	}
}

// RawBus is the physical-layer collaborator. SampleRaw blocks for the
// duration of the sensor protocol (bounded, sub-second) and reports
// the outcome as a status code plus the decoded values. The returned
// error is reserved for non-protocol failures (context cancellation);
// protocol failures arrive as codes.
type RawBus interface {
	SampleRaw(ctx context.Context) (code int, temperature, humidity float64, err error)
}

// Sampler classifies raw bus outcomes into readings and errors.
type Sampler struct {
	bus    RawBus
	logger *slog.Logger
	now    func() time.Time
}

// NewSampler creates a Sampler over the given bus.
func NewSampler(bus RawBus, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{bus: bus, logger: logger, now: time.Now}
}

// Sample triggers one measurement. On success it returns the reading
// stamped with the capture time; on failure it returns the classified
// error and a zero Reading the caller must ignore.
func (s *Sampler) Sample(ctx context.Context) (Reading, error) {
	code, temperature, humidity, err := s.bus.SampleRaw(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("sample raw: %w", err)
	}

	if err := ErrorForCode(code); err != nil {
		s.logger.Debug("sample failed", "code", code, "error", err)
		return Reading{}, err
	}

	r := Reading{
		Temperature: temperature,
		Humidity:    humidity,
		CapturedAt:  s.now(),
	}
	s.logger.Debug("sample ok",
		"temperature", r.Temperature,
		"humidity", r.Humidity,
	)
	return r, nil
}
