package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeBus returns a canned outcome.
type fakeBus struct {
	code        int
	temperature float64
	humidity    float64
	err         error
}

func (b *fakeBus) SampleRaw(_ context.Context) (int, float64, float64, error) {
	return b.code, b.temperature, b.humidity, b.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSampleSuccess(t *testing.T) {
	s := NewSampler(&fakeBus{code: CodeOK, temperature: 21.0, humidity: 55.0}, discardLogger())
	captured := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return captured }

	r, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error: %v", err)
	}
	if r.Temperature != 21.0 || r.Humidity != 55.0 {
		t.Errorf("reading = %+v, want t=21.0 h=55.0", r)
	}
	if !r.CapturedAt.Equal(captured) {
		t.Errorf("CapturedAt = %v, want %v", r.CapturedAt, captured)
	}
}

func TestSampleErrorClassification(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{CodeChecksum, ErrChecksum},
		{CodeTimeout, ErrTimeout},
		{CodeConnect, ErrBusConnect},
		{CodeAckLow, ErrAckLow},
		{CodeAckHigh, ErrAckHigh},
	}

	for _, tt := range tests {
		s := NewSampler(&fakeBus{code: tt.code}, discardLogger())
		_, err := s.Sample(context.Background())
		if !errors.Is(err, tt.want) {
			t.Errorf("code %d: error = %v, want %v", tt.code, err, tt.want)
		}
	}
}

func TestSampleUnknownCode(t *testing.T) {
	s := NewSampler(&fakeBus{code: -37}, discardLogger())
	_, err := s.Sample(context.Background())

	var unknown *UnknownCodeError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownCodeError", err)
	}
	if unknown.Code != -37 {
		t.Errorf("Code = %d, want -37", unknown.Code)
	}
}

func TestSampleBusError(t *testing.T) {
	busErr := errors.New("bus gone")
	s := NewSampler(&fakeBus{err: busErr}, discardLogger())
	if _, err := s.Sample(context.Background()); !errors.Is(err, busErr) {
		t.Errorf("error = %v, want wrapped %v", err, busErr)
	}
}

func TestIIOBus(t *testing.T) {
	dir := t.TempDir()
	tempPath := filepath.Join(dir, "in_temp_input")
	humPath := filepath.Join(dir, "in_humidityrelative_input")
	os.WriteFile(tempPath, []byte("21500\n"), 0644)
	os.WriteFile(humPath, []byte("55400\n"), 0644)

	bus := &IIOBus{TempPath: tempPath, HumidityPath: humPath}
	code, temperature, humidity, err := bus.SampleRaw(context.Background())
	if err != nil {
		t.Fatalf("SampleRaw error: %v", err)
	}
	if code != CodeOK {
		t.Fatalf("code = %d, want CodeOK", code)
	}
	if temperature != 21.5 {
		t.Errorf("temperature = %v, want 21.5", temperature)
	}
	if humidity != 55.4 {
		t.Errorf("humidity = %v, want 55.4", humidity)
	}
}

func TestIIOBusMissingAttribute(t *testing.T) {
	dir := t.TempDir()
	bus := &IIOBus{
		TempPath:     filepath.Join(dir, "nope"),
		HumidityPath: filepath.Join(dir, "also-nope"),
	}
	code, _, _, err := bus.SampleRaw(context.Background())
	if err != nil {
		t.Fatalf("SampleRaw error: %v", err)
	}
	if code != CodeConnect {
		t.Errorf("code = %d, want CodeConnect", code)
	}
}

func TestIIOBusGarbageAttribute(t *testing.T) {
	dir := t.TempDir()
	tempPath := filepath.Join(dir, "in_temp_input")
	os.WriteFile(tempPath, []byte("not-a-number\n"), 0644)

	bus := &IIOBus{TempPath: tempPath, HumidityPath: tempPath}
	code, _, _, err := bus.SampleRaw(context.Background())
	if err != nil {
		t.Fatalf("SampleRaw error: %v", err)
	}
	if code != CodeChecksum {
		t.Errorf("code = %d, want CodeChecksum", code)
	}
}

func TestIIOBusCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := &IIOBus{}
	if _, _, _, err := bus.SampleRaw(ctx); err == nil {
		t.Error("SampleRaw with cancelled context should error")
	}
}
