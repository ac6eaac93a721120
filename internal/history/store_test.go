package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fernhollow/airnode/internal/sensor"
)

func newTestStore(t *testing.T, keep int) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), keep)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func reading(temperature float64, at time.Time) sensor.Reading {
	return sensor.Reading{Temperature: temperature, Humidity: 50, CapturedAt: at}
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestStore(t, 10)
	base := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.Append(reading(20+float64(i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].Temperature != 22 || got[2].Temperature != 20 {
		t.Errorf("unexpected order: %+v", got)
	}
	if !got[0].CapturedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CapturedAt = %v, want %v", got[0].CapturedAt, base.Add(2*time.Minute))
	}
}

func TestRecentEmpty(t *testing.T) {
	s := newTestStore(t, 10)
	got, err := s.Recent(5)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recent on empty store = %v, want empty non-nil slice", got)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	s := newTestStore(t, 5)
	base := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		if err := s.Append(reading(float64(i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}

	got, err := s.Recent(5)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if got[0].Temperature != 11 || got[4].Temperature != 7 {
		t.Errorf("prune kept wrong rows: %+v", got)
	}
}
