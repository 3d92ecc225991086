package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"recipebox/internal/config"
	"recipebox/pkg/types"
)

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{RPM: 15, RPD: 1500, TPM: 1000000}
}

func testLimiter(t *testing.T) (*Limiter, *MemoryStore, time.Time) {
	t.Helper()
	store := NewMemoryStore()
	l := NewLimiter(store, testLimits(), nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, store, now
}

func seedEvents(t *testing.T, store *MemoryStore, n int, ts time.Time, success bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev := types.UsageEvent{
			ID:          "ev",
			UserID:      "user-1",
			RequestType: types.RequestURL,
			Success:     success,
			Timestamp:   ts,
		}
		if err := store.Record(context.Background(), ev); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestCheckLimitsUnderBudget(t *testing.T) {
	l, store, now := testLimiter(t)
	seedEvents(t, store, 14, now.Add(-30*time.Second), true)

	snap, err := l.CheckLimits(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if snap.RPM.Used != 14 || snap.RPM.Remaining != 1 {
		t.Fatalf("rpm window: %+v", snap.RPM)
	}
	if snap.RPD.Used != 14 || snap.RPD.Remaining != 1500-14 {
		t.Fatalf("rpd window: %+v", snap.RPD)
	}
}

func TestCheckLimitsMinuteExhausted(t *testing.T) {
	l, store, now := testLimiter(t)
	seedEvents(t, store, 15, now.Add(-40*time.Second), true)

	_, err := l.CheckLimits(context.Background())
	if types.KindOf(err) != types.KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	var ie *types.ImportError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *ImportError, got %T", err)
	}
	// Oldest event is 40s old, so the slot frees in about 20s.
	if ie.RetryAfter != 20*time.Second {
		t.Fatalf("retry after: %v", ie.RetryAfter)
	}
}

func TestCheckLimitsMinuteWindowSlides(t *testing.T) {
	l, store, now := testLimiter(t)
	// 15 events just outside the minute window do not count against RPM,
	// only against the daily window.
	seedEvents(t, store, 15, now.Add(-61*time.Second), true)

	snap, err := l.CheckLimits(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if snap.RPM.Used != 0 {
		t.Fatalf("rpm used: %d", snap.RPM.Used)
	}
	if snap.RPD.Used != 15 {
		t.Fatalf("rpd used: %d", snap.RPD.Used)
	}
}

func TestCheckLimitsDayExhausted(t *testing.T) {
	l, store, now := testLimiter(t)
	seedEvents(t, store, 1500, now.Add(-2*time.Hour), true)

	_, err := l.CheckLimits(context.Background())
	if types.KindOf(err) != types.KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	var ie *types.ImportError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *ImportError, got %T", err)
	}
	if ie.RetryAfter != 22*time.Hour {
		t.Fatalf("retry after: %v", ie.RetryAfter)
	}
}

func TestFailedEventsDoNotConsumeBudget(t *testing.T) {
	l, store, now := testLimiter(t)
	seedEvents(t, store, 50, now.Add(-10*time.Second), false)

	snap, err := l.CheckLimits(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if snap.RPM.Used != 0 || snap.RPD.Used != 0 {
		t.Fatalf("failed events counted: %+v", snap)
	}
}

func TestRecordAppendsEvent(t *testing.T) {
	l, store, now := testLimiter(t)
	tokens := 500
	if err := l.Record(context.Background(), "user-1", types.RequestPDF, &tokens, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(context.Background(), "user-1", types.RequestURL, nil, false); err != nil {
		t.Fatalf("record: %v", err)
	}

	count, err := store.CountSuccessSince(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (failed event excluded)", count)
	}
	sum, err := store.SumTokensSince(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 500 {
		t.Fatalf("token sum = %d", sum)
	}
}

func TestStatsNeverFails(t *testing.T) {
	limits := testLimits()
	l := NewLimiter(failingStore{}, limits, nil)
	snap := l.Stats(context.Background())
	if snap.RPM.Remaining != limits.RPM || snap.RPD.Remaining != limits.RPD {
		t.Fatalf("degraded snapshot: %+v", snap)
	}
}

func TestStatsReportsWhileExhausted(t *testing.T) {
	l, store, now := testLimiter(t)
	seedEvents(t, store, 15, now.Add(-10*time.Second), true)

	if _, err := l.CheckLimits(context.Background()); types.KindOf(err) != types.KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	snap := l.Stats(context.Background())
	if snap.RPM.Used != 15 || snap.RPM.Remaining != 0 {
		t.Fatalf("stats while exhausted: %+v", snap.RPM)
	}
}

type failingStore struct{}

func (failingStore) Record(context.Context, types.UsageEvent) error { return errors.New("down") }
func (failingStore) CountSuccessSince(context.Context, time.Time) (int, error) {
	return 0, errors.New("down")
}
func (failingStore) OldestSuccessSince(context.Context, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("down")
}
func (failingStore) SumTokensSince(context.Context, time.Time) (int, error) {
	return 0, errors.New("down")
}
