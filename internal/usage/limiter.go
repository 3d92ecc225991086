package usage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"recipebox/internal/config"
	"recipebox/pkg/types"
)

// EventStore is the append-only usage log. Counts are derived per check
// rather than kept in a counter; the log doubles as an audit trail.
type EventStore interface {
	Record(ctx context.Context, ev types.UsageEvent) error
	// CountSuccessSince counts successful events with timestamp >= since.
	CountSuccessSince(ctx context.Context, since time.Time) (int, error)
	// OldestSuccessSince returns the earliest successful event timestamp
	// >= since, with ok=false when the window is empty.
	OldestSuccessSince(ctx context.Context, since time.Time) (time.Time, bool, error)
	// SumTokensSince totals tokens of successful events with timestamp >= since.
	SumTokensSince(ctx context.Context, since time.Time) (int, error)
}

// Window reports one budget dimension of a snapshot.
type Window struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Snapshot is the current view of the AI usage budget.
type Snapshot struct {
	RPM Window `json:"rpm"`
	RPD Window `json:"rpd"`
	TPM Window `json:"tpm"`
}

// Limiter enforces the shared per-minute and per-day AI call budget.
//
// The check-then-record sequence is not atomic: concurrent imports racing
// near a threshold can exceed the true limit by the number of in-flight
// requests. That race is accepted; the bound is request concurrency.
type Limiter struct {
	store  EventStore
	limits config.LimitsConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter constructs a limiter over the given event store.
func NewLimiter(store EventStore, limits config.LimitsConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:  store,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// CheckLimits verifies that one more AI call fits the budget. It must be
// called, and must succeed, strictly before any AI call. On an exhausted
// window it fails with a rate-limited error carrying a reset estimate.
func (l *Limiter) CheckLimits(ctx context.Context) (Snapshot, error) {
	now := l.now()
	minuteAgo := now.Add(-time.Minute)
	dayAgo := now.Add(-24 * time.Hour)

	rpmUsed, err := l.store.CountSuccessSince(ctx, minuteAgo)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count minute window: %w", err)
	}
	if rpmUsed >= l.limits.RPM {
		retry := l.minuteReset(ctx, now, minuteAgo)
		return Snapshot{}, &types.ImportError{
			Kind:       types.KindRateLimited,
			Message:    fmt.Sprintf("rate limit exceeded: %d requests per minute, try again in %d seconds", l.limits.RPM, int(math.Ceil(retry.Seconds()))),
			RetryAfter: retry,
		}
	}

	rpdUsed, err := l.store.CountSuccessSince(ctx, dayAgo)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count day window: %w", err)
	}
	if rpdUsed >= l.limits.RPD {
		resetAt, retry := l.dayReset(ctx, now, dayAgo)
		return Snapshot{}, &types.ImportError{
			Kind: types.KindRateLimited,
			Message: fmt.Sprintf("daily AI limit reached (%d/%d), resets in %d hours at %s",
				l.limits.RPD, l.limits.RPD, int(math.Ceil(retry.Hours())), resetAt.Format(time.RFC1123)),
			RetryAfter: retry,
		}
	}

	tpmUsed, err := l.store.SumTokensSince(ctx, minuteAgo)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sum minute tokens: %w", err)
	}

	return l.snapshot(rpmUsed, rpdUsed, tpmUsed), nil
}

// Record appends one usage event unconditionally. Failed attempts keep
// their audit row but are excluded from future window counts via
// success=false.
func (l *Limiter) Record(ctx context.Context, userID string, reqType types.RequestType, tokensUsed *int, success bool) error {
	ev := types.UsageEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		RequestType: reqType,
		TokensUsed:  tokensUsed,
		Success:     success,
		Timestamp:   l.now().UTC(),
	}
	if err := l.store.Record(ctx, ev); err != nil {
		return fmt.Errorf("record usage event: %w", err)
	}
	return nil
}

// Stats recomputes the same windows for display. It never fails: store
// errors degrade to zero counts and a log line.
func (l *Limiter) Stats(ctx context.Context) Snapshot {
	now := l.now()
	minuteAgo := now.Add(-time.Minute)
	dayAgo := now.Add(-24 * time.Hour)

	rpmUsed, err := l.store.CountSuccessSince(ctx, minuteAgo)
	if err != nil {
		l.logger.Warn("usage stats minute count failed", "error", err)
	}
	rpdUsed, err := l.store.CountSuccessSince(ctx, dayAgo)
	if err != nil {
		l.logger.Warn("usage stats day count failed", "error", err)
	}
	tpmUsed, err := l.store.SumTokensSince(ctx, minuteAgo)
	if err != nil {
		l.logger.Warn("usage stats token sum failed", "error", err)
	}
	return l.snapshot(rpmUsed, rpdUsed, tpmUsed)
}

func (l *Limiter) snapshot(rpmUsed, rpdUsed, tpmUsed int) Snapshot {
	return Snapshot{
		RPM: Window{Used: rpmUsed, Limit: l.limits.RPM, Remaining: l.limits.RPM - rpmUsed},
		RPD: Window{Used: rpdUsed, Limit: l.limits.RPD, Remaining: l.limits.RPD - rpdUsed},
		TPM: Window{Used: tpmUsed, Limit: l.limits.TPM, Remaining: l.limits.TPM - tpmUsed},
	}
}

// minuteReset estimates when the minute window frees a slot: the oldest
// successful event inside it ages out sixty seconds after it happened.
func (l *Limiter) minuteReset(ctx context.Context, now, minuteAgo time.Time) time.Duration {
	oldest, ok, err := l.store.OldestSuccessSince(ctx, minuteAgo)
	if err != nil || !ok {
		return time.Minute
	}
	retry := oldest.Add(time.Minute).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return retry
}

func (l *Limiter) dayReset(ctx context.Context, now, dayAgo time.Time) (time.Time, time.Duration) {
	oldest, ok, err := l.store.OldestSuccessSince(ctx, dayAgo)
	if err != nil || !ok {
		resetAt := now.Add(24 * time.Hour)
		return resetAt, 24 * time.Hour
	}
	resetAt := oldest.Add(24 * time.Hour)
	retry := resetAt.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return resetAt, retry
}
