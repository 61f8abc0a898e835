package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tessera.org/internal/auth"
	"tessera.org/internal/parameter"
	"tessera.org/internal/store/memory"
)

func TestSweepUsesRefreshLifetimeParameter(t *testing.T) {
	store := memory.New()
	store.PutParameter(parameter.Parameter{ID: "p1", Name: parameter.AuthRefreshTokenExpireDay.Name, Definition: "2"})
	params := parameter.NewService(store.Parameters(), 8, time.Minute)

	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
	ledger := auth.NewLedger(store.InvalidTokens(), func() time.Time { return now })
	ctx := context.Background()
	_ = store.InvalidTokens().SaveAll(ctx, []auth.InvalidToken{
		{TokenID: "three-days", CreatedAt: now.Add(-72 * time.Hour)},
		{TokenID: "one-day", CreatedAt: now.Add(-24 * time.Hour)},
	})

	sweeper := NewInvalidTokenSweeper(ledger, params, time.Hour, func() time.Time { return now })
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := store.InvalidTokens().FindByTokenID(ctx, "three-days"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("old record must be swept, got %v", err)
	}
	if _, err := store.InvalidTokens().FindByTokenID(ctx, "one-day"); err != nil {
		t.Fatalf("record inside retention must stay: %v", err)
	}
}

type brokenParams struct{}

func (brokenParams) Int(context.Context, parameter.Key) (int, error) {
	return 0, errors.New("store down")
}

type recordingLedger struct {
	threshold time.Time
	err       error
}

func (r *recordingLedger) DeleteAllCreatedBefore(_ context.Context, threshold time.Time) (int64, error) {
	r.threshold = threshold
	return 0, r.err
}

func TestSweepFallsBackWhenParameterUnavailable(t *testing.T) {
	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
	ledger := &recordingLedger{}
	sweeper := NewInvalidTokenSweeper(ledger, brokenParams{}, 24*time.Hour, func() time.Time { return now })
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !ledger.threshold.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("threshold = %v", ledger.threshold)
	}

	ledger.err = errors.New("db down")
	if err := sweeper.Sweep(context.Background()); err == nil {
		t.Fatal("ledger errors must surface")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(time.Second)
	if err := s.Add("bad", "every minute", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected parse error")
	}
	if err := s.Add("seconds", "*/5 * * * * *", func(context.Context) error { return nil }); err == nil {
		t.Fatal("six-field specs are not accepted")
	}
	if err := s.Add("nightly", "0 3 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestSchedulerRunBoundsJobContext(t *testing.T) {
	s := New(20 * time.Millisecond)
	var sawDeadline atomic.Bool
	s.run("probe", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	})
	if !sawDeadline.Load() {
		t.Fatal("job context must carry a deadline")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := New(time.Second)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
