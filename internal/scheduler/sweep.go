package scheduler

import (
	"context"
	"log/slog"
	"time"

	"tessera.org/internal/obs"
	"tessera.org/internal/parameter"
)

// Ledger is the sweep side of the invalidation ledger.
type Ledger interface {
	DeleteAllCreatedBefore(ctx context.Context, threshold time.Time) (int64, error)
}

type IntReader interface {
	Int(ctx context.Context, key parameter.Key) (int, error)
}

// InvalidTokenSweeper drops ledger records older than the refresh token
// lifetime. Every token they could block has expired by then.
type InvalidTokenSweeper struct {
	ledger   Ledger
	params   IntReader
	fallback time.Duration
	now      func() time.Time
}

// NewInvalidTokenSweeper uses AUTH_REFRESH_TOKEN_EXPIRE_DAY for the retention,
// or fallback when the parameter cannot be read.
func NewInvalidTokenSweeper(ledger Ledger, params IntReader, fallback time.Duration, now func() time.Time) *InvalidTokenSweeper {
	if now == nil {
		now = time.Now
	}
	return &InvalidTokenSweeper{ledger: ledger, params: params, fallback: fallback, now: now}
}

func (s *InvalidTokenSweeper) retention(ctx context.Context) time.Duration {
	if s.params != nil {
		days, err := s.params.Int(ctx, parameter.AuthRefreshTokenExpireDay)
		if err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour
		}
		if err != nil {
			obs.Logger().Warn("sweep_retention_fallback", slog.String("error", err.Error()))
		}
	}
	return s.fallback
}

// Sweep deletes every record created before now minus the retention.
func (s *InvalidTokenSweeper) Sweep(ctx context.Context) error {
	threshold := s.now().UTC().Add(-s.retention(ctx))
	n, err := s.ledger.DeleteAllCreatedBefore(ctx, threshold)
	if err != nil {
		return err
	}
	obs.Logger().Info("invalid_tokens_swept",
		slog.Int64("deleted", n),
		slog.Time("threshold", threshold),
	)
	return nil
}
