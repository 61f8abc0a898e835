package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tessera.org/internal/obs"
)

// Ledger records revoked token ids. A recorded jti stays rejected until the
// sweep removes it, which happens only after any token carrying it has expired.
type Ledger struct {
	store InvalidTokenStore
	now   func() time.Time
}

// NewLedger records revoked token ids in store. A nil now uses time.Now.
func NewLedger(store InvalidTokenStore, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// CheckForInvalidityOfToken fails with ErrTokenAlreadyInvalidated when tokenID is recorded.
func (l *Ledger) CheckForInvalidityOfToken(ctx context.Context, tokenID string) error {
	_, err := l.store.FindByTokenID(ctx, tokenID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: tokenId %s", ErrTokenAlreadyInvalidated, tokenID)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

// InvalidateTokens records every distinct non-empty id in one store call.
func (l *Ledger) InvalidateTokens(ctx context.Context, tokenIDs ...string) error {
	now := l.now().UTC()
	seen := make(map[string]struct{}, len(tokenIDs))
	records := make([]InvalidToken, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		records = append(records, InvalidToken{TokenID: id, CreatedAt: now})
	}
	if len(records) == 0 {
		return nil
	}
	if err := l.store.SaveAll(ctx, records); err != nil {
		return err
	}
	obs.TokensInvalidated(len(records))
	return nil
}

// DeleteAllCreatedBefore removes records strictly older than threshold.
func (l *Ledger) DeleteAllCreatedBefore(ctx context.Context, threshold time.Time) (int64, error) {
	n, err := l.store.DeleteAllCreatedBefore(ctx, threshold)
	if err != nil {
		return 0, err
	}
	obs.TokensSwept(n)
	return n, nil
}
