package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ticketgate/internal/quota"
)

var _ quota.Store = (*Store)(nil)

// consumeCounter inserts or increments one counter unless the result would
// pass the limit. The conflicting row is locked by the upsert, so concurrent
// callers on one key are serialized and see each other's increments.
const consumeCounter = `
INSERT INTO quota_counters (scope_key, window_start, count)
SELECT $1::text, $2::bigint, $3::bigint WHERE $3::bigint <= $4::bigint
ON CONFLICT (scope_key, window_start) DO UPDATE SET count = quota_counters.count + excluded.count
WHERE quota_counters.count + excluded.count <= $4::bigint
RETURNING count`

func (s *Store) Consume(ctx context.Context, counters []quota.Counter, n int64) ([]int64, bool, error) {
	out := make([]int64, len(counters))
	ok := true
	err := s.WithTx(ctx, func(ctx context.Context) error {
		for i, c := range counters {
			var count int64
			err := s.queryRow(ctx, consumeCounter, c.Key, c.WindowStart.Unix(), n, c.Limit).Scan(&count)
			if errors.Is(err, pgx.ErrNoRows) {
				ok = false
				return s.release(ctx, counters[:i], n)
			}
			if err != nil {
				return fmt.Errorf("consume %s: %w", c.Key, err)
			}
			out[i] = count
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *Store) release(ctx context.Context, counters []quota.Counter, n int64) error {
	for _, c := range counters {
		if _, err := s.exec(ctx, `UPDATE quota_counters SET count = count - $1 WHERE scope_key = $2 AND window_start = $3`,
			n, c.Key, c.WindowStart.Unix()); err != nil {
			return fmt.Errorf("release %s: %w", c.Key, err)
		}
	}
	return nil
}

func (s *Store) Counts(ctx context.Context, counters []quota.Counter) ([]int64, error) {
	out := make([]int64, len(counters))
	for i, c := range counters {
		err := s.queryRow(ctx, `SELECT count FROM quota_counters WHERE scope_key = $1 AND window_start = $2`,
			c.Key, c.WindowStart.Unix()).Scan(&out[i])
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", c.Key, err)
		}
	}
	return out, nil
}
