package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketgate/internal/quota"
)

// QuotaStore adapts Repo to quota.Store.
type QuotaStore struct {
	Repo Repo
}

var _ quota.Store = QuotaStore{}

// consumeCounter inserts or increments one counter unless the result would
// pass the limit, in which case it returns no row.
const consumeCounter = `INSERT INTO quota_counters(scope_key,window_start,count) SELECT ?,?,? WHERE ?<=?
ON CONFLICT(scope_key,window_start) DO UPDATE SET count=quota_counters.count+excluded.count
WHERE quota_counters.count+excluded.count<=?
RETURNING count`

// Consume increments each counter with a conditional upsert. When one is
// refused the counters already incremented in this call are decremented
// again so the step stays all-or-nothing even inside a caller's transaction.
func (s QuotaStore) Consume(ctx context.Context, counters []quota.Counter, n int64) ([]int64, bool, error) {
	out := make([]int64, len(counters))
	ok := true
	err := s.Repo.WithTx(ctx, func(ctx context.Context) error {
		for i, c := range counters {
			var count int64
			err := s.Repo.queryRow(ctx, consumeCounter, c.Key, c.WindowStart.Unix(), n, n, c.Limit, c.Limit).Scan(&count)
			if errors.Is(err, sql.ErrNoRows) {
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

func (s QuotaStore) release(ctx context.Context, counters []quota.Counter, n int64) error {
	for _, c := range counters {
		if _, err := s.Repo.exec(ctx, `UPDATE quota_counters SET count=count-? WHERE scope_key=? AND window_start=?`,
			n, c.Key, c.WindowStart.Unix()); err != nil {
			return fmt.Errorf("release %s: %w", c.Key, err)
		}
	}
	return nil
}

func (s QuotaStore) Counts(ctx context.Context, counters []quota.Counter) ([]int64, error) {
	out := make([]int64, len(counters))
	for i, c := range counters {
		err := s.Repo.queryRow(ctx, `SELECT count FROM quota_counters WHERE scope_key=? AND window_start=?`,
			c.Key, c.WindowStart.Unix()).Scan(&out[i])
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", c.Key, err)
		}
	}
	return out, nil
}
