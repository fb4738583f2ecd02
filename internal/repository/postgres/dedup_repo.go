package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DedupRepo — реализация idempotency.Store на уникальном ключе (tenant_id, fingerprint).
type DedupRepo struct {
	db  *sql.DB
	ttl time.Duration
}

func NewDedupRepo(db *sql.DB, ttl time.Duration) *DedupRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupRepo{db: db, ttl: ttl}
}

// Claim вставляет отпечаток. Просроченная запись перезахватывается тем же запросом,
// поэтому конкурентные вызовы получают true ровно один раз.
func (r *DedupRepo) Claim(ctx context.Context, tenantID, fingerprint string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_dedup (tenant_id, fingerprint, claimed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id, fingerprint) DO UPDATE SET claimed_at = NOW()
		WHERE automation_dedup.claimed_at < NOW() - make_interval(secs => $3)`,
		tenantID, fingerprint, r.ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("postgres: claim dedup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: claim dedup: %w", err)
	}
	return n == 1, nil
}

func (r *DedupRepo) Release(ctx context.Context, tenantID, fingerprint string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM automation_dedup WHERE tenant_id = $1 AND fingerprint = $2`, tenantID, fingerprint)
	if err != nil {
		return fmt.Errorf("postgres: release dedup: %w", err)
	}
	return nil
}
