package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/commentguard/comment-guard/app/storage/engine"
)

var bannedIPsSchema = engine.SameQuery(`
	CREATE TABLE IF NOT EXISTS banned_ips (
		ip TEXT PRIMARY KEY,
		banned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)

// BannedIP is a single banned address record.
type BannedIP struct {
	IP       string    `db:"ip"`
	BannedAt time.Time `db:"banned_at"`
}

// BannedIPs keeps the set of addresses whose comments are rejected outright.
type BannedIPs struct {
	db   *engine.SQL
	lock engine.RWLocker
}

// NewBannedIPs creates the table if needed and returns the store.
func NewBannedIPs(ctx context.Context, db *engine.SQL) (*BannedIPs, error) {
	if db == nil {
		return nil, fmt.Errorf("no db connection")
	}
	if err := engine.InitTable(ctx, db, bannedIPsSchema); err != nil {
		return nil, fmt.Errorf("failed to init banned_ips table: %w", err)
	}
	return &BannedIPs{db: db, lock: db.MakeLock()}, nil
}

// Add bans the address, reports if a new record was created.
// adding an already banned address is not an error.
func (b *BannedIPs) Add(ctx context.Context, ip string) (created bool, err error) {
	if ip == "" {
		return false, fmt.Errorf("ip can't be empty")
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	insert := engine.Query{
		Sqlite:   "INSERT OR IGNORE INTO banned_ips (ip) VALUES (?)",
		Postgres: "INSERT INTO banned_ips (ip) VALUES (?) ON CONFLICT (ip) DO NOTHING",
	}
	query, err := insert.Pick(b.db.Type())
	if err != nil {
		return false, fmt.Errorf("failed to pick insert query: %w", err)
	}
	res, err := b.db.ExecContext(ctx, b.db.Adopt(query), ip)
	if err != nil {
		return false, fmt.Errorf("failed to ban ip %s: %w", ip, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove lifts the ban for the address.
func (b *BannedIPs) Remove(ctx context.Context, ip string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	query := b.db.Adopt("DELETE FROM banned_ips WHERE ip = ?")
	res, err := b.db.ExecContext(ctx, query, ip)
	if err != nil {
		return fmt.Errorf("failed to remove ban for %s: %w", ip, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ip %s is not banned", ip)
	}
	return nil
}

// Contains reports whether the address is banned.
func (b *BannedIPs) Contains(ctx context.Context, ip string) (bool, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	var count int
	query := b.db.Adopt("SELECT COUNT(1) FROM banned_ips WHERE ip = ?")
	if err := b.db.GetContext(ctx, &count, query, ip); err != nil {
		return false, fmt.Errorf("failed to check ban for %s: %w", ip, err)
	}
	return count > 0, nil
}

// All returns banned addresses, most recent first.
func (b *BannedIPs) All(ctx context.Context) ([]BannedIP, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	var res []BannedIP
	if err := b.db.SelectContext(ctx, &res,
		"SELECT ip, banned_at FROM banned_ips ORDER BY banned_at DESC, ip"); err != nil {
		return nil, fmt.Errorf("failed to get banned ips: %w", err)
	}
	return res, nil
}
