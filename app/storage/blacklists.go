package storage

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/commentguard/comment-guard/app/storage/engine"
	"github.com/commentguard/comment-guard/lib/validator"
)

// blacklistsSchema defines named weighted lists and their phrases.
// a phrase is unique within its list, deleting a list cascades to phrases.
var blacklistsSchema = engine.Query{
	Sqlite: `
		CREATE TABLE IF NOT EXISTS blacklists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			weight REAL NOT NULL DEFAULT 1.0
		);
		CREATE TABLE IF NOT EXISTS phrases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			blacklist_id INTEGER NOT NULL REFERENCES blacklists(id) ON DELETE CASCADE,
			phrase TEXT NOT NULL,
			UNIQUE(blacklist_id, phrase)
		);
		CREATE INDEX IF NOT EXISTS idx_phrases_blacklist ON phrases(blacklist_id)`,
	Postgres: `
		CREATE TABLE IF NOT EXISTS blacklists (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			weight DOUBLE PRECISION NOT NULL DEFAULT 1.0
		);
		CREATE TABLE IF NOT EXISTS phrases (
			id SERIAL PRIMARY KEY,
			blacklist_id INTEGER NOT NULL REFERENCES blacklists(id) ON DELETE CASCADE,
			phrase TEXT NOT NULL,
			UNIQUE(blacklist_id, phrase)
		);
		CREATE INDEX IF NOT EXISTS idx_phrases_blacklist ON phrases(blacklist_id)`,
}

// Blacklists keeps named weighted phrase lists used by the validator chain.
type Blacklists struct {
	db   *engine.SQL
	lock engine.RWLocker
}

// NewBlacklists creates the tables if needed and returns the store.
func NewBlacklists(ctx context.Context, db *engine.SQL) (*Blacklists, error) {
	if db == nil {
		return nil, fmt.Errorf("no db connection")
	}
	if err := engine.InitTable(ctx, db, blacklistsSchema); err != nil {
		return nil, fmt.Errorf("failed to init blacklists tables: %w", err)
	}
	return &Blacklists{db: db, lock: db.MakeLock()}, nil
}

// Create adds a new empty list with the given weight.
func (b *Blacklists) Create(ctx context.Context, name string, weight float64) error {
	if name == "" {
		return fmt.Errorf("blacklist name can't be empty")
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	query := b.db.Adopt("INSERT INTO blacklists (name, weight) VALUES (?, ?)")
	if _, err := b.db.ExecContext(ctx, query, name, weight); err != nil {
		return fmt.Errorf("failed to create blacklist %q: %w", name, err)
	}
	return nil
}

// SetWeight updates the weight of an existing list.
func (b *Blacklists) SetWeight(ctx context.Context, name string, weight float64) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	query := b.db.Adopt("UPDATE blacklists SET weight = ? WHERE name = ?")
	res, err := b.db.ExecContext(ctx, query, weight, name)
	if err != nil {
		return fmt.Errorf("failed to update weight for %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("blacklist %q not found", name)
	}
	return nil
}

// AddPhrases inserts phrases into the named list, duplicates are ignored.
// returns combined error with all failed phrases.
func (b *Blacklists) AddPhrases(ctx context.Context, name string, phrases ...string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	id, err := b.listID(ctx, name)
	if err != nil {
		return err
	}

	insert := engine.Query{
		Sqlite:   "INSERT OR IGNORE INTO phrases (blacklist_id, phrase) VALUES (?, ?)",
		Postgres: "INSERT INTO phrases (blacklist_id, phrase) VALUES (?, ?) ON CONFLICT (blacklist_id, phrase) DO NOTHING",
	}
	query, err := insert.Pick(b.db.Type())
	if err != nil {
		return fmt.Errorf("failed to pick insert query: %w", err)
	}
	query = b.db.Adopt(query)

	errs := new(multierror.Error)
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if _, err := b.db.ExecContext(ctx, query, id, phrase); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to add phrase %q to %q: %w", phrase, name, err))
		}
	}
	return errs.ErrorOrNil()
}

// DeletePhrase removes a single phrase from the named list.
func (b *Blacklists) DeletePhrase(ctx context.Context, name, phrase string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	id, err := b.listID(ctx, name)
	if err != nil {
		return err
	}
	query := b.db.Adopt("DELETE FROM phrases WHERE blacklist_id = ? AND phrase = ?")
	res, err := b.db.ExecContext(ctx, query, id, phrase)
	if err != nil {
		return fmt.Errorf("failed to delete phrase %q from %q: %w", phrase, name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("phrase %q not found in %q", phrase, name)
	}
	return nil
}

// Delete removes the list and all its phrases.
func (b *Blacklists) Delete(ctx context.Context, name string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	query := b.db.Adopt("DELETE FROM blacklists WHERE name = ?")
	res, err := b.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete blacklist %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("blacklist %q not found", name)
	}
	return nil
}

// All returns every list with its phrases, ordered by name and descending weight.
func (b *Blacklists) All(ctx context.Context) ([]validator.Blacklist, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	var lists []struct {
		ID     int64   `db:"id"`
		Name   string  `db:"name"`
		Weight float64 `db:"weight"`
	}
	if err := b.db.SelectContext(ctx, &lists,
		"SELECT id, name, weight FROM blacklists ORDER BY name, weight DESC"); err != nil {
		return nil, fmt.Errorf("failed to get blacklists: %w", err)
	}

	res := make([]validator.Blacklist, 0, len(lists))
	for _, l := range lists {
		var phrases []string
		query := b.db.Adopt("SELECT phrase FROM phrases WHERE blacklist_id = ? ORDER BY phrase")
		if err := b.db.SelectContext(ctx, &phrases, query, l.ID); err != nil {
			return nil, fmt.Errorf("failed to get phrases for %q: %w", l.Name, err)
		}
		res = append(res, validator.Blacklist{Name: l.Name, Weight: l.Weight, Phrases: phrases})
	}
	return res, nil
}

func (b *Blacklists) listID(ctx context.Context, name string) (int64, error) {
	var id int64
	query := b.db.Adopt("SELECT id FROM blacklists WHERE name = ?")
	if err := b.db.GetContext(ctx, &id, query, name); err != nil {
		return 0, fmt.Errorf("blacklist %q not found: %w", name, err)
	}
	return id, nil
}
