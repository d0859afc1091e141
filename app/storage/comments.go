package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/commentguard/comment-guard/app/storage/engine"
	"github.com/commentguard/comment-guard/lib/comment"
)

var commentsSchema = engine.Query{
	Sqlite: `
		CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author_name TEXT NOT NULL DEFAULT '',
			author_email TEXT NOT NULL DEFAULT '',
			author_url TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			is_public BOOLEAN NOT NULL DEFAULT 1,
			is_removed BOOLEAN NOT NULL DEFAULT 0,
			accepted BOOLEAN NOT NULL DEFAULT 1,
			score REAL NOT NULL DEFAULT 0,
			checks TEXT NOT NULL DEFAULT '[]',
			submitted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_comments_ip ON comments(ip_address)`,
	Postgres: `
		CREATE TABLE IF NOT EXISTS comments (
			id SERIAL PRIMARY KEY,
			author_name TEXT NOT NULL DEFAULT '',
			author_email TEXT NOT NULL DEFAULT '',
			author_url TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			is_public BOOLEAN NOT NULL DEFAULT true,
			is_removed BOOLEAN NOT NULL DEFAULT false,
			accepted BOOLEAN NOT NULL DEFAULT true,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			checks TEXT NOT NULL DEFAULT '[]',
			submitted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_comments_ip ON comments(ip_address)`,
}

// CommentRecord is a stored comment with its validation outcome.
type CommentRecord struct {
	ID          int64     `db:"id"`
	AuthorName  string    `db:"author_name"`
	AuthorEmail string    `db:"author_email"`
	AuthorURL   string    `db:"author_url"`
	IPAddress   string    `db:"ip_address"`
	Body        string    `db:"body"`
	IsPublic    bool      `db:"is_public"`
	IsRemoved   bool      `db:"is_removed"`
	Accepted    bool      `db:"accepted"`
	Score       float64   `db:"score"`
	Checks      string    `db:"checks"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// Comments records validated comments and their outcomes, and serves
// per-address history to the validator chain.
type Comments struct {
	db   *engine.SQL
	lock engine.RWLocker
}

// NewComments creates the table if needed and returns the store.
func NewComments(ctx context.Context, db *engine.SQL) (*Comments, error) {
	if db == nil {
		return nil, fmt.Errorf("no db connection")
	}
	if err := engine.InitTable(ctx, db, commentsSchema); err != nil {
		return nil, fmt.Errorf("failed to init comments table: %w", err)
	}
	return &Comments{db: db, lock: db.MakeLock()}, nil
}

// Save records the comment with its validation result and per-check scores.
func (c *Comments) Save(ctx context.Context, cmt comment.Comment, res comment.Result, checks []comment.CheckResult) (int64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	checksJSON, err := json.Marshal(checks)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checks: %w", err)
	}

	query := c.db.Adopt(`INSERT INTO comments
		(author_name, author_email, author_url, ip_address, body, is_public, is_removed, accepted, score, checks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	switch c.db.Type() {
	case engine.Postgres:
		var id int64
		if err := c.db.GetContext(ctx, &id, query+" RETURNING id",
			cmt.AuthorName, cmt.AuthorEmail, cmt.AuthorURL, cmt.IPAddress, cmt.Body,
			res.IsPublic, cmt.IsRemoved, res.Accepted, res.Total, string(checksJSON)); err != nil {
			return 0, fmt.Errorf("failed to save comment: %w", err)
		}
		return id, nil
	default:
		r, err := c.db.ExecContext(ctx, query,
			cmt.AuthorName, cmt.AuthorEmail, cmt.AuthorURL, cmt.IPAddress, cmt.Body,
			res.IsPublic, cmt.IsRemoved, res.Accepted, res.Total, string(checksJSON))
		if err != nil {
			return 0, fmt.Errorf("failed to save comment: %w", err)
		}
		id, err := r.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to get comment id: %w", err)
		}
		return id, nil
	}
}

// CountNonPublicByIP returns how many stored comments from the address are not public.
func (c *Comments) CountNonPublicByIP(ctx context.Context, ip string) (int, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var count int
	query := c.db.Adopt("SELECT COUNT(1) FROM comments WHERE ip_address = ? AND NOT is_public")
	if err := c.db.GetContext(ctx, &count, query, ip); err != nil {
		return 0, fmt.Errorf("failed to count non-public comments for %s: %w", ip, err)
	}
	return count, nil
}

// Recent returns the latest stored comments, newest first.
func (c *Comments) Recent(ctx context.Context, limit int) ([]CommentRecord, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var res []CommentRecord
	query := c.db.Adopt(`SELECT id, author_name, author_email, author_url, ip_address, body,
		is_public, is_removed, accepted, score, checks, submitted_at
		FROM comments ORDER BY submitted_at DESC, id DESC LIMIT ?`)
	if err := c.db.SelectContext(ctx, &res, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent comments: %w", err)
	}
	return res, nil
}

// Get returns a single stored comment by id.
func (c *Comments) Get(ctx context.Context, id int64) (CommentRecord, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var res CommentRecord
	query := c.db.Adopt(`SELECT id, author_name, author_email, author_url, ip_address, body,
		is_public, is_removed, accepted, score, checks, submitted_at FROM comments WHERE id = ?`)
	if err := c.db.GetContext(ctx, &res, query, id); err != nil {
		return CommentRecord{}, fmt.Errorf("failed to get comment %d: %w", id, err)
	}
	return res, nil
}

// MarkPublic makes the selected comments public, returns the number updated.
func (c *Comments) MarkPublic(ctx context.Context, ids []int64) (int64, error) {
	return c.setFlag(ctx, "is_public", true, ids)
}

// MarkNotPublic hides the selected comments, returns the number updated.
func (c *Comments) MarkNotPublic(ctx context.Context, ids []int64) (int64, error) {
	return c.setFlag(ctx, "is_public", false, ids)
}

// MarkRemoved flags the selected comments as removed, returns the number updated.
func (c *Comments) MarkRemoved(ctx context.Context, ids []int64) (int64, error) {
	return c.setFlag(ctx, "is_removed", true, ids)
}

// MarkNotRemoved clears the removed flag, returns the number updated.
func (c *Comments) MarkNotRemoved(ctx context.Context, ids []int64) (int64, error) {
	return c.setFlag(ctx, "is_removed", false, ids)
}

// Delete removes the selected comments permanently, returns the number deleted.
func (c *Comments) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	clause, args := inClause(ids)
	query := c.db.Adopt("DELETE FROM comments WHERE id IN " + clause)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete comments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// IPBanner bans an address, reporting if the ban created a new record.
type IPBanner interface {
	Add(ctx context.Context, ip string) (bool, error)
}

// BanIPs bans the source addresses of the selected comments.
// returns how many bans were created and how many addresses were already banned.
func (c *Comments) BanIPs(ctx context.Context, ids []int64, banned IPBanner) (added, existing int, err error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}

	c.lock.RLock()
	clause, args := inClause(ids)
	var ips []string
	query := c.db.Adopt("SELECT DISTINCT ip_address FROM comments WHERE id IN " + clause + " AND ip_address != ''")
	selErr := c.db.SelectContext(ctx, &ips, query, args...)
	c.lock.RUnlock()
	if selErr != nil {
		return 0, 0, fmt.Errorf("failed to get addresses to ban: %w", selErr)
	}

	errs := new(multierror.Error)
	for _, ip := range ips {
		created, err := banned.Add(ctx, ip)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to ban %s: %w", ip, err))
			continue
		}
		if created {
			added++
		} else {
			existing++
		}
	}
	return added, existing, errs.ErrorOrNil()
}

func (c *Comments) setFlag(ctx context.Context, column string, value bool, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	clause, args := inClause(ids)
	query := c.db.Adopt(fmt.Sprintf("UPDATE comments SET %s = ? WHERE id IN %s", column, clause))
	res, err := c.db.ExecContext(ctx, query, append([]any{value}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
