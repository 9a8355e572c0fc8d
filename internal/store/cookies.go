package store

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Cookie scopes.
const (
	ScopeAgent  = "agent"
	ScopeThread = "thread"
	ScopeTopic  = "topic"
	ScopeGlobal = "global"
)

// Cookie is a small TTL'd habit fact. The raw value is never stored — only
// its blake3 hash — so inspecting the store leaks at most what the caller
// chose to keep in Meta.
type Cookie struct {
	KG        string
	Scope     string
	Key       string
	Actor     string // "" unless agent-scoped
	ThreadID  string // "" unless thread-scoped
	Topic     string // "" unless topic-scoped
	ValueHash string
	Meta      string // JSON blob of caller-chosen plaintext
	CreatedAt int64
	UpdatedAt int64
	ExpiresAt *int64
}

// HashCookieValue one-way hashes a habit value for storage.
func HashCookieValue(v string) string {
	sum := blake3.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// UpsertCookie writes a habit fact, replacing the value of an existing row
// with the same identity. created_at survives updates.
func (tx *Tx) UpsertCookie(c *Cookie) error {
	now := time.Now().UnixMilli()

	var createdAt int64
	err := tx.QueryRow(`
		SELECT created_at FROM kg_cookies
		WHERE kg = ? AND scope = ? AND key = ? AND actor_wa = ? AND thread_id = ? AND topic_wa = ?
	`, c.KG, c.Scope, c.Key, c.Actor, c.ThreadID, c.Topic).Scan(&createdAt)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO kg_cookies (kg, scope, key, actor_wa, thread_id, topic_wa,
				value_hash, meta, created_at, updated_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.KG, c.Scope, c.Key, c.Actor, c.ThreadID, c.Topic,
			c.ValueHash, c.Meta, now, now, c.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert cookie %s/%s: %w", c.Scope, c.Key, err)
		}
		c.CreatedAt = now
	case err != nil:
		return fmt.Errorf("check cookie %s/%s: %w", c.Scope, c.Key, err)
	default:
		_, err = tx.Exec(`
			UPDATE kg_cookies SET value_hash = ?, meta = ?, updated_at = ?, expires_at = ?
			WHERE kg = ? AND scope = ? AND key = ? AND actor_wa = ? AND thread_id = ? AND topic_wa = ?
		`, c.ValueHash, c.Meta, now, c.ExpiresAt,
			c.KG, c.Scope, c.Key, c.Actor, c.ThreadID, c.Topic)
		if err != nil {
			return fmt.Errorf("update cookie %s/%s: %w", c.Scope, c.Key, err)
		}
		c.CreatedAt = createdAt
	}
	c.UpdatedAt = now
	return nil
}

// ListCookies returns current cookies for a namespace, optionally filtered
// by scope ("" = all scopes). Expired rows are excluded even if the sweeper
// has not removed them yet.
func (db *DB) ListCookies(kg, scope string, now int64) ([]Cookie, error) {
	q := `
		SELECT kg, scope, key, actor_wa, thread_id, topic_wa, value_hash, meta,
			created_at, updated_at, expires_at
		FROM kg_cookies
		WHERE kg = ? AND (expires_at IS NULL OR expires_at > ?)
	`
	args := []any{kg, now}
	if scope != "" {
		q += " AND scope = ?"
		args = append(args, scope)
	}
	q += " ORDER BY scope, key, actor_wa, thread_id, topic_wa"

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cookies: %w", err)
	}
	defer rows.Close()

	var out []Cookie
	for rows.Next() {
		var c Cookie
		var exp sql.NullInt64
		if err := rows.Scan(&c.KG, &c.Scope, &c.Key, &c.Actor, &c.ThreadID, &c.Topic,
			&c.ValueHash, &c.Meta, &c.CreatedAt, &c.UpdatedAt, &exp); err != nil {
			return nil, fmt.Errorf("scan cookie: %w", err)
		}
		if exp.Valid {
			v := exp.Int64
			c.ExpiresAt = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteExpiredCookies removes rows past their expiry.
func (db *DB) DeleteExpiredCookies(now int64) (int64, error) {
	res, err := db.Exec(
		"DELETE FROM kg_cookies WHERE expires_at IS NOT NULL AND expires_at <= ?", now,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired cookies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteCookiesOlderThan removes a namespace's cookies not updated since
// cutoff, regardless of expiry. Used by the default retention policy.
func (db *DB) DeleteCookiesOlderThan(kg string, cutoff int64) (int64, error) {
	res, err := db.Exec(
		"DELETE FROM kg_cookies WHERE kg = ? AND updated_at < ?", kg, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old cookies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
