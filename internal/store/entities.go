package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Topic is a registry entry for a canonical subject identifier.
type Topic struct {
	KG      string  `json:"kg"`
	Topic   string  `json:"topic_wa"`
	Label   *string `json:"label"`
	FirstTS int64   `json:"first_ts"`
	LastTS  int64   `json:"last_ts"`
}

// Thread is a registry entry for a conversation grouping.
type Thread struct {
	KG       string  `json:"kg"`
	ThreadID string  `json:"thread_id"`
	Topic    *string `json:"topic_wa"`
	Title    *string `json:"title"`
	FirstTS  int64   `json:"first_ts"`
	LastTS   int64   `json:"last_ts"`
}

// ContainerRef points at an external container/canvas object.
type ContainerRef struct {
	KG          string  `json:"kg"`
	ContainerID string  `json:"container_id"`
	Path        string  `json:"path"`
	Kind        *string `json:"kind"`
	Title       *string `json:"title"`
	FirstTS     int64   `json:"first_ts"`
	LastTS      int64   `json:"last_ts"`
}

// mergeField keeps an existing non-null value; incoming only fills gaps.
// Registry rows enrich monotonically and never regress a known value.
func mergeField(existing, incoming *string) *string {
	if existing != nil {
		return existing
	}
	return incoming
}

// UpsertTopic merge-upserts a topic registry row. Read-modify-write inside
// the caller's transaction: existing non-null fields win, first_ts keeps the
// minimum, last_ts advances.
func (tx *Tx) UpsertTopic(t *Topic) error {
	now := time.Now().UnixMilli()
	if t.FirstTS == 0 {
		t.FirstTS = now
	}
	if t.LastTS == 0 {
		t.LastTS = t.FirstTS
	}

	var label sql.NullString
	var firstTS, lastTS int64
	err := tx.QueryRow(
		"SELECT label, first_ts, last_ts FROM kg_topics WHERE kg = ? AND topic_wa = ?",
		t.KG, t.Topic,
	).Scan(&label, &firstTS, &lastTS)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO kg_topics (kg, topic_wa, label, first_ts, last_ts)
			VALUES (?, ?, ?, ?, ?)
		`, t.KG, t.Topic, t.Label, t.FirstTS, t.LastTS)
		if err != nil {
			return fmt.Errorf("insert topic: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("check topic: %w", err)
	}

	var existingLabel *string
	if label.Valid {
		v := label.String
		existingLabel = &v
	}
	merged := mergeField(existingLabel, t.Label)
	if firstTS < t.FirstTS {
		t.FirstTS = firstTS
	}
	if lastTS > t.LastTS {
		t.LastTS = lastTS
	}

	_, err = tx.Exec(`
		UPDATE kg_topics SET label = ?, first_ts = ?, last_ts = ?
		WHERE kg = ? AND topic_wa = ?
	`, merged, t.FirstTS, t.LastTS, t.KG, t.Topic)
	if err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	t.Label = merged
	return nil
}

// UpsertThread merge-upserts a thread registry row with the same semantics
// as UpsertTopic.
func (tx *Tx) UpsertThread(th *Thread) error {
	now := time.Now().UnixMilli()
	if th.FirstTS == 0 {
		th.FirstTS = now
	}
	if th.LastTS == 0 {
		th.LastTS = th.FirstTS
	}

	var topic, title sql.NullString
	var firstTS, lastTS int64
	err := tx.QueryRow(
		"SELECT topic_wa, title, first_ts, last_ts FROM kg_threads WHERE kg = ? AND thread_id = ?",
		th.KG, th.ThreadID,
	).Scan(&topic, &title, &firstTS, &lastTS)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO kg_threads (kg, thread_id, topic_wa, title, first_ts, last_ts)
			VALUES (?, ?, ?, ?, ?, ?)
		`, th.KG, th.ThreadID, th.Topic, th.Title, th.FirstTS, th.LastTS)
		if err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("check thread: %w", err)
	}

	th.Topic = mergeField(nullStr(topic), th.Topic)
	th.Title = mergeField(nullStr(title), th.Title)
	if firstTS < th.FirstTS {
		th.FirstTS = firstTS
	}
	if lastTS > th.LastTS {
		th.LastTS = lastTS
	}

	_, err = tx.Exec(`
		UPDATE kg_threads SET topic_wa = ?, title = ?, first_ts = ?, last_ts = ?
		WHERE kg = ? AND thread_id = ?
	`, th.Topic, th.Title, th.FirstTS, th.LastTS, th.KG, th.ThreadID)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return nil
}

// UpsertContainerRef merge-upserts a container reference keyed by
// (kg, container_id, path).
func (tx *Tx) UpsertContainerRef(c *ContainerRef) error {
	now := time.Now().UnixMilli()
	if c.FirstTS == 0 {
		c.FirstTS = now
	}
	if c.LastTS == 0 {
		c.LastTS = c.FirstTS
	}

	var kind, title sql.NullString
	var firstTS, lastTS int64
	err := tx.QueryRow(`
		SELECT kind, title, first_ts, last_ts FROM kg_container_refs
		WHERE kg = ? AND container_id = ? AND path = ?
	`, c.KG, c.ContainerID, c.Path).Scan(&kind, &title, &firstTS, &lastTS)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO kg_container_refs (kg, container_id, path, kind, title, first_ts, last_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.KG, c.ContainerID, c.Path, c.Kind, c.Title, c.FirstTS, c.LastTS)
		if err != nil {
			return fmt.Errorf("insert container ref: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("check container ref: %w", err)
	}

	c.Kind = mergeField(nullStr(kind), c.Kind)
	c.Title = mergeField(nullStr(title), c.Title)
	if firstTS < c.FirstTS {
		c.FirstTS = firstTS
	}
	if lastTS > c.LastTS {
		c.LastTS = lastTS
	}

	_, err = tx.Exec(`
		UPDATE kg_container_refs SET kind = ?, title = ?, first_ts = ?, last_ts = ?
		WHERE kg = ? AND container_id = ? AND path = ?
	`, c.Kind, c.Title, c.FirstTS, c.LastTS, c.KG, c.ContainerID, c.Path)
	if err != nil {
		return fmt.Errorf("update container ref: %w", err)
	}
	return nil
}

func nullStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// GetTopic returns the registry row for (kg, topic), or nil if absent.
func (db *DB) GetTopic(kg, topic string) (*Topic, error) {
	var t Topic
	var label sql.NullString
	err := db.QueryRow(
		"SELECT kg, topic_wa, label, first_ts, last_ts FROM kg_topics WHERE kg = ? AND topic_wa = ?",
		kg, topic,
	).Scan(&t.KG, &t.Topic, &label, &t.FirstTS, &t.LastTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	t.Label = nullStr(label)
	return &t, nil
}

// ListTopics returns a namespace's topic registry, most recently active first.
func (db *DB) ListTopics(kg string, limit int) ([]Topic, error) {
	rows, err := db.Query(
		"SELECT kg, topic_wa, label, first_ts, last_ts FROM kg_topics WHERE kg = ? ORDER BY last_ts DESC LIMIT ?",
		kg, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		var t Topic
		var label sql.NullString
		if err := rows.Scan(&t.KG, &t.Topic, &label, &t.FirstTS, &t.LastTS); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		t.Label = nullStr(label)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetThread returns the registry row for (kg, thread_id), or nil if absent.
func (db *DB) GetThread(kg, threadID string) (*Thread, error) {
	var th Thread
	var topic, title sql.NullString
	err := db.QueryRow(
		"SELECT kg, thread_id, topic_wa, title, first_ts, last_ts FROM kg_threads WHERE kg = ? AND thread_id = ?",
		kg, threadID,
	).Scan(&th.KG, &th.ThreadID, &topic, &title, &th.FirstTS, &th.LastTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	th.Topic = nullStr(topic)
	th.Title = nullStr(title)
	return &th, nil
}

// GetContainerRef returns the row for (kg, container_id, path), or nil.
func (db *DB) GetContainerRef(kg, containerID, path string) (*ContainerRef, error) {
	var c ContainerRef
	var kind, title sql.NullString
	err := db.QueryRow(`
		SELECT kg, container_id, path, kind, title, first_ts, last_ts
		FROM kg_container_refs WHERE kg = ? AND container_id = ? AND path = ?
	`, kg, containerID, path).Scan(&c.KG, &c.ContainerID, &c.Path, &kind, &title, &c.FirstTS, &c.LastTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get container ref: %w", err)
	}
	c.Kind = nullStr(kind)
	c.Title = nullStr(title)
	return &c, nil
}
