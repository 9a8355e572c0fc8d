package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// EventRow is an event as stored in the log. Optional columns are empty
// strings / nil pointers rather than sql null types at this layer.
type EventRow struct {
	ID       string
	KG       string
	Owner    string
	ThreadID string
	Topic    string
	Type     string
	Kind     string
	TS       int64
	Size     *int64
	SHA256   string
	Payload  string // JSON body
}

// InsertEvent appends one event row. The log is append-only: a row with an
// id already present is left untouched, so re-submitting a batch re-derives
// edges and satellites (all idempotent) without duplicating the event.
func (tx *Tx) InsertEvent(e *EventRow) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO kg_events (id, kg, owner_wa, thread_id, topic_wa, type, kind, ts, size, sha256, payload)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?)
	`, e.ID, e.KG, e.Owner, e.ThreadID, e.Topic, e.Type, e.Kind, e.TS, e.Size, e.SHA256, e.Payload)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Cursor is a pagination position: the last-seen (ts, id) pair. Ordering is
// total — ts ascending with id as the tie-break — so no event is skipped or
// duplicated across pages.
type Cursor struct {
	TS int64
	ID string
}

// ParseCursor parses the wire form "ts:id". Returns ok=false for anything
// unparseable; callers treat that as "no cursor".
func ParseCursor(s string) (Cursor, bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return Cursor{}, false
	}
	ts, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil || ts < 0 {
		return Cursor{}, false
	}
	return Cursor{TS: ts, ID: s[i+1:]}, true
}

// String renders the wire form "ts:id".
func (c Cursor) String() string {
	return strconv.FormatInt(c.TS, 10) + ":" + c.ID
}

// EventQuery selects a page of events in (ts, id) order.
type EventQuery struct {
	KG       string
	ThreadID string   // exact thread match when set
	Topic    string   // exact topic match when set
	Types    []string // restrict to these types when non-empty
	Kinds    []string // restrict to these kinds when non-empty
	After    *Cursor  // exclusive start position
	Limit    int
}

// QueryEvents returns events matching q, strictly after the cursor, in total
// (ts, id) order, capped at q.Limit.
func (db *DB) QueryEvents(q EventQuery) ([]EventRow, error) {
	where := []string{"kg = ?"}
	args := []any{q.KG}

	if q.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, q.ThreadID)
	}
	if q.Topic != "" {
		where = append(where, "topic_wa = ?")
		args = append(args, q.Topic)
	}
	if len(q.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if len(q.Kinds) > 0 {
		where = append(where, "kind IN ("+placeholders(len(q.Kinds))+")")
		for _, k := range q.Kinds {
			args = append(args, k)
		}
	}
	if q.After != nil {
		where = append(where, "(ts > ? OR (ts = ? AND id > ?))")
		args = append(args, q.After.TS, q.After.TS, q.After.ID)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)

	rows, err := db.Query(`
		SELECT id, kg, owner_wa, thread_id, topic_wa, type, kind, ts, size, sha256, payload
		FROM kg_events
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func scanEvents(rows *sql.Rows) ([]EventRow, error) {
	var out []EventRow
	for rows.Next() {
		var e EventRow
		var topic, kind, sha sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&e.ID, &e.KG, &e.Owner, &e.ThreadID, &topic, &e.Type, &kind,
			&e.TS, &size, &sha, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Topic = topic.String
		e.Kind = kind.String
		e.SHA256 = sha.String
		if size.Valid {
			v := size.Int64
			e.Size = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ForgetFilter bounds a visit deletion. At least one of Host, Topic, FromMS,
// ToMS must be set; callers enforce that before reaching the store.
type ForgetFilter struct {
	KG     string
	Host   string
	Topic  string
	FromMS *int64
	ToMS   *int64
}

// ForgetVisits deletes visit events matching the filter and returns the
// number of rows removed.
func (db *DB) ForgetVisits(f ForgetFilter) (int64, error) {
	where := []string{"kg = ?", "type = 'visit'"}
	args := []any{f.KG}

	if f.Host != "" {
		where = append(where, "json_extract(payload, '$.host') = ?")
		args = append(args, f.Host)
	}
	if f.Topic != "" {
		where = append(where, "topic_wa = ?")
		args = append(args, f.Topic)
	}
	if f.FromMS != nil {
		where = append(where, "ts >= ?")
		args = append(args, *f.FromMS)
	}
	if f.ToMS != nil {
		where = append(where, "ts < ?")
		args = append(args, *f.ToMS)
	}

	res, err := db.Exec("DELETE FROM kg_events WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("forget visits: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// likePattern escapes LIKE metacharacters and wraps q for substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// SearchMessages finds message events whose text contains q.
func (db *DB) SearchMessages(kg, q string, limit int) ([]EventRow, error) {
	rows, err := db.Query(`
		SELECT id, kg, owner_wa, thread_id, topic_wa, type, kind, ts, size, sha256, payload
		FROM kg_events
		WHERE kg = ? AND type = 'message'
		  AND json_extract(payload, '$.text') LIKE ? ESCAPE '\'
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, kg, likePattern(q), limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SearchVisits finds visit events whose title, href, or host contains q.
func (db *DB) SearchVisits(kg, q string, limit int) ([]EventRow, error) {
	p := likePattern(q)
	rows, err := db.Query(`
		SELECT id, kg, owner_wa, thread_id, topic_wa, type, kind, ts, size, sha256, payload
		FROM kg_events
		WHERE kg = ? AND type = 'visit'
		  AND (json_extract(payload, '$.title') LIKE ? ESCAPE '\'
		    OR json_extract(payload, '$.href')  LIKE ? ESCAPE '\'
		    OR json_extract(payload, '$.host')  LIKE ? ESCAPE '\')
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, kg, p, p, p, limit)
	if err != nil {
		return nil, fmt.Errorf("search visits: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}
