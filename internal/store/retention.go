package store

import (
	"database/sql"
	"fmt"
)

// RetentionRule deletes events of (kg, type[, kind]) older than Days. A nil
// Kind matches every kind.
type RetentionRule struct {
	ID   int64
	KG   string
	Type string
	Kind *string
	Days int
}

// ListRetentionRules returns all configured sweep rules.
func (db *DB) ListRetentionRules() ([]RetentionRule, error) {
	rows, err := db.Query("SELECT id, kg, type, kind, days FROM kg_retention ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list retention rules: %w", err)
	}
	defer rows.Close()

	var out []RetentionRule
	for rows.Next() {
		var r RetentionRule
		var kind sql.NullString
		if err := rows.Scan(&r.ID, &r.KG, &r.Type, &kind, &r.Days); err != nil {
			return nil, fmt.Errorf("scan retention rule: %w", err)
		}
		r.Kind = nullStr(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddRetentionRule inserts a sweep rule.
func (db *DB) AddRetentionRule(r *RetentionRule) error {
	res, err := db.Exec(
		"INSERT INTO kg_retention (kg, type, kind, days) VALUES (?, ?, ?, ?)",
		r.KG, r.Type, r.Kind, r.Days,
	)
	if err != nil {
		return fmt.Errorf("add retention rule: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// DeleteEventsOlderThan removes events of (kg, type[, kind]) with ts before
// cutoff. Deleting nothing is a correct no-op.
func (db *DB) DeleteEventsOlderThan(kg, typ string, kind *string, cutoff int64) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if kind == nil {
		res, err = db.Exec(
			"DELETE FROM kg_events WHERE kg = ? AND type = ? AND ts < ?",
			kg, typ, cutoff,
		)
	} else {
		res, err = db.Exec(
			"DELETE FROM kg_events WHERE kg = ? AND type = ? AND IFNULL(kind, '') = ? AND ts < ?",
			kg, typ, *kind, cutoff,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
