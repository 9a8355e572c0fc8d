package store

import (
	"testing"
	"time"
)

const testDayMS = int64(24 * time.Hour / time.Millisecond)

func TestRetentionRules(t *testing.T) {
	db := testDB(t)

	kind := "page"
	r := RetentionRule{KG: "personal", Type: "visit", Kind: &kind, Days: 30}
	if err := db.AddRetentionRule(&r); err != nil {
		t.Fatalf("AddRetentionRule: %v", err)
	}
	if r.ID == 0 {
		t.Error("rule id not set")
	}

	rules, err := db.ListRetentionRules()
	if err != nil {
		t.Fatalf("ListRetentionRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("len(rules) = %d, want 1", len(rules))
	}
	if rules[0].Kind == nil || *rules[0].Kind != "page" {
		t.Errorf("Kind = %v, want page", rules[0].Kind)
	}
}

// A 30-day rule deletes an event 31 days old and preserves one 29 days old.
func TestDeleteEventsOlderThanBoundary(t *testing.T) {
	db := testDB(t)

	now := time.Now().UnixMilli()
	insertTestEvent(t, db, &EventRow{
		ID: "old", KG: "personal", Owner: "a@x", ThreadID: "kg:personal:t",
		Type: "visit", TS: now - 31*testDayMS,
	})
	insertTestEvent(t, db, &EventRow{
		ID: "recent", KG: "personal", Owner: "a@x", ThreadID: "kg:personal:t",
		Type: "visit", TS: now - 29*testDayMS,
	})

	cutoff := now - 30*testDayMS
	n, err := db.DeleteEventsOlderThan("personal", "visit", nil, cutoff)
	if err != nil {
		t.Fatalf("DeleteEventsOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	rows, err := db.QueryEvents(EventQuery{KG: "personal", ThreadID: "kg:personal:t"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "recent" {
		t.Fatalf("remaining = %v, want just recent", rows)
	}
}

func TestDeleteEventsKindFilter(t *testing.T) {
	db := testDB(t)

	now := time.Now().UnixMilli()
	old := now - 40*testDayMS
	insertTestEvent(t, db, &EventRow{
		ID: "p1", KG: "personal", Owner: "a@x", ThreadID: "kg:personal:t",
		Type: "visit", Kind: "page", TS: old,
	})
	insertTestEvent(t, db, &EventRow{
		ID: "d1", KG: "personal", Owner: "a@x", ThreadID: "kg:personal:t",
		Type: "visit", Kind: "dwell", TS: old,
	})

	kind := "page"
	n, err := db.DeleteEventsOlderThan("personal", "visit", &kind, now)
	if err != nil {
		t.Fatalf("DeleteEventsOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1 (kind-scoped)", n)
	}

	// A nil kind matches every kind.
	n, err = db.DeleteEventsOlderThan("personal", "visit", nil, now)
	if err != nil {
		t.Fatalf("DeleteEventsOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want the remaining dwell row", n)
	}
}
