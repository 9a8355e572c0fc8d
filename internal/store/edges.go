package store

import (
	"fmt"
	"time"
)

// Relation kinds. The edge table is a true set over
// (kg, kind, src, dst) — re-deriving an existing edge is a no-op.
const (
	EdgeSentBy        = "SENT_BY"
	EdgeOnTopic       = "ON_TOPIC"
	EdgeInThread      = "IN_THREAD"
	EdgeHeldBy        = "HELD_BY"
	EdgeVisitedBy     = "VISITED_BY"
	EdgePartOf        = "PART_OF"
	EdgeHasAttachment = "HAS_ATTACHMENT"
	EdgeObservedFor   = "OBSERVED_FOR"
	EdgeAbout         = "ABOUT"
	EdgeEntanglement  = "ENTANGLEMENT"
)

// Edge is a typed directed relation between two entities.
type Edge struct {
	KG        string
	Kind      string
	SrcType   string
	SrcID     string
	DstType   string
	DstID     string
	CreatedAt int64
}

// InsertEdge adds an edge if absent. Duplicate derivations are idempotent
// no-ops via the unique key.
func (tx *Tx) InsertEdge(e Edge) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO kg_edges (kg, kind, src_type, src_id, dst_type, dst_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.KG, e.Kind, e.SrcType, e.SrcID, e.DstType, e.DstID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert edge %s: %w", e.Kind, err)
	}
	return nil
}

// EdgesFrom returns all edges out of a source entity.
func (db *DB) EdgesFrom(kg, srcType, srcID string) ([]Edge, error) {
	rows, err := db.Query(`
		SELECT kg, kind, src_type, src_id, dst_type, dst_id, created_at
		FROM kg_edges
		WHERE kg = ? AND src_type = ? AND src_id = ?
		ORDER BY kind, dst_type, dst_id
	`, kg, srcType, srcID)
	if err != nil {
		return nil, fmt.Errorf("edges from: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.KG, &e.Kind, &e.SrcType, &e.SrcID, &e.DstType, &e.DstID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEdges returns the number of edges in a namespace.
func (db *DB) CountEdges(kg string) (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM kg_edges WHERE kg = ?", kg).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	return n, nil
}
