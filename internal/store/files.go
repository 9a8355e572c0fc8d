package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Hash provenance for a file row. Only "bytes" is a true content hash; the
// derived sources give a stable identity when raw bytes never reached us,
// which dedups repeats of the same submission but not re-encodes.
const (
	HashSrcBytes       = "bytes"
	HashSrcFingerprint = "fingerprint"
	HashSrcMetadata    = "metadata"
)

// File is a content-addressed file descriptor: one row per distinct
// (kg, sha256), ever.
type File struct {
	ID        string
	KG        string
	SHA256    string
	Size      *int64
	Mime      string
	Name      string
	HashSrc   string
	CreatedAt int64
}

// FindOrCreateFile returns the file id for (kg, sha256), creating the row on
// first sight. Later callers with the same hash get the original id back, so
// identical content is stored once.
func (tx *Tx) FindOrCreateFile(f *File) (string, bool, error) {
	var id string
	err := tx.QueryRow(
		"SELECT id FROM kg_files WHERE kg = ? AND sha256 = ?", f.KG, f.SHA256,
	).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("find file: %w", err)
	}

	id = uuid.NewString()
	now := time.Now().UnixMilli()
	if f.HashSrc == "" {
		f.HashSrc = HashSrcBytes
	}
	_, err = tx.Exec(`
		INSERT INTO kg_files (id, kg, sha256, size, mime, name, hash_src, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
	`, id, f.KG, f.SHA256, f.Size, f.Mime, f.Name, f.HashSrc, now)
	if err != nil {
		return "", false, fmt.Errorf("create file: %w", err)
	}
	f.ID = id
	f.CreatedAt = now
	return id, true, nil
}

// AddAttachment joins an event to a file. One attachment per (event, file).
func (tx *Tx) AddAttachment(kg, eventID, fileID string) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO kg_attachments (kg, event_id, file_id, created_at)
		VALUES (?, ?, ?, ?)
	`, kg, eventID, fileID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add attachment: %w", err)
	}
	return nil
}

// GetFileByHash returns the file row for (kg, sha256), or nil if absent.
func (db *DB) GetFileByHash(kg, sha256 string) (*File, error) {
	var f File
	var size sql.NullInt64
	var mime, name sql.NullString
	err := db.QueryRow(`
		SELECT id, kg, sha256, size, mime, name, hash_src, created_at
		FROM kg_files WHERE kg = ? AND sha256 = ?
	`, kg, sha256).Scan(&f.ID, &f.KG, &f.SHA256, &size, &mime, &name, &f.HashSrc, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file by hash: %w", err)
	}
	if size.Valid {
		v := size.Int64
		f.Size = &v
	}
	f.Mime = mime.String
	f.Name = name.String
	return &f, nil
}

// CountAttachmentsForFile returns how many events reference a file.
func (db *DB) CountAttachmentsForFile(kg, fileID string) (int, error) {
	var n int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM kg_attachments WHERE kg = ? AND file_id = ?", kg, fileID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attachments: %w", err)
	}
	return n, nil
}

// SearchFiles finds files whose name, mime, or hash contains q.
func (db *DB) SearchFiles(kg, q string, limit int) ([]File, error) {
	p := likePattern(q)
	rows, err := db.Query(`
		SELECT id, kg, sha256, size, mime, name, hash_src, created_at
		FROM kg_files
		WHERE kg = ?
		  AND (name LIKE ? ESCAPE '\' OR mime LIKE ? ESCAPE '\' OR sha256 LIKE ? ESCAPE '\')
		ORDER BY created_at DESC
		LIMIT ?
	`, kg, p, p, p, limit)
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		var size sql.NullInt64
		var mime, name sql.NullString
		if err := rows.Scan(&f.ID, &f.KG, &f.SHA256, &size, &mime, &name, &f.HashSrc, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if size.Valid {
			v := size.Int64
			f.Size = &v
		}
		f.Mime = mime.String
		f.Name = name.String
		out = append(out, f)
	}
	return out, rows.Err()
}
