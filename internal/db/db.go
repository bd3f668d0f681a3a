// Package db stores the search index: file metadata, term postings for
// inverted search and an optional sqlite-vec table of file embeddings.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file inside an index directory.
const FileName = "index.db"

// ErrNoIndex is returned by OpenIndex when the directory holds no index.
var ErrNoIndex = errors.New("index not found")

type DB struct {
	conn     *sql.DB
	embedDim int
}

type File struct {
	ID         int64
	Path       string
	Name       string
	Ext        string
	Size       int64
	ModifiedTS int64
	Summary    string
	IndexedAt  int64
}

// Posting is one term occurrence count in one file.
type Posting struct {
	Term   string
	FileID int64
	TF     int
}

type Match struct {
	FileID   int64
	Distance float64
}

func init() {
	sqlite_vec.Auto()
}

// Open opens or creates the database at path.
func Open(path string, embedDim int) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, embedDim: embedDim}
	if err := db.init(); err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	return db, nil
}

// OpenIndex opens the index kept in dir. With create unset a directory
// without an index yields ErrNoIndex.
func OpenIndex(dir string, embedDim int, create bool) (*DB, error) {
	path := filepath.Join(dir, FileName)
	if !create {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w in %s", ErrNoIndex, dir)
			}
			return nil, err
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}
	return Open(path, embedDim)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) EmbedDim() int {
	return db.embedDim
}

func (db *DB) init() error {
	var vecVersion string
	if err := db.conn.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		return fmt.Errorf("sqlite-vec not available: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY,
			path TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			ext TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			modified_ts INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			indexed_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS terms (
			term TEXT NOT NULL,
			file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			tf INTEGER NOT NULL,
			PRIMARY KEY (term, file_id)
		) WITHOUT ROWID;

		CREATE INDEX IF NOT EXISTS idx_terms_file_id ON terms(file_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS vec_files USING vec0(
			file_id INTEGER PRIMARY KEY,
			embedding float[%d]
		);
	`, db.embedDim)

	_, err := db.conn.Exec(schema)
	return err
}

const fileColumns = "id, path, name, ext, size, modified_ts, summary, indexed_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (File, error) {
	var f File
	err := s.Scan(&f.ID, &f.Path, &f.Name, &f.Ext, &f.Size, &f.ModifiedTS, &f.Summary, &f.IndexedAt)
	return f, err
}

func (db *DB) GetFile(path string) (*File, error) {
	f, err := scanFile(db.conn.QueryRow("SELECT "+fileColumns+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFile inserts f or updates the row with the same path and returns
// its id.
func (db *DB) UpsertFile(f File) (int64, error) {
	var id int64
	err := db.conn.QueryRow(`
		INSERT INTO files (path, name, ext, size, modified_ts, summary, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			ext = excluded.ext,
			size = excluded.size,
			modified_ts = excluded.modified_ts,
			summary = excluded.summary,
			indexed_at = excluded.indexed_at
		RETURNING id
	`, f.Path, f.Name, f.Ext, f.Size, f.ModifiedTS, f.Summary, f.IndexedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ReplaceTerms swaps the postings of a file for tf.
func (db *DB) ReplaceTerms(fileID int64, tf map[string]int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM terms WHERE file_id = ?", fileID); err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO terms (term, file_id, tf) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck

	for term, n := range tf {
		if _, err := stmt.Exec(term, fileID, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Postings returns every posting of the given terms.
func (db *DB) Postings(terms []string) ([]Posting, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := "SELECT term, file_id, tf FROM terms WHERE term IN (" + placeholders(len(terms)) + ")"
	args := make([]any, len(terms))
	for i, t := range terms {
		args[i] = t
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.Term, &p.FileID, &p.TF); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FilesByID loads the given files keyed by id. Unknown ids are skipped.
func (db *DB) FilesByID(ids []int64) (map[int64]File, error) {
	out := make(map[int64]File, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.conn.Query("SELECT "+fileColumns+" FROM files WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out[f.ID] = f
	}
	return out, rows.Err()
}

func (db *DB) AllFiles() ([]File, error) {
	rows, err := db.conn.Query("SELECT " + fileColumns + " FROM files ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file with its postings and embedding. It reports
// whether the path was indexed.
func (db *DB) DeleteFile(path string) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	var id int64
	err = tx.QueryRow("SELECT id FROM files WHERE path = ?", path).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec("DELETE FROM vec_files WHERE file_id = ?", id); err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM terms WHERE file_id = ?", id); err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM files WHERE id = ?", id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Clear empties every table, leaving the schema in place.
func (db *DB) Clear() error {
	for _, table := range []string{"vec_files", "terms", "files"} {
		if _, err := db.conn.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// InsertEmbedding stores the serialized embedding of a file, replacing any
// previous one.
func (db *DB) InsertEmbedding(fileID int64, embedding []byte) error {
	if _, err := db.conn.Exec("DELETE FROM vec_files WHERE file_id = ?", fileID); err != nil {
		return err
	}
	_, err := db.conn.Exec(
		"INSERT INTO vec_files (file_id, embedding) VALUES (?, ?)",
		fileID, embedding,
	)
	return err
}

func (db *DB) SearchSimilar(queryEmbedding []byte, limit int) ([]Match, error) {
	rows, err := db.conn.Query(`
		SELECT file_id, distance
		FROM vec_files
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, queryEmbedding, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var results []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.FileID, &m.Distance); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func (db *DB) FileCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM files").Scan(&count)
	return count, err
}

func (db *DB) EmbeddingCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM vec_files").Scan(&count)
	return count, err
}

// SchemaFields lists the stored columns of an indexed file.
func (db *DB) SchemaFields() ([]string, error) {
	rows, err := db.conn.Query("SELECT name FROM pragma_table_info('files') ORDER BY cid")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var fields []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		fields = append(fields, name)
	}
	return fields, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
