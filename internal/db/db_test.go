package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	tmpDir, err := os.MkdirTemp("", "sefind-db-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := Open(dbPath, 4) // Small dimension for testing
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestOpenIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")

	if _, err := OpenIndex(dir, 4, false); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}

	db, err := OpenIndex(dir, 4, true)
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	db.Close()

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("expected index file: %v", err)
	}

	db, err = OpenIndex(dir, 4, false)
	if err != nil {
		t.Fatalf("failed to reopen index: %v", err)
	}
	db.Close()
}

func TestFileCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	id, err := db.UpsertFile(File{Path: "/a/report.txt", Name: "report.txt", Ext: "txt", Size: 10, ModifiedTS: 1000})
	if err != nil {
		t.Fatalf("failed to insert file: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero file ID")
	}

	f, err := db.GetFile("/a/report.txt")
	if err != nil {
		t.Fatalf("failed to get file: %v", err)
	}
	if f == nil {
		t.Fatal("expected file, got nil")
	}
	if f.Size != 10 || f.Ext != "txt" {
		t.Errorf("unexpected file: %+v", f)
	}

	id2, err := db.UpsertFile(File{Path: "/a/report.txt", Name: "report.txt", Ext: "txt", Size: 20, Summary: "hello"})
	if err != nil {
		t.Fatalf("failed to update file: %v", err)
	}
	if id2 != id {
		t.Errorf("expected upsert to keep id %d, got %d", id, id2)
	}

	f, _ = db.GetFile("/a/report.txt")
	if f.Size != 20 || f.Summary != "hello" {
		t.Errorf("expected updated file, got %+v", f)
	}

	missing, err := db.GetFile("/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing file")
	}
}

func TestTermsAndPostings(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	a, _ := db.UpsertFile(File{Path: "/a", Name: "a"})
	b, _ := db.UpsertFile(File{Path: "/b", Name: "b"})

	if err := db.ReplaceTerms(a, map[string]int{"alpha": 2, "beta": 1}); err != nil {
		t.Fatalf("failed to write terms: %v", err)
	}
	if err := db.ReplaceTerms(b, map[string]int{"beta": 3}); err != nil {
		t.Fatalf("failed to write terms: %v", err)
	}

	postings, err := db.Postings([]string{"beta"})
	if err != nil {
		t.Fatalf("failed to read postings: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(postings))
	}

	if err := db.ReplaceTerms(a, map[string]int{"gamma": 1}); err != nil {
		t.Fatalf("failed to replace terms: %v", err)
	}
	postings, _ = db.Postings([]string{"alpha", "beta", "gamma"})
	if len(postings) != 2 {
		t.Errorf("expected 2 postings after replace, got %d", len(postings))
	}

	files, err := db.FilesByID([]int64{a, b, 999})
	if err != nil {
		t.Fatalf("failed to load files: %v", err)
	}
	if len(files) != 2 || files[b].Path != "/b" {
		t.Errorf("unexpected files: %+v", files)
	}
}

func TestDeleteFile(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	id, _ := db.UpsertFile(File{Path: "/a", Name: "a"})
	db.ReplaceTerms(id, map[string]int{"alpha": 1})
	emb, _ := sqlite_vec.SerializeFloat32([]float32{0.1, 0.2, 0.3, 0.4})
	if err := db.InsertEmbedding(id, emb); err != nil {
		t.Fatalf("failed to insert embedding: %v", err)
	}

	ok, err := db.DeleteFile("/a")
	if err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if !ok {
		t.Error("expected delete to report an indexed file")
	}

	postings, _ := db.Postings([]string{"alpha"})
	if len(postings) != 0 {
		t.Errorf("expected postings to be gone, got %d", len(postings))
	}
	count, _ := db.EmbeddingCount()
	if count != 0 {
		t.Errorf("expected embedding to be gone, got %d", count)
	}

	ok, err = db.DeleteFile("/a")
	if err != nil || ok {
		t.Errorf("expected second delete to be a no-op, got %v, %v", ok, err)
	}
}

func TestEmbeddingOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	near, _ := db.UpsertFile(File{Path: "/near", Name: "near"})
	far, _ := db.UpsertFile(File{Path: "/far", Name: "far"})

	nearEmb, err := sqlite_vec.SerializeFloat32([]float32{0.1, 0.2, 0.3, 0.4})
	if err != nil {
		t.Fatalf("failed to serialize embedding: %v", err)
	}
	farEmb, _ := sqlite_vec.SerializeFloat32([]float32{0.9, -0.5, 0.0, 0.7})

	if err := db.InsertEmbedding(near, nearEmb); err != nil {
		t.Fatalf("failed to insert embedding: %v", err)
	}
	if err := db.InsertEmbedding(far, farEmb); err != nil {
		t.Fatalf("failed to insert embedding: %v", err)
	}
	// Replacing keeps one row per file.
	if err := db.InsertEmbedding(near, nearEmb); err != nil {
		t.Fatalf("failed to replace embedding: %v", err)
	}

	results, err := db.SearchSimilar(nearEmb, 10)
	if err != nil {
		t.Fatalf("failed to search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].FileID != near {
		t.Errorf("expected nearest file first, got %d", results[0].FileID)
	}
}

func TestClearAndCount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for _, p := range []string{"/a", "/b", "/c"} {
		db.UpsertFile(File{Path: p, Name: filepath.Base(p)})
	}

	count, err := db.FileCount()
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 files, got %d", count)
	}

	all, _ := db.AllFiles()
	if len(all) != 3 || all[0].Path != "/a" {
		t.Errorf("unexpected files: %+v", all)
	}

	if err := db.Clear(); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	count, _ = db.FileCount()
	if count != 0 {
		t.Errorf("expected 0 files after clear, got %d", count)
	}
}

func TestSchemaFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	fields, err := db.SchemaFields()
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	want := []string{"id", "path", "name", "ext", "size", "modified_ts", "summary", "indexed_at"}
	if len(fields) != len(want) {
		t.Fatalf("expected %v, got %v", want, fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d: expected %s, got %s", i, want[i], fields[i])
		}
	}
}
