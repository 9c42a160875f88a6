package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	collection     TEXT NOT NULL,
	path           TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	fragment_count INTEGER NOT NULL,
	indexed_at     TIMESTAMP NOT NULL,
	UNIQUE(collection, path)
);

CREATE TABLE IF NOT EXISTS fragments (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	ordinal     INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	UNIQUE(document_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_fragments_document ON fragments(document_id);
`

// openDatabase opens (or creates) the metadata database. An empty path
// opens an in-memory database for tests.
func openDatabase(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// table-lock errors under concurrent upserts.
	db.SetMaxOpenConns(1)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas
	// explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

// vectorToBlob encodes a vector as little-endian float32 bytes.
func vectorToBlob(v []float32) []byte {
	blob := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(val))
	}
	return blob
}

// blobToVector decodes a little-endian float32 blob.
func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
