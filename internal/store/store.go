package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	kerrors "github.com/knosi-ai/knosid/internal/errors"
)

// Store combines the SQLite metadata database with the in-memory
// vector index. All mutations go through SQLite transactions first;
// the vector index follows, under the store's write lock, so readers
// never observe a document with half its fragments replaced.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	index *VectorIndex
	lock  *FileLock
	dims  int

	closed bool
}

// Open opens the store under dataDir, creating it if needed. The data
// directory is locked against other knosid processes for the lifetime
// of the store.
func Open(dataDir string, dims int) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, kerrors.StorageUnavailable("failed to create data directory", err)
	}

	lock := NewFileLock(dataDir)
	held, err := lock.TryLock()
	if err != nil {
		return nil, kerrors.StorageUnavailable("failed to lock data directory", err)
	}
	if !held {
		return nil, kerrors.StorageUnavailable(
			fmt.Sprintf("data directory %s is in use by another knosid process", dataDir), nil)
	}

	db, err := openDatabase(filepath.Join(dataDir, "knosid.db"))
	if err != nil {
		_ = lock.Unlock()
		return nil, kerrors.StorageUnavailable("failed to open database", err)
	}

	s := &Store{db: db, index: NewVectorIndex(dims), lock: lock, dims: dims}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a throwaway store backed by an in-memory database.
func OpenInMemory(dims int) (*Store, error) {
	db, err := openDatabase("")
	if err != nil {
		return nil, kerrors.StorageUnavailable("failed to open database", err)
	}
	return &Store{db: db, index: NewVectorIndex(dims), dims: dims}, nil
}

// rebuildIndex loads all fragment vectors from SQLite into the HNSW
// graph. Called once at startup.
func (s *Store) rebuildIndex() error {
	rows, err := s.db.Query(`SELECT id, embedding FROM fragments`)
	if err != nil {
		return kerrors.StorageUnavailable("failed to load fragment vectors", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return kerrors.StorageUnavailable("failed to scan fragment vector", err)
		}
		vec, err := blobToVector(blob)
		if err != nil {
			return kerrors.New(kerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("fragment %s has a corrupt embedding", id), err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return kerrors.StorageUnavailable("failed to load fragment vectors", err)
	}

	if err := s.index.Add(ids, vectors); err != nil {
		return kerrors.New(kerrors.ErrCodeCorruptIndex, "failed to rebuild vector index", err)
	}
	if len(ids) > 0 {
		slog.Info("vector index rebuilt", slog.Int("fragments", len(ids)))
	}
	return nil
}

// FindByIdentity returns the stored document for id, or NotFound.
func (s *Store) FindByIdentity(ctx context.Context, id Identity) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kerrors.StorageUnavailable("store is closed", nil)
	}
	return s.findByIdentityLocked(ctx, id)
}

func (s *Store) findByIdentityLocked(ctx context.Context, id Identity) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_hash, size_bytes, fragment_count, indexed_at
		FROM documents WHERE collection = ? AND path = ?`,
		id.Collection, id.Path)

	doc := Document{Identity: id}
	err := row.Scan(&doc.ID, &doc.ContentHash, &doc.SizeBytes, &doc.FragmentCount, &doc.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, kerrors.NotFound(id.String())
	}
	if err != nil {
		return nil, kerrors.StorageUnavailable("failed to query document", err)
	}
	return &doc, nil
}

// Upsert stores a document and its fragments. A matching content hash
// is a no-op returning OutcomeUnchanged. A differing hash replaces all
// fragments atomically and returns OutcomeUpdated. A new identity
// returns OutcomeCreated.
func (s *Store) Upsert(ctx context.Context, id Identity, contentHash string, sizeBytes int64, fragments []Fragment) (Outcome, error) {
	for _, f := range fragments {
		if len(f.Vector) != s.dims {
			return "", kerrors.InternalError(
				fmt.Sprintf("fragment %d has %d dimensions, store expects %d", f.Ordinal, len(f.Vector), s.dims), nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", kerrors.StorageUnavailable("store is closed", nil)
	}

	existing, err := s.findByIdentityLocked(ctx, id)
	if err != nil && kerrors.GetCode(err) != kerrors.ErrCodeNotFound {
		return "", err
	}
	if existing != nil && existing.ContentHash == contentHash {
		return OutcomeUnchanged, nil
	}

	docID := documentID(id)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", kerrors.StorageUnavailable("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Collect the fragment IDs being replaced so the vector index can
	// drop them after commit.
	var staleIDs []string
	if existing != nil {
		staleIDs, err = fragmentIDsTx(ctx, tx, docID)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE document_id = ?`, docID); err != nil {
			return "", kerrors.StorageUnavailable("failed to delete old fragments", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, collection, path, content_hash, size_bytes, fragment_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			fragment_count = excluded.fragment_count,
			indexed_at = excluded.indexed_at`,
		docID, id.Collection, id.Path, contentHash, sizeBytes, len(fragments), now); err != nil {
		return "", kerrors.StorageUnavailable("failed to upsert document", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO fragments (id, document_id, ordinal, content, embedding)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", kerrors.StorageUnavailable("failed to prepare fragment insert", err)
	}
	defer func() { _ = insert.Close() }()

	newIDs := make([]string, len(fragments))
	newVectors := make([][]float32, len(fragments))
	for i, f := range fragments {
		fid := fragmentID(docID, contentHash, f.Ordinal)
		if _, err := insert.ExecContext(ctx, fid, docID, f.Ordinal, f.Content, vectorToBlob(f.Vector)); err != nil {
			return "", kerrors.StorageUnavailable("failed to insert fragment", err)
		}
		newIDs[i] = fid
		newVectors[i] = f.Vector
	}

	if err := tx.Commit(); err != nil {
		return "", kerrors.StorageUnavailable("failed to commit upsert", err)
	}

	// SQLite committed; mirror the change into the vector index while
	// still holding the write lock.
	s.index.Delete(staleIDs)
	if err := s.index.Add(newIDs, newVectors); err != nil {
		return "", kerrors.InternalError("failed to update vector index", err)
	}

	if existing != nil {
		return OutcomeUpdated, nil
	}
	return OutcomeCreated, nil
}

// Delete removes a document and all its fragments. Returns NotFound if
// the identity is not stored.
func (s *Store) Delete(ctx context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kerrors.StorageUnavailable("store is closed", nil)
	}

	docID := documentID(id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.StorageUnavailable("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	staleIDs, err := fragmentIDsTx(ctx, tx, docID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
	if err != nil {
		return kerrors.StorageUnavailable("failed to delete document", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return kerrors.StorageUnavailable("failed to delete document", err)
	}
	if affected == 0 {
		return kerrors.NotFound(id.String())
	}

	if err := tx.Commit(); err != nil {
		return kerrors.StorageUnavailable("failed to commit delete", err)
	}

	s.index.Delete(staleIDs)
	return nil
}

// fragmentIDsTx lists a document's fragment IDs inside a transaction.
func fragmentIDsTx(ctx context.Context, tx *sql.Tx, docID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM fragments WHERE document_id = ?`, docID)
	if err != nil {
		return nil, kerrors.StorageUnavailable("failed to list fragments", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, kerrors.StorageUnavailable("failed to scan fragment id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDocuments returns all stored documents ordered by path.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kerrors.StorageUnavailable("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, path, content_hash, size_bytes, fragment_count, indexed_at
		FROM documents ORDER BY collection, path`)
	if err != nil {
		return nil, kerrors.StorageUnavailable("failed to list documents", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Identity.Collection, &doc.Identity.Path,
			&doc.ContentHash, &doc.SizeBytes, &doc.FragmentCount, &doc.IndexedAt); err != nil {
			return nil, kerrors.StorageUnavailable("failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// TopKSimilar returns up to k fragments nearest to query, ordered by
// descending similarity; equal scores order by ascending ordinal.
// Asking for more fragments than stored returns them all.
func (s *Store) TopKSimilar(ctx context.Context, query []float32, k int) ([]SimilarFragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kerrors.StorageUnavailable("store is closed", nil)
	}

	hits, err := s.index.Search(query, k)
	if err != nil {
		return nil, kerrors.InternalError("vector search failed", err)
	}

	results := make([]SimilarFragment, 0, len(hits))
	for _, hit := range hits {
		row := s.db.QueryRowContext(ctx, `
			SELECT d.collection, d.path, f.ordinal, f.content
			FROM fragments f JOIN documents d ON d.id = f.document_id
			WHERE f.id = ?`, hit.ID)

		var sf SimilarFragment
		if err := row.Scan(&sf.Identity.Collection, &sf.Identity.Path, &sf.Ordinal, &sf.Content); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, kerrors.StorageUnavailable("failed to load fragment", err)
		}
		sf.Score = hit.Score
		results = append(results, sf)
	}

	// The graph returns approximate descending order; make it exact and
	// break score ties deterministically by ordinal.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Ordinal != results[j].Ordinal {
			return results[i].Ordinal < results[j].Ordinal
		}
		return results[i].Identity.String() < results[j].Identity.String()
	})
	return results, nil
}

// Stats returns document and fragment counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, kerrors.StorageUnavailable("store is closed", nil)
	}

	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.Documents); err != nil {
		return Stats{}, kerrors.StorageUnavailable("failed to count documents", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragments`).Scan(&st.Fragments); err != nil {
		return Stats{}, kerrors.StorageUnavailable("failed to count fragments", err)
	}
	return st, nil
}

// Dimensions returns the vector dimensionality the store was opened with.
func (s *Store) Dimensions() int { return s.dims }

// Close releases the database, index, and data directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.db.Close(); err != nil {
		firstErr = err
	}
	if err := s.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
