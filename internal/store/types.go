// Package store persists documents and their embedded fragments.
//
// SQLite (pure Go driver) is the source of truth; an in-memory HNSW
// graph over the fragment vectors serves similarity queries and is
// rebuilt from SQLite on startup.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Identity names a document within the store.
type Identity struct {
	// Collection is the namespace the document belongs to. Empty means
	// the default collection.
	Collection string
	// Path is the client-supplied document path, unique per collection.
	Path string
}

// String renders the identity for logs and error messages.
func (id Identity) String() string {
	if id.Collection == "" {
		return id.Path
	}
	return id.Collection + "/" + id.Path
}

// Outcome describes what an upsert did.
type Outcome string

const (
	// OutcomeCreated means the document was new.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means existing fragments were replaced.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged means the content hash matched and nothing was written.
	OutcomeUnchanged Outcome = "unchanged"
)

// Document is the stored metadata for one indexed document.
type Document struct {
	ID            string
	Identity      Identity
	ContentHash   string
	SizeBytes     int64
	FragmentCount int
	IndexedAt     time.Time
}

// Fragment is one embedded window of a document.
type Fragment struct {
	Ordinal int
	Content string
	Vector  []float32
}

// SimilarFragment is a similarity search hit.
type SimilarFragment struct {
	Identity Identity
	Ordinal  int
	Content  string
	Score    float32
}

// Stats summarizes store contents.
type Stats struct {
	Documents int
	Fragments int
}

// documentID derives a stable ID from the identity.
func documentID(id Identity) string {
	sum := sha256.Sum256([]byte(id.Collection + "\x00" + id.Path))
	return hex.EncodeToString(sum[:16])
}

// fragmentID derives a fragment ID from document, content version, and
// position. A content change produces fresh IDs, which keeps stale
// vectors out of the similarity index.
func fragmentID(docID, contentHash string, ordinal int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", docID, contentHash, ordinal))
	return hex.EncodeToString(sum[:16])
}
