package store

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is an in-memory HNSW index over fragment vectors with
// string IDs. Cosine distance on unit vectors.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	// String IDs map to internal uint64 keys. Deletion is lazy: the
	// node stays in the graph but loses its mapping, because removing
	// nodes from coder/hnsw can corrupt small graphs.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorHit is one nearest-neighbor result.
type vectorHit struct {
	ID    string
	Score float32
}

// NewVectorIndex creates an empty index for vectors of the given
// dimensionality.
func NewVectorIndex(dims int) *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Add inserts vectors under their IDs. Existing IDs are replaced.
func (x *VectorIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != x.dims {
			return fmt.Errorf("vector has %d dimensions, index expects %d", len(v), x.dims)
		}
	}

	for i, id := range ids {
		if oldKey, exists := x.idMap[id]; exists {
			delete(x.keyMap, oldKey)
			delete(x.idMap, id)
		}

		key := x.nextKey
		x.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		x.graph.Add(hnsw.MakeNode(key, vec))
		x.idMap[id] = key
		x.keyMap[key] = id
	}
	return nil
}

// Delete removes IDs from the index (lazily).
func (x *VectorIndex) Delete(ids []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return
	}
	for _, id := range ids {
		if key, exists := x.idMap[id]; exists {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
	}
}

// Search returns up to k nearest neighbors ordered by descending
// similarity score.
func (x *VectorIndex) Search(query []float32, k int) ([]vectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != x.dims {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(query), x.dims)
	}
	if len(x.idMap) == 0 || k <= 0 {
		return []vectorHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes that still sit
	// in the graph.
	fetch := k + (x.graph.Len() - len(x.idMap))
	nodes := x.graph.Search(normalized, fetch)

	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		id, live := x.keyMap[node.Key]
		if !live {
			continue
		}
		distance := x.graph.Distance(normalized, node.Value)
		hits = append(hits, vectorHit{ID: id, Score: cosineScore(distance)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Count returns the number of live vectors.
func (x *VectorIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return 0
	}
	return len(x.idMap)
}

// Close releases the graph.
func (x *VectorIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	return nil
}

// normalizeInPlace scales v to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// cosineScore maps cosine distance (0..2) to a similarity in 0..1.
func cosineScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
