package faceindex

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/cin-capture/internal/constants"
)

const indexMetadataVersion = 1

// Entry is the indexed portrait of one document.
type Entry struct {
	DocumentID int64
	Embedding  []float32
	DetScore   float64
	Model      string
	IndexedAt  time.Time
}

// Metadata describes a persisted index.
type Metadata struct {
	Count         int       `json:"count"`
	MaxDocumentID int64     `json:"max_document_id"`
	BuildTime     time.Time `json:"build_time"`
	Version       int       `json:"version"`
}

// Neighbor is one search hit.
type Neighbor struct {
	DocumentID int64
	Cosine     float64
}

// Index keeps face embeddings in an HNSW graph. Removing or replacing an entry leaves a
// stale node in the graph; stale nodes are skipped at search time and dropped when the
// index is saved. Replaced entries are scored directly until then.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[int64]
	entries map[int64]*Entry
	pending map[int64]bool
	stale   int
	dim     int
	path    string
}

// NewIndex creates an empty index persisted at path. An empty path keeps it in memory.
func NewIndex(path string) *Index {
	return &Index{
		entries: make(map[int64]*Entry),
		pending: make(map[int64]bool),
		path:    path,
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.EfSearch = constants.HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Path returns where the index is persisted.
func (x *Index) Path() string {
	return x.path
}

// Add indexes e, replacing any previous entry of the same document.
func (x *Index) Add(e Entry) error {
	if len(e.Embedding) == 0 {
		return errors.New("empty embedding")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim != 0 && len(e.Embedding) != x.dim {
		return fmt.Errorf("embedding dimension %d, index holds %d", len(e.Embedding), x.dim)
	}
	if x.graph == nil {
		x.graph = newGraph()
	}
	x.dim = len(e.Embedding)
	_, replaced := x.entries[e.DocumentID]
	x.entries[e.DocumentID] = &e
	if replaced {
		// Keys are unique in the graph; the new embedding joins it at the next compact.
		x.stale++
		x.pending[e.DocumentID] = true
		return nil
	}
	x.graph.Add(hnsw.MakeNode(e.DocumentID, slices.Clone(e.Embedding)))
	return nil
}

// Remove drops the entry of a document. It reports whether one existed.
func (x *Index) Remove(id int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.entries[id]; !ok {
		return false
	}
	delete(x.entries, id)
	delete(x.pending, id)
	x.stale++
	return true
}

// Has reports whether a document is indexed.
func (x *Index) Has(id int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.entries[id]
	return ok
}

// IDs returns the indexed document ids in ascending order.
func (x *Index) IDs() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]int64, 0, len(x.entries))
	for id := range x.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of indexed documents.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Search returns up to k documents closest to query, most similar first.
func (x *Index) Search(query []float32, k int) []Neighbor {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.entries) == 0 || k <= 0 || len(query) != x.dim {
		return nil
	}

	nodes := x.graph.Search(query, k*constants.HNSWSearchMultiplier+x.stale)

	seen := make(map[int64]bool, len(nodes))
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		e, ok := x.entries[n.Key]
		if !ok || seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		out = append(out, Neighbor{DocumentID: n.Key, Cosine: CosineSimilarity(query, e.Embedding)})
	}
	for id := range x.pending {
		if !seen[id] {
			out = append(out, Neighbor{DocumentID: id, Cosine: CosineSimilarity(query, x.entries[id].Embedding)})
		}
	}

	slices.SortStableFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Cosine > b.Cosine:
			return -1
		case a.Cosine < b.Cosine:
			return 1
		}
		return 0
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// compact rebuilds the graph from the live entries. Callers hold the write lock.
func (x *Index) compact() {
	if x.stale == 0 && x.graph != nil {
		return
	}
	x.stale = 0
	clear(x.pending)
	if len(x.entries) == 0 {
		x.graph = nil
		return
	}

	ids := make([]int64, 0, len(x.entries))
	for id := range x.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	g := newGraph()
	for _, id := range ids {
		g.Add(hnsw.MakeNode(id, slices.Clone(x.entries[id].Embedding)))
	}
	x.graph = g
}

// Save drops stale nodes and writes the graph to the index path, the entries next to it
// (.docs) and the metadata (.meta). An empty index removes the files.
func (x *Index) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.compact()
	if x.path == "" {
		return nil
	}
	if x.graph == nil {
		// Best-effort cleanup.
		_ = os.Remove(x.path)
		_ = os.Remove(x.path + ".docs")
		_ = os.Remove(x.path + ".meta")
		return nil
	}

	if dir := filepath.Dir(x.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	var graph bytes.Buffer
	if err := x.graph.Export(&graph); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := writeFileAtomic(x.path, graph.Bytes()); err != nil {
		return fmt.Errorf("failed to write HNSW index file: %w", err)
	}

	entries := make([]Entry, 0, len(x.entries))
	meta := Metadata{BuildTime: time.Now().UTC(), Version: indexMetadataVersion}
	for _, e := range x.entries {
		entries = append(entries, *e)
		meta.MaxDocumentID = max(meta.MaxDocumentID, e.DocumentID)
	}
	meta.Count = len(entries)

	var docs bytes.Buffer
	if err := gob.NewEncoder(&docs).Encode(entries); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}
	if err := writeFileAtomic(x.path+".docs", docs.Bytes()); err != nil {
		return fmt.Errorf("failed to write entries file: %w", err)
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFileAtomic(x.path+".meta", metaData); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load replaces the index content with what is stored at the index path. A missing
// file leaves the index empty.
func (x *Index) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.path == "" {
		return nil
	}
	if _, err := os.Stat(x.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	data, err := os.ReadFile(x.path + ".docs") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read entries file: %w", err)
	}
	var entries []Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode entries: %w", err)
	}

	saved, err := hnsw.LoadSavedGraph[int64](x.path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	x.entries = make(map[int64]*Entry, len(entries))
	x.pending = make(map[int64]bool)
	x.dim = 0
	for i := range entries {
		x.entries[entries[i].DocumentID] = &entries[i]
		x.dim = len(entries[i].Embedding)
	}
	x.graph = saved.Graph
	x.stale = 0
	if x.graph.Len() != len(x.entries) {
		// Graph and entries disagree; the entries win.
		x.graph = nil
		x.stale = 1
		x.compact()
	}
	return nil
}

// LoadMetadata reads the metadata of an index persisted at path.
func LoadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
