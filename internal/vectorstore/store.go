// Package vectorstore provides per-user long-term semantic memory: an
// on-disk flat L2 index over embedded message text with a parallel
// id-to-text mapping file.
package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/ashdown/steward-ai-agent/internal/embeddings"
)

// indexMagic identifies the index file format.
const indexMagic = uint32(0x53545657) // "STVW"

// Store is a flat vector index scoped to one user. All public methods
// are goroutine-safe.
type Store struct {
	userID      string
	indexPath   string
	mappingPath string
	embedder    embeddings.Embedder
	logger      *slog.Logger

	mu      sync.Mutex
	dim     int
	vectors [][]float32
	docs    map[int]string // index id -> document text
	nextID  int
}

// New opens the vector store for userID under baseDir, creating an
// empty index when none exists. An index file without its mapping file
// is out of sync and gets reset.
func New(baseDir, userID string, embedder embeddings.Embedder, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}

	s := &Store{
		userID:      userID,
		indexPath:   filepath.Join(baseDir, fmt.Sprintf("index_%s.bin", userID)),
		mappingPath: filepath.Join(baseDir, fmt.Sprintf("mapping_%s.json", userID)),
		embedder:    embedder,
		logger:      logger,
		docs:        make(map[int]string),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	indexData, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return nil // fresh store
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	mappingData, err := os.ReadFile(s.mappingPath)
	if os.IsNotExist(err) {
		s.logger.Warn("index found but mapping is missing, resetting index",
			"user_id", s.userID,
		)
		s.reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read mapping: %w", err)
	}

	if err := s.decodeIndex(indexData); err != nil {
		s.logger.Warn("index file is corrupt, resetting index",
			"user_id", s.userID,
			"error", err,
		)
		s.reset()
		return nil
	}

	var raw map[string]string
	if err := json.Unmarshal(mappingData, &raw); err != nil {
		return fmt.Errorf("parse mapping: %w", err)
	}
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("mapping key %q: %w", k, err)
		}
		s.docs[id] = v
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return nil
}

func (s *Store) decodeIndex(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("index too short")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != indexMagic {
		return fmt.Errorf("bad magic")
	}
	count := int(binary.LittleEndian.Uint32(data[4:8]))
	dim := int(binary.LittleEndian.Uint32(data[8:12]))

	want := 12 + count*dim*4
	if len(data) != want {
		return fmt.Errorf("index size %d, want %d", len(data), want)
	}

	s.dim = dim
	s.vectors = make([][]float32, count)
	off := 12
	for i := range count {
		vec := make([]float32, dim)
		for j := range dim {
			bits := binary.LittleEndian.Uint32(data[off : off+4])
			vec[j] = math.Float32frombits(bits)
			off += 4
		}
		s.vectors[i] = vec
	}
	return nil
}

func (s *Store) save() error {
	buf := make([]byte, 12, 12+len(s.vectors)*s.dim*4)
	binary.LittleEndian.PutUint32(buf[0:4], indexMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(s.vectors)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.dim))

	scratch := make([]byte, 4)
	for _, vec := range s.vectors {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(scratch, math.Float32bits(f))
			buf = append(buf, scratch...)
		}
	}
	if err := os.WriteFile(s.indexPath, buf, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	raw := make(map[string]string, len(s.docs))
	for id, doc := range s.docs {
		raw[strconv.Itoa(id)] = doc
	}
	mappingData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	if err := os.WriteFile(s.mappingPath, mappingData, 0o644); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}
	return nil
}

func (s *Store) reset() {
	s.dim = 0
	s.vectors = nil
	s.docs = make(map[int]string)
	s.nextID = 0
}

// AddDocuments embeds the given texts in one batch and appends them to
// the index. The index and mapping files are rewritten on success.
func (s *Store) AddDocuments(ctx context.Context, documents []string) error {
	if len(documents) == 0 {
		return nil
	}

	vectors, err := s.embedder.GenerateBatch(ctx, documents)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, vec := range vectors {
		if s.dim == 0 {
			s.dim = len(vec)
		}
		if len(vec) != s.dim {
			return fmt.Errorf("embedding dim %d, index dim %d", len(vec), s.dim)
		}
		s.vectors = append(s.vectors, vec)
		s.docs[s.nextID] = documents[i]
		s.nextID++
	}

	return s.save()
}

// Search returns up to k stored documents nearest to query by L2
// distance. Neighbors whose distance exceeds maxDistance are dropped,
// not padded. An empty query or empty index returns nil.
func (s *Store) Search(ctx context.Context, query string, k int, maxDistance float64) ([]string, error) {
	if query == "" {
		return nil, nil
	}

	s.mu.Lock()
	empty := len(s.vectors) == 0
	s.mu.Unlock()
	if empty {
		return nil, nil
	}

	queryVec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		id   int
		dist float32
	}
	scores := make([]scored, 0, len(s.vectors))
	for id, vec := range s.vectors {
		scores = append(scores, scored{id: id, dist: embeddings.L2Distance(queryVec, vec)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })

	var results []string
	for _, sc := range scores {
		if len(results) >= k {
			break
		}
		if maxDistance > 0 && float64(sc.dist) > maxDistance {
			continue // not similar enough
		}
		if doc, ok := s.docs[sc.id]; ok {
			results = append(results, doc)
		}
	}
	return results, nil
}

// AllDocuments returns every stored document text. Order is not
// significant.
func (s *Store) AllDocuments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]string, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	return docs
}

// Clear removes the user's index and mapping files and resets the
// in-memory state. Part of the user-data-erasure path.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{s.indexPath, s.mappingPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	s.reset()
	return nil
}
