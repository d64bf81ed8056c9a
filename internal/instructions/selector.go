package instructions

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ashdown/steward-ai-agent/internal/embeddings"
)

// Selector picks catalog fragments relevant to a user query. Semantic
// selection ranks fragments by L2 distance between the query embedding
// and each fragment description's embedding, keeping at most MaxFragments
// whose normalized similarity clears Threshold. Keyword selection is a
// plain substring match against the lower-cased query. Select returns
// the union of both.
type Selector struct {
	embedder  embeddings.Embedder
	logger    *slog.Logger
	threshold float64
	max       int

	mu       sync.Mutex
	descVecs [][]float32
}

// NewSelector builds a selector over the package catalog. Description
// embeddings are generated lazily on first semantic lookup.
func NewSelector(embedder embeddings.Embedder, threshold float64, max int, logger *slog.Logger) *Selector {
	return &Selector{
		embedder:  embedder,
		logger:    logger,
		threshold: threshold,
		max:       max,
	}
}

// Select returns the names of all relevant fragments, semantic matches
// first, then keyword matches not already present. A semantic failure
// degrades to keyword-only selection rather than failing the turn.
func (s *Selector) Select(ctx context.Context, query string) []string {
	semantic, err := s.selectSemantic(ctx, query)
	if err != nil {
		s.logger.Warn("semantic fragment selection failed, falling back to keywords", "error", err)
	}

	seen := make(map[string]bool, len(semantic))
	names := make([]string, 0, len(semantic))
	for _, n := range semantic {
		seen[n] = true
		names = append(names, n)
	}
	for _, n := range s.selectKeywords(query) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

func (s *Selector) selectSemantic(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vecs, err := s.descriptionVectors(ctx)
	if err != nil {
		return nil, err
	}
	queryVec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, err
	}

	type scored struct {
		name string
		sim  float64
	}
	// L2 distance between unit-ish vectors tops out around sqrt(2*dim);
	// normalizing against that turns distance into a 0..1 similarity.
	maxDist := math.Sqrt(float64(2 * len(queryVec)))

	var scores []scored
	for i, vec := range vecs {
		dist := embeddings.L2Distance(queryVec, vec)
		sim := 1 - float64(dist)/maxDist
		if sim >= s.threshold {
			scores = append(scores, scored{name: catalog[i].Name, sim: sim})
		}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].sim > scores[j].sim })
	if len(scores) > s.max {
		scores = scores[:s.max]
	}

	names := make([]string, 0, len(scores))
	for _, sc := range scores {
		s.logger.Debug("selected fragment", "name", sc.name, "similarity", sc.sim)
		names = append(names, sc.name)
	}
	return names, nil
}

func (s *Selector) selectKeywords(query string) []string {
	lower := strings.ToLower(query)
	var names []string
	for _, f := range catalog {
		for _, kw := range f.Keywords {
			if strings.Contains(lower, kw) {
				names = append(names, f.Name)
				break
			}
		}
	}
	return names
}

func (s *Selector) descriptionVectors(ctx context.Context) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.descVecs != nil {
		return s.descVecs, nil
	}

	descriptions := make([]string, len(catalog))
	for i, f := range catalog {
		descriptions[i] = f.Description
	}
	vecs, err := s.embedder.GenerateBatch(ctx, descriptions)
	if err != nil {
		return nil, err
	}
	s.descVecs = vecs
	return vecs, nil
}
