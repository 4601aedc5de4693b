// Package semantic provides the optional embedding-based similarity oracle.
// Everything here is advisory: callers skip its contribution whenever it is
// slow, unavailable or returns an error.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/arborist/internal/kb"
)

// ErrDimensionMismatch is returned when an embedder produces vectors of
// inconsistent length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Match is one nearest KB entry with its cosine similarity.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Oracle answers nearest-neighbour queries over the KB.
type Oracle interface {
	// Ready lazily builds the index and reports whether queries can be served.
	Ready(ctx context.Context) bool
	// TopK returns the k most similar KB entries to query, best first.
	TopK(ctx context.Context, query string, k int) ([]Match, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

type row struct {
	id  string
	vec []float32
}

// Index is an Oracle over a KB index. The entry embeddings are computed once,
// on first use; concurrent first callers share a single build. A failed build
// is retried by the next caller.
type Index struct {
	embedder Embedder
	kb       *kb.Index
	group    singleflight.Group

	mu    sync.RWMutex
	rows  []row
	built bool

	log *zap.Logger
}

var _ Oracle = (*Index)(nil)

// NewIndex creates a lazily built semantic index.
func NewIndex(e Embedder, idx *kb.Index, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{embedder: e, kb: idx, log: logger.Named("SemanticIndex")}
}

// Ready builds the index if needed.
func (s *Index) Ready(ctx context.Context) bool {
	return s.ensure(ctx) == nil
}

func (s *Index) ensure(ctx context.Context) error {
	s.mu.RLock()
	built := s.built
	s.mu.RUnlock()
	if built {
		return nil
	}

	ch := s.group.DoChan("build", func() (any, error) {
		return nil, s.build(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Index) build(ctx context.Context) error {
	s.mu.RLock()
	built := s.built
	s.mu.RUnlock()
	if built {
		return nil
	}

	entries := s.kb.Entries()
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.SearchText()
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.log.Debug("Semantic index build failed", zap.String("embedder", s.embedder.Name()), zap.Error(err))
		return fmt.Errorf("failed to embed KB entries: %w", err)
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("embedder returned %d vectors for %d entries", len(vecs), len(entries))
	}

	rows := make([]row, len(entries))
	for i, e := range entries {
		rows[i] = row{id: e.ID, vec: vecs[i]}
	}

	s.mu.Lock()
	s.rows, s.built = rows, true
	s.mu.Unlock()
	s.log.Info("Semantic index built", zap.String("embedder", s.embedder.Name()), zap.Int("entries", len(rows)))
	return nil
}

// TopK embeds query and returns the k nearest entries by cosine similarity.
// Ties break by id.
func (s *Index) TopK(ctx context.Context, query string, k int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	q := vecs[0]

	s.mu.RLock()
	matches := make([]Match, 0, len(s.rows))
	for _, r := range s.rows {
		score, err := Cosine(q, r.vec)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		matches = append(matches, Match{ID: r.id, Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Cosine is the cosine similarity of two vectors. A zero vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
