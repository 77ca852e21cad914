package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Embedder turns texts into vectors.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)
}

// EmbeddingIndex holds one precomputed vector per table description. It is
// read-only after construction.
type EmbeddingIndex struct {
	embedder Embedder
	model    string
	timeout  time.Duration
	vectors  map[string][]float32
}

// BuildEmbeddingIndex embeds every description (table name → text) in one
// batch.
func BuildEmbeddingIndex(ctx context.Context, e Embedder, model string, descriptions map[string]string, timeout time.Duration, logger *zap.Logger) (*EmbeddingIndex, error) {
	names := make([]string, 0, len(descriptions))
	for name := range descriptions {
		names = append(names, name)
	}
	sort.Strings(names)

	inputs := make([]string, len(names))
	for i, n := range names {
		inputs[i] = descriptions[n]
	}

	vecs, err := e.CreateEmbeddings(ctx, inputs, model)
	if err != nil {
		return nil, fmt.Errorf("embed table descriptions: %w", err)
	}
	if len(vecs) != len(names) {
		return nil, fmt.Errorf("embed table descriptions: got %d vectors for %d tables", len(vecs), len(names))
	}

	idx := &EmbeddingIndex{
		embedder: e,
		model:    model,
		timeout:  timeout,
		vectors:  make(map[string][]float32, len(names)),
	}
	for i, n := range names {
		idx.vectors[n] = vecs[i]
	}
	logger.Named("retriever").Info("Embedding index built", zap.Int("tables", len(names)))
	return idx, nil
}

// Len returns the number of indexed tables.
func (ix *EmbeddingIndex) Len() int {
	return len(ix.vectors)
}

// Similarities embeds query and returns its cosine similarity to every
// indexed table.
func (ix *EmbeddingIndex) Similarities(ctx context.Context, query string) (map[string]float64, error) {
	if ix.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.timeout)
		defer cancel()
	}

	vecs, err := ix.embedder.CreateEmbeddings(ctx, []string{query}, ix.model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	out := make(map[string]float64, len(ix.vectors))
	for name, v := range ix.vectors {
		out[name] = cosine(vecs[0], v)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
