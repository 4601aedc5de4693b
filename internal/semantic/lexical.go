package semantic

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/xkilldash9x/arborist/internal/textnorm"
)

// DefaultLexicalDim is the vector width of the lexical embedder.
const DefaultLexicalDim = 512

// LexicalEmbedder is an offline embedder that hashes canonical tokens and
// character trigrams into a fixed-width, L2-normalised vector. It needs no
// network or model and is deterministic, which makes it the default provider.
type LexicalEmbedder struct {
	Dim int
}

var _ Embedder = LexicalEmbedder{}

// Name identifies the embedder in logs.
func (LexicalEmbedder) Name() string { return "lexical" }

// Embed never fails.
func (l LexicalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dim := l.Dim
	if dim <= 0 {
		dim = DefaultLexicalDim
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = l.vector(t, dim)
	}
	return out, nil
}

func (l LexicalEmbedder) vector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, tok := range textnorm.Tokenize(text) {
		vec[bucket("t:"+tok, dim)] += 2
	}
	runes := []rune(textnorm.Normalize(text))
	for i := 0; i+3 <= len(runes); i++ {
		vec[bucket("g:"+string(runes[i:i+3]), dim)]++
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func bucket(feature string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum32() % uint32(dim))
}
