// Package embedding turns text into dense vectors for retrieval. Backends are
// a local ONNX sentence encoder and the Gemini embedding API; either can be
// wrapped in a two tier cache.
package embedding

import (
	"context"
	"errors"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmbedding is matched by every backend failure.
var ErrEmbedding = errors.New("embedding failed")

// Embedder exposes the minimal surface required by the retrieval layer.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID identifies the vector space; it is part of every cache key.
	ModelID() string
	Close() error
}

// NormalizeText applies NFKC and collapses whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// L2Normalize scales v to unit length in place. Zero vectors are left alone.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// MeanPool averages token embeddings of shape [tokens, hidden] over the
// positions where mask is non-zero.
func MeanPool(hidden []float32, tokens, dim int, mask []int64) []float32 {
	out := make([]float32, dim)
	var n float32
	for t := 0; t < tokens && t < len(mask); t++ {
		if mask[t] == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
