package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// EmbeddingFunc produces a fixed-dimension vector for a text. Vectors must
// be cosine-comparable and stable: the same text always yields the same
// vector. Any embedding model satisfying that contract can be plugged in;
// the default is a local feature-hashing embedder that needs no provider.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

const hashEmbeddingDim = 256

// HashEmbedder returns a deterministic local embedding function. Tokens and
// character trigrams are feature-hashed into a fixed-dimension vector which
// is then L2-normalized, so identical texts embed at cosine similarity 1.0.
func HashEmbedder() EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec := make([]float32, hashEmbeddingDim)
		for _, tok := range tokenize(text) {
			bump(vec, tok, 1.0)
			for i := 0; i+3 <= len(tok); i++ {
				bump(vec, tok[i:i+3], 0.5)
			}
		}
		normalize(vec)
		return vec, nil
	}
}

func bump(vec []float32, feature string, weight float32) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()
	idx := sum % hashEmbeddingDim
	// Sign bit from the hash spreads features across both directions,
	// which keeps unrelated texts near-orthogonal.
	if sum&0x80000000 != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}
