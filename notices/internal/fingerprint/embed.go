package fingerprint

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder converts fingerprint text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// LocalDim is the dimension of the local embedder.
const LocalDim = 256

// Local is a feature-hashing embedder over words and character trigrams.
// Deterministic, no network.
type Local struct{ dim int }

// NewLocal returns a Local embedder with dim buckets.
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = LocalDim
	}
	return &Local{dim: dim}
}

func (l *Local) Model() string { return "local-hash" }

// Embed returns the L2-normalized hashed feature vector of text.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dim)
	for _, w := range strings.Fields(text) {
		l.add(vec, "w:"+w, 1)
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			l.add(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		n := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (l *Local) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(l.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
