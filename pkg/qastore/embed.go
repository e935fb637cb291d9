package qastore

import (
	"context"
	"math"
)

// Embedder turns text into a fixed-dimension embedding vector. The concrete
// implementation is an external collaborator (an HTTP client adapter); only
// this contract is in scope here.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// cosineSimilarity assumes a and b are the same length; callers are
// responsible for enforcing the dimension invariant at ingest time.
func cosineSimilarity(a, b []float32) float64 {
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
