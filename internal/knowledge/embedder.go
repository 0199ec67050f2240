package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// embeddingDim is the dimension of locally computed embeddings.
const embeddingDim = 128

// localEmbedding is a deterministic bag-of-tokens embedding. Tokens are
// hashed into a fixed number of buckets and the vector is L2-normalized, so
// identical text always produces identical vectors and cosine similarity
// tracks token overlap. It keeps the embedded store self-contained; swap in
// a model-backed chromem.EmbeddingFunc for production-quality retrieval.
func localEmbedding() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, embeddingDim)
		for _, token := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(token, ".,!?;:\"'()")))
			vec[h.Sum32()%embeddingDim]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}
