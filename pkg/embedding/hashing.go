package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultDimensions matches the dimensionality requested from Gemini embeddings
const DefaultDimensions = 768

// Hashing is an offline embedder that maps tokens into a fixed number of buckets (feature
// hashing). Identical texts always produce identical vectors.
type Hashing struct {
	dims int
}

func NewHashing(dims int) (*Hashing, error) {
	if dims <= 0 {
		return nil, goerr.New("dimensions must be positive", goerr.V("dims", dims))
	}
	return &Hashing{dims: dims}, nil
}

func (x *Hashing) Dims() int { return x.dims }

func (x *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = x.embed(text)
	}
	return vectors, nil
}

func (x *Hashing) embed(text string) []float32 {
	vec := make([]float32, x.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		// Keep empty-ish input comparable instead of producing a zero vector
		tokens = []string{strings.TrimSpace(text)}
	}

	for _, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		idx := int(sum % uint64(x.dims))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
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
