package embedding

import "math"

// CosineSimilarity returns the cosine similarity of a and b, or 0 if they differ in length or
// either is a zero vector.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 - cosine similarity clamped to [0,1]
func CosineDistance(a, b []float32) float64 {
	return ClampDistance(1 - CosineSimilarity(a, b))
}

// ClampDistance folds a raw cosine distance (range [0,2]) into [0,1]. Opposed vectors are
// treated as simply unrelated.
func ClampDistance(d float64) float64 {
	switch {
	case d < 0:
		return 0
	case d > 1:
		return 1
	default:
		return d
	}
}
