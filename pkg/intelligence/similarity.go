package intelligence

import "math"

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
//
// Vectors of different length, or with zero magnitude, have similarity 0.
// The value is not clamped or rescaled.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
