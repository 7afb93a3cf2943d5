package faceindex

import "math"

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Mismatched or zero vectors yield -1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return -1
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	return max(-1, min(1, similarity))
}

// Normalize maps a cosine similarity to [0, 1].
func Normalize(cosine float64) float64 {
	return (cosine + 1) / 2
}
