package store

import (
	"math"
	"sort"

	"github.com/xhad/docseek/internal/models"
)

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either vector has
// zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rankTopK orders candidates (already in insertion order) by descending
// score and keeps the first k. Equal scores keep insertion order.
func rankTopK(candidates []models.SearchResult, k int) []models.SearchResult {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}
