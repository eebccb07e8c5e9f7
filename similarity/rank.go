package similarity

import (
	"cmp"
	"math"
	"slices"

	"github.com/poiesic/docsim/core"
)

// Candidate is a stored vector eligible for ranking.
type Candidate struct {
	Id     core.ID
	Vector []float32
}

// Rank scores every candidate against query and returns up to topK results.
// Candidates whose dimension differs from the query are skipped, as is excludeID
// when it is non-zero. A topK of zero or less returns every scored candidate.
func Rank(query []float32, candidates []Candidate, topK int, excludeID core.ID) []core.RelatedChunk {
	results := make([]core.RelatedChunk, 0, len(candidates))
	for _, c := range candidates {
		if excludeID != 0 && c.Id == excludeID {
			continue
		}
		if len(c.Vector) != len(query) {
			continue
		}
		results = append(results, core.RelatedChunk{
			ChunkId: c.Id,
			Score:   Dot(query, c.Vector),
		})
	}

	SortRelated(results)

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// SortRelated orders results by score descending, then id ascending.
func SortRelated(results []core.RelatedChunk) {
	slices.SortFunc(results, func(a, b core.RelatedChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return cmp.Compare(a.ChunkId, b.ChunkId)
	})
}

// Dot calculates the dot product of two vectors over their common length.
func Dot(a, b []float32) float32 {
	var sum float32
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize scales a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	// Calculate magnitude
	var magnitude float64
	for _, val := range v {
		magnitude += float64(val) * float64(val)
	}
	magnitude = math.Sqrt(magnitude)

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}
