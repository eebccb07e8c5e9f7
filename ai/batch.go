package ai

import (
	"strings"
	"time"
	"unicode/utf8"
)

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// PrepareText replaces line breaks with spaces before text is sent for embedding.
func PrepareText(text string) string {
	return newlines.Replace(text)
}

// BatchResult is the outcome of one EmbedBatch call.
type BatchResult struct {
	// Vectors holds one embedding per input, in input order.
	Vectors [][]float32

	// TotalTokens is the usage reported by the service for the whole batch.
	TotalTokens int

	// TotalLength is the combined character length of the inputs.
	TotalLength int

	// Elapsed is the wall time spent waiting on the service.
	Elapsed time.Duration
}

// ElapsedMs returns Elapsed in whole milliseconds.
func (r *BatchResult) ElapsedMs() int64 {
	return r.Elapsed.Milliseconds()
}

// TextLength returns the combined character length of texts.
func TextLength(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	return total
}

// ProRate estimates the share of total attributable to part out of whole,
// rounded up. The service reports usage per batch only, so per-item figures
// are approximated by character-length share. Returns 0 when whole is 0.
func ProRate(total int64, part, whole int) int64 {
	if whole <= 0 || total <= 0 || part <= 0 {
		return 0
	}
	num := total * int64(part)
	w := int64(whole)
	return (num + w - 1) / w
}
