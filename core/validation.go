// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"math"
)

// ValidateSource validates a Source according to domain rules.
//
// Validation rules:
//   - Name must not be empty
//
// NOT validated (populated by storage and ingestion):
//   - ChunkIds (filled in when chunks are stored)
//   - Saved, TotalTokens, EmbeddingMs (set when embeddings are stored)
func ValidateSource(source *Source) error {
	if source == nil {
		return fmt.Errorf("%w: source is nil", ErrInvalidSource)
	}

	if source.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSource, ErrEmptyName)
	}

	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Text must not be empty
//   - Lines must be a valid range
//   - ChunkIndex must not be negative
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyInput)
	}

	if chunk.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index %d", ErrInvalidChunk, chunk.ChunkIndex)
	}

	if err := ValidateLineRange(chunk.Lines); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}

	return nil
}

// ValidateLineRange checks that a line range is 1-based and not inverted.
func ValidateLineRange(lines LineRange) error {
	if lines.From < 1 || lines.To < lines.From {
		return fmt.Errorf("%w: %d-%d", ErrInvalidLineRange, lines.From, lines.To)
	}
	return nil
}

// ValidateVector checks a vector against the expected dimension.
// A dimension of 0 only rejects empty vectors.
func ValidateVector(vector []float32, dimension int) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vector), dimension)
	}
	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite value at %d", ErrInvalidVector, i)
		}
	}
	return nil
}

// ValidateCount checks a requested result count.
func ValidateCount(count int) error {
	if count < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	return nil
}
