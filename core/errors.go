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

import "errors"

// Pipeline errors
var (
	// ErrChunking indicates the input text could not be split into chunks.
	ErrChunking = errors.New("chunking failed")

	// ErrEmbeddingAPI indicates a network failure or malformed response from the embedding API.
	ErrEmbeddingAPI = errors.New("embedding API error")

	// ErrDimensionMismatch indicates a vector whose length differs from the deployment dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyResult indicates a similarity query returned no matches where at least one was expected.
	ErrEmptyResult = errors.New("empty result")

	// ErrConfiguration indicates missing or invalid configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownSource indicates the source was deleted while work on it was in flight.
	ErrUnknownSource = errors.New("unknown source")

	// ErrQueryFailed indicates a search or comparison completed with an error.
	ErrQueryFailed = errors.New("query failed")
)

// Domain validation errors
var (
	// ErrInvalidSource indicates a Source failed validation.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrEmptyName indicates the source Name field is empty.
	ErrEmptyName = errors.New("name cannot be empty")

	// ErrEmptyInput indicates empty search input or chunk text.
	ErrEmptyInput = errors.New("input cannot be empty")

	// ErrInvalidCount indicates a non-positive result count.
	ErrInvalidCount = errors.New("count must be positive")

	// ErrInvalidVector indicates a vector containing NaN or infinite values.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrInvalidLineRange indicates a line range that is empty or inverted.
	ErrInvalidLineRange = errors.New("invalid line range")
)
