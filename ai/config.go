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


package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/docsim/core"
)

// Config holds configuration for the embedding service.
// It is resolved once at process start and injected into constructors.
type Config struct {
	// APIKey is sent as a bearer token with every request.
	// Local OpenAI-compatible servers that ignore authentication accept any
	// placeholder such as "none", but the key must still be set.
	APIKey string

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "https://api.openai.com/v1" or "http://localhost:11434/v1"
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "text-embedding-ada-002", "text-embedding-3-small"
	EmbeddingModel string

	// Dimension is the length of every vector produced by the model.
	// All stored vectors must share it.
	// Default: 1536
	Dimension int

	// MaxBatchSize is the largest number of inputs sent in one request.
	// Larger batches are split into sequential requests.
	// Default: 100
	MaxBatchSize int

	// RequestTimeout bounds a single HTTP request.
	// Default: 60s
	RequestTimeout time.Duration

	// NormalizeVectors scales returned vectors to unit length.
	// Default: true
	NormalizeVectors bool
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithDimension sets the vector dimension.
func WithDimension(dim int) ConfigOption {
	return func(c *Config) {
		c.Dimension = dim
	}
}

// WithMaxBatchSize sets the maximum number of inputs per request.
func WithMaxBatchSize(size int) ConfigOption {
	return func(c *Config) {
		c.MaxBatchSize = size
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = timeout
	}
}

// WithNormalizeVectors enables or disables unit-length normalization.
func WithNormalizeVectors(normalize bool) ConfigOption {
	return func(c *Config) {
		c.NormalizeVectors = normalize
	}
}

// DefaultConfig returns a Config with defaults for the OpenAI embeddings API.
// The API key is left empty; it must be supplied explicitly.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:    "https://api.openai.com/v1",
		EmbeddingModel:   "text-embedding-ada-002",
		Dimension:        1536,
		MaxBatchSize:     100,
		RequestTimeout:   60 * time.Second,
		NormalizeVectors: true,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//   cfg := NewConfig(
//       WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//       WithEmbeddingModel("text-embedding-3-small"),
//   )
//
// Example for a local server:
//   cfg := NewConfig(
//       WithEmbeddingHost("http://localhost:11434"),
//       WithEmbeddingModel("nomic-embed-text"),
//       WithDimension(768),
//       WithAPIKey("none"),
//   )
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to the host if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	if c.EmbeddingHost != "" && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		// Remove trailing slash if present before adding /v1
		c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/")
		c.EmbeddingHost = c.EmbeddingHost + "/v1"
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
// Every failure wraps core.ErrConfiguration.
func (c *Config) Validate() error {
	c.Normalize()

	if c.APIKey == "" {
		return fmt.Errorf("%w: ai config: APIKey is required", core.ErrConfiguration)
	}
	if c.EmbeddingHost == "" {
		return fmt.Errorf("%w: ai config: EmbeddingHost is required", core.ErrConfiguration)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: ai config: EmbeddingModel is required", core.ErrConfiguration)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("%w: ai config: Dimension must be positive", core.ErrConfiguration)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("%w: ai config: MaxBatchSize must be positive", core.ErrConfiguration)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: ai config: RequestTimeout must be positive", core.ErrConfiguration)
	}
	return nil
}
