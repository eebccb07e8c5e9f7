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


// Package ai provides abstractions for the embedding service used by docsim.
//
// The package defines the Embedder and AIProvider interfaces, the Config
// shared by every implementation, and the BatchResult accounting helpers.
// Ingestion and search depend only on these abstractions.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation for OpenAI-compatible embedding APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder) return
// INTERFACE types to enforce abstraction:
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//
// Test utility constructors (mock.NewMockEmbedder) return CONCRETE types so
// tests can inject behavior and inspect call counts:
//
//	mockEmbed := mock.NewMockEmbedder(2)  // returns *mock.MockEmbedder
//	count := mockEmbed.CallCount()
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithAPIKey(key))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	result, err := provider.Embedder().EmbedBatch(ctx, []string{"Hello world"})
//
// # Token Accounting
//
// Embedding services report usage per request, not per input. ProRate
// apportions a batch total across subsets by character-length share. The
// estimate is good enough for statistics and not for billing.
package ai
