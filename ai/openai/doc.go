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


// Package openai provides an ai.AIProvider for OpenAI-compatible embedding APIs.
//
// The embedder talks to the /embeddings endpoint of OpenAI or any compatible
// service (Ollama, LocalAI, vLLM). Large inputs are split into requests of at
// most Config.MaxBatchSize texts, responses are re-sorted by their index field,
// and any response whose size differs from the request fails the whole call
// with core.ErrEmbeddingAPI.
//
// # Usage
//
//	config := ai.NewConfig(
//	    ai.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    ai.WithEmbeddingModel("text-embedding-3-small"),
//	)
//
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	result, err := provider.Embedder().EmbedBatch(ctx, []string{"sample text"})
package openai
