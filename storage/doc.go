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


// Package storage provides the storage abstraction layer for docsim.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic, along with the MUS binary codecs used to persist every
// record type.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return interfaces:
//
//	sources, err := badger.NewSourceRepository(backend)  // returns storage.SourceRepository
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Architecture
//
//   - SourceRepository: sources, chunks, pagination and word search
//   - VectorIndex: namespaced fixed-dimension vectors with brute-force query
//   - QueryRepository: cached searches and comparisons
//   - StatsRepository: embedding API usage records
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repos.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines. Every mutation is a
// last-write-wins upsert of whole records.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support. Pass context.Background() for operations
// without specific timeout requirements.
package storage
