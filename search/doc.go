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


// Package search provides cached semantic search and chunk comparison.
//
// The Searcher type answers two kinds of similarity queries:
//   - Searches, keyed by input text, which embed the text and rank chunks against it
//   - Comparisons, keyed by an existing chunk, which rank chunks against its vector
//
// Both are cached. Upserting a query reuses any stored record that asked for
// at least as many results, otherwise it creates a pending record and
// schedules a job to compute it. Reading a pending record returns nil.
// Results are joined with current chunk and source data at read time, so
// chunks deleted since the query ran are skipped.
//
// Cached records are never invalidated when sources are added or removed.
package search
