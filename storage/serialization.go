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


package storage

import (
	"github.com/poiesic/docsim/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	var w writer
	w.uint64(uint64(id))
	return w.bs
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	r := reader{bs: data}
	id := core.ID(r.uint64())
	return id, r.done()
}

func writeIDs(w *writer, ids []core.ID) {
	w.uint64(uint64(len(ids)))
	for _, id := range ids {
		w.uint64(uint64(id))
	}
}

func readIDs(r *reader) []core.ID {
	n := r.length(1)
	if n == 0 {
		return nil
	}
	ids := make([]core.ID, n)
	for i := range ids {
		ids[i] = core.ID(r.uint64())
	}
	return ids
}

// MarshalIDs serializes a list of IDs to bytes.
func MarshalIDs(ids []core.ID) []byte {
	var w writer
	writeIDs(&w, ids)
	return w.bs
}

// UnmarshalIDs deserializes a list of IDs from bytes.
func UnmarshalIDs(data []byte) ([]core.ID, error) {
	r := reader{bs: data}
	ids := readIDs(&r)
	return ids, r.done()
}

// MarshalSource serializes a Source to bytes.
func MarshalSource(source *core.Source) []byte {
	var w writer
	w.uint64(uint64(source.Id))
	w.string(source.Name)
	writeIDs(&w, source.ChunkIds)
	w.bool(source.Saved)
	w.int(source.TotalTokens)
	w.int64(source.EmbeddingMs)
	w.time(source.InsertedAt)
	w.time(source.UpdatedAt)
	return w.bs
}

// UnmarshalSource deserializes a Source from bytes.
func UnmarshalSource(data []byte) (*core.Source, error) {
	r := reader{bs: data}
	source := &core.Source{
		Id:          core.ID(r.uint64()),
		Name:        r.string(),
		ChunkIds:    readIDs(&r),
		Saved:       r.bool(),
		TotalTokens: r.int(),
		EmbeddingMs: r.int64(),
		InsertedAt:  r.time(),
		UpdatedAt:   r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return source, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	var w writer
	w.uint64(uint64(chunk.Id))
	w.uint64(uint64(chunk.SourceId))
	w.string(chunk.Text)
	w.int(chunk.ChunkIndex)
	w.int(chunk.Lines.From)
	w.int(chunk.Lines.To)
	w.int(chunk.Tokens)
	return w.bs
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	r := reader{bs: data}
	chunk := &core.Chunk{
		Id:         core.ID(r.uint64()),
		SourceId:   core.ID(r.uint64()),
		Text:       r.string(),
		ChunkIndex: r.int(),
		Lines:      core.LineRange{From: r.int(), To: r.int()},
		Tokens:     r.int(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return chunk, nil
}

func writeRelated(w *writer, related []core.RelatedChunk) {
	w.uint64(uint64(len(related)))
	for _, rc := range related {
		w.uint64(uint64(rc.ChunkId))
		w.float32(rc.Score)
	}
}

func readRelated(r *reader) []core.RelatedChunk {
	n := r.length(2)
	if n == 0 {
		return nil
	}
	related := make([]core.RelatedChunk, n)
	for i := range related {
		related[i].ChunkId = core.ID(r.uint64())
		related[i].Score = r.float32()
	}
	return related
}

func writeStats(w *writer, stats core.QueryStats) {
	w.int64(stats.EmbeddingMs)
	w.int64(stats.QueryMs)
	w.int(stats.InputTokens)
}

func readStats(r *reader) core.QueryStats {
	return core.QueryStats{
		EmbeddingMs: r.int64(),
		QueryMs:     r.int64(),
		InputTokens: r.int(),
	}
}

// MarshalSearch serializes a Search to bytes.
func MarshalSearch(search *core.Search) []byte {
	var w writer
	w.uint64(uint64(search.Id))
	w.string(search.Input)
	w.int(search.Count)
	writeRelated(&w, search.RelatedChunks)
	writeStats(&w, search.Stats)
	w.string(search.Error)
	w.bool(search.Completed)
	w.time(search.InsertedAt)
	w.time(search.UpdatedAt)
	return w.bs
}

// UnmarshalSearch deserializes a Search from bytes.
func UnmarshalSearch(data []byte) (*core.Search, error) {
	r := reader{bs: data}
	search := &core.Search{
		Id:            core.ID(r.uint64()),
		Input:         r.string(),
		Count:         r.int(),
		RelatedChunks: readRelated(&r),
		Stats:         readStats(&r),
		Error:         r.string(),
		Completed:     r.bool(),
		InsertedAt:    r.time(),
		UpdatedAt:     r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return search, nil
}

// MarshalComparison serializes a Comparison to bytes.
func MarshalComparison(comparison *core.Comparison) []byte {
	var w writer
	w.uint64(uint64(comparison.Id))
	w.uint64(uint64(comparison.Target))
	w.int(comparison.Count)
	writeRelated(&w, comparison.RelatedChunks)
	writeStats(&w, comparison.Stats)
	w.string(comparison.Error)
	w.bool(comparison.Completed)
	w.time(comparison.InsertedAt)
	w.time(comparison.UpdatedAt)
	return w.bs
}

// UnmarshalComparison deserializes a Comparison from bytes.
func UnmarshalComparison(data []byte) (*core.Comparison, error) {
	r := reader{bs: data}
	comparison := &core.Comparison{
		Id:            core.ID(r.uint64()),
		Target:        core.ID(r.uint64()),
		Count:         r.int(),
		RelatedChunks: readRelated(&r),
		Stats:         readStats(&r),
		Error:         r.string(),
		Completed:     r.bool(),
		InsertedAt:    r.time(),
		UpdatedAt:     r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return comparison, nil
}

// MarshalEmbeddingStats serializes EmbeddingStats to bytes.
func MarshalEmbeddingStats(stats *core.EmbeddingStats) []byte {
	var w writer
	w.uint64(uint64(stats.Id))
	w.int(stats.NumTexts)
	w.int(stats.TotalTokens)
	w.int(stats.TotalLength)
	w.int64(stats.ElapsedMs)
	w.time(stats.CreatedAt)
	return w.bs
}

// UnmarshalEmbeddingStats deserializes EmbeddingStats from bytes.
func UnmarshalEmbeddingStats(data []byte) (*core.EmbeddingStats, error) {
	r := reader{bs: data}
	stats := &core.EmbeddingStats{
		Id:          core.ID(r.uint64()),
		NumTexts:    r.int(),
		TotalTokens: r.int(),
		TotalLength: r.int(),
		ElapsedMs:   r.int64(),
		CreatedAt:   r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return stats, nil
}

// MarshalVectorRecord serializes a VectorRecord to bytes.
func MarshalVectorRecord(record *VectorRecord) []byte {
	var w writer
	w.uint64(uint64(record.Id))
	w.vector(record.Vector)
	w.metadata(record.Metadata)
	return w.bs
}

// UnmarshalVectorRecord deserializes a VectorRecord from bytes.
func UnmarshalVectorRecord(data []byte) (*VectorRecord, error) {
	r := reader{bs: data}
	record := &VectorRecord{
		Id:       core.ID(r.uint64()),
		Vector:   r.vector(),
		Metadata: r.metadata(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return record, nil
}

// MarshalCount serializes a non-negative count to bytes.
func MarshalCount(n int) []byte {
	var w writer
	w.int(n)
	return w.bs
}

// UnmarshalCount deserializes a count from bytes.
func UnmarshalCount(data []byte) (int, error) {
	r := reader{bs: data}
	n := r.int()
	return n, r.done()
}
