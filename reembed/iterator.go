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


package reembed

import (
	"context"

	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/storage"
)

const (
	// DefaultBatchSize is the default number of chunks embedded per call
	DefaultBatchSize = 100
)

// Batch is a group of sources embedded with one call.
type Batch struct {
	SourceIds []core.ID
	Chunks    int
}

// SourceIterator groups stored sources into batches.
type SourceIterator struct {
	repo      storage.SourceRepository
	batchSize int
	all       bool
}

// NewSourceIterator creates a new source iterator.
// batchSize bounds the chunks in a batch; a source larger than batchSize
// forms a batch of its own. Unless all is set only unsaved sources are visited.
func NewSourceIterator(repo storage.SourceRepository, batchSize int, all bool) *SourceIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &SourceIterator{
		repo:      repo,
		batchSize: batchSize,
		all:       all,
	}
}

// Batches returns the batches to process in ascending source id order.
func (it *SourceIterator) Batches(ctx context.Context) ([]Batch, error) {
	var (
		batches []Batch
		current Batch
	)
	err := it.repo.ForEachSource(ctx, func(source *core.Source) error {
		if source.Saved && !it.all {
			return nil
		}
		size := len(source.ChunkIds)
		if len(current.SourceIds) > 0 && current.Chunks+size > it.batchSize {
			batches = append(batches, current)
			current = Batch{}
		}
		current.SourceIds = append(current.SourceIds, source.Id)
		current.Chunks += size
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(current.SourceIds) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}
