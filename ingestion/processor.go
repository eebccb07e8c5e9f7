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


package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/jobs"
	"github.com/poiesic/docsim/vectors"
)

// processor is an internal interface for background work on stored entities.
// Implementations back the job handlers registered by the Pipeline.
type processor interface {
	// process handles the entities identified by the given IDs.
	process(ctx context.Context, ids ...core.ID) error
}

// vectorCleanup removes the vectors of deleted chunks.
type vectorCleanup struct {
	store  *vectors.Store
	logger *slog.Logger
}

var _ processor = (*vectorCleanup)(nil)

func newVectorCleanup(store *vectors.Store, logger *slog.Logger) *vectorCleanup {
	return &vectorCleanup{store: store, logger: logger.With("processor", "cleanup")}
}

func (vc *vectorCleanup) process(ctx context.Context, ids ...core.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := vc.store.Delete(ctx, ids...); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	vc.logger.Debug("deleted chunk vectors", "chunks", len(ids))
	return nil
}

// handler adapts a processor to a job handler. ids extracts the entity
// ids from the job payload.
func handler(proc processor, ids func(jobs.Payload) ([]core.ID, bool)) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		targets, ok := ids(job.Payload)
		if !ok {
			return fmt.Errorf("unexpected payload %T for job kind %s", job.Payload, job.Kind)
		}
		return proc.process(ctx, targets...)
	}
}
