package search

import (
	"github.com/poiesic/docsim/core"
)

// SearchMonitor provides hooks to observe search and comparison jobs.
// Implement this interface to track intermediate steps and results.
type SearchMonitor interface {
	Start(kind string, id core.ID)
	AfterEmbedding(id core.ID, tokens int, cached bool)
	AfterRank(id core.ID, related []core.RelatedChunk)
	Finish(id core.ID, err error)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ core.ID)                  {}
func (n *noopMonitor) AfterEmbedding(_ core.ID, _ int, _ bool)    {}
func (n *noopMonitor) AfterRank(_ core.ID, _ []core.RelatedChunk) {}
func (n *noopMonitor) Finish(_ core.ID, _ error)                  {}
