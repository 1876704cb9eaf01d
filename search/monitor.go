package search

import (
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/lexical"
	"github.com/poiesic/curator/vector"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to trace intermediate results during a search.
// Hooks are called from the searching goroutine, never concurrently.
type SearchMonitor interface {
	Start(query Query)
	AfterTextSearch(hits []lexical.Hit)
	AfterVectorSearch(hits []vector.Hit)
	AfterRecordRetrieval(records []*core.AssetRecord)
	TextAndVectorHit(record *core.AssetRecord)
	TextHit(record *core.AssetRecord)
	VectorHit(record *core.AssetRecord)
	Finish(response *Response)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                             {}
func (n *noopMonitor) AfterTextSearch(_ []lexical.Hit)           {}
func (n *noopMonitor) AfterVectorSearch(_ []vector.Hit)          {}
func (n *noopMonitor) AfterRecordRetrieval(_ []*core.AssetRecord) {}
func (n *noopMonitor) TextAndVectorHit(_ *core.AssetRecord)      {}
func (n *noopMonitor) TextHit(_ *core.AssetRecord)               {}
func (n *noopMonitor) VectorHit(_ *core.AssetRecord)             {}
func (n *noopMonitor) Finish(_ *Response)                        {}
