package gcompute

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/cache"
)

// PipelineHandle identifies a compute pipeline created by an engine.
type PipelineHandle uint64

// PipelineDesc describes a compute pipeline: WGSL source, entry point and the
// layout of bind group 0.
type PipelineDesc struct {
	Label      string
	Source     string
	EntryPoint string
	Bindings   []gpucore.BindingLayout
}

// pipelineKey identifies pipelines that compile to the same GPU object.
// Labels are not part of the key.
type pipelineKey struct {
	source string
	entry  string
	layout string
}

func keyOf(d *PipelineDesc) pipelineKey {
	b := slices.Clone(d.Bindings)
	slices.SortFunc(b, func(x, y gpucore.BindingLayout) int { return cmp.Compare(x.Slot, y.Slot) })
	var sb strings.Builder
	for _, l := range b {
		fmt.Fprintf(&sb, "%d:%d;", l.Slot, l.Type)
	}
	return pipelineKey{source: d.Source, entry: d.EntryPoint, layout: sb.String()}
}

type pipelineEntry struct {
	handle PipelineHandle
	id     gpucore.ComputePipelineID
	label  string
	key    pipelineKey
	slots  map[uint32]gpucore.BindingType
}

// pipelines deduplicates compiled pipelines and keeps the ones referenced by
// live requests out of the eviction path.
type pipelines struct {
	adapter gpucore.GPUAdapter
	cache   *cache.Cache[pipelineKey, *pipelineEntry]

	mu       sync.Mutex
	byHandle map[PipelineHandle]*pipelineEntry
	next     PipelineHandle
}

func newPipelines(adapter gpucore.GPUAdapter, limit int) *pipelines {
	p := &pipelines{
		adapter:  adapter,
		byHandle: make(map[PipelineHandle]*pipelineEntry),
	}
	p.cache = cache.New[pipelineKey, *pipelineEntry](limit, p.evict)
	return p
}

func (p *pipelines) create(desc *PipelineDesc) (PipelineHandle, error) {
	if desc.Source == "" || desc.EntryPoint == "" {
		return 0, fmt.Errorf("gcompute: pipeline %q: source and entry point are required", desc.Label)
	}
	slots := make(map[uint32]gpucore.BindingType, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if _, dup := slots[b.Slot]; dup {
			return 0, fmt.Errorf("gcompute: pipeline %q: duplicate slot %d", desc.Label, b.Slot)
		}
		slots[b.Slot] = b.Type
	}

	key := keyOf(desc)
	entry, _, err := p.cache.GetOrCreate(key, func() (*pipelineEntry, error) {
		id, err := p.adapter.CreateComputePipeline(&gpucore.ComputePipelineDesc{
			Label:      desc.Label,
			Source:     desc.Source,
			EntryPoint: desc.EntryPoint,
			Bindings:   desc.Bindings,
		})
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		p.next++
		e := &pipelineEntry{handle: p.next, id: id, label: desc.Label, key: key, slots: slots}
		p.byHandle[e.handle] = e
		return e, nil
	})
	if err != nil {
		return 0, fmt.Errorf("gcompute: create pipeline %q: %w", desc.Label, err)
	}
	return entry.handle, nil
}

func (p *pipelines) lookup(h PipelineHandle) (*pipelineEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byHandle[h]
	return e, ok
}

// pin protects a pipeline from eviction. It fails if the pipeline has been
// evicted or destroyed since lookup.
func (p *pipelines) pin(e *pipelineEntry) bool {
	return p.cache.Pin(e.key)
}

func (p *pipelines) unpin(e *pipelineEntry) {
	p.cache.Unpin(e.key)
}

func (p *pipelines) destroy(h PipelineHandle) error {
	e, ok := p.lookup(h)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPipeline, h)
	}
	_, ok, pinned := p.cache.DeleteUnpinned(e.key)
	if pinned {
		return fmt.Errorf("%w: %q", ErrPipelineInUse, e.label)
	}
	if ok {
		p.evict(e.key, e)
	}
	return nil
}

// evict is the cache eviction callback.
func (p *pipelines) evict(_ pipelineKey, e *pipelineEntry) {
	p.mu.Lock()
	delete(p.byHandle, e.handle)
	p.mu.Unlock()
	p.adapter.DestroyComputePipeline(e.id)
}

func (p *pipelines) len() int {
	return p.cache.Len()
}

func (p *pipelines) close() {
	p.cache.Clear()
}
