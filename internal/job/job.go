// Package job decodes YAML job files for the gcompute CLI and turns them
// into buffer sets, pipelines and start requests on an engine.
//
// A job file looks like:
//
//	buffers:
//	  - name: in
//	    size: 16
//	    usage: [shader-read, host-write]
//	    data: [1, 2, 3, 4]
//	  - name: out
//	    size: 16
//	    usage: [shader-write, host-read]
//	pipelines:
//	  - name: double
//	    source_file: double.wgsl
//	    entry_point: main
//	    bindings:
//	      - {slot: 0, type: read-only-storage}
//	      - {slot: 1, type: storage}
//	groups:
//	  - id: 1
//	    passes:
//	      - pipeline: double
//	        workgroups: [1, 1, 1]
//	        bindings:
//	          - {buffer: in, slot: 0, mode: read}
//	          - {buffer: out, slot: 1, mode: write}
//	    return: [out]
package job

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/gcompute"
	"github.com/gogpu/gcompute/gpucore"
)

// ErrInvalidJob is returned (wrapped) for malformed job files.
var ErrInvalidJob = errors.New("job: invalid job")

// Job is a decoded job file.
type Job struct {
	Buffers         []Buffer   `yaml:"buffers"`
	Pipelines       []Pipeline `yaml:"pipelines"`
	Groups          []Group    `yaml:"groups"`
	IterationBuffer string     `yaml:"iteration_buffer"`
}

// Buffer declares one named buffer.
type Buffer struct {
	Name   string   `yaml:"name"`
	Size   uint64   `yaml:"size"`
	Stride uint64   `yaml:"stride"`
	Kind   string   `yaml:"kind"`
	Double bool     `yaml:"double"`
	Usage  []string `yaml:"usage"`

	// Data is written at offset 0 as little-endian uint32 words.
	Data []uint32 `yaml:"data"`
}

// Pipeline declares a compute pipeline. Exactly one of Source and
// SourceFile is set; SourceFile is relative to the job file.
type Pipeline struct {
	Name       string    `yaml:"name"`
	Source     string    `yaml:"source"`
	SourceFile string    `yaml:"source_file"`
	EntryPoint string    `yaml:"entry_point"`
	Bindings   []Binding `yaml:"bindings"`
}

// Binding is a pipeline layout slot.
type Binding struct {
	Slot uint32 `yaml:"slot"`
	Type string `yaml:"type"`
}

// Group declares one pipeline group.
type Group struct {
	ID         uint32   `yaml:"id"`
	Label      string   `yaml:"label"`
	Iterations int      `yaml:"iterations"`
	Passes     []Pass   `yaml:"passes"`
	Return     []string `yaml:"return"`
}

// Pass is a dispatch, or a swap when Swap names a double buffer.
type Pass struct {
	Label        string        `yaml:"label"`
	Pipeline     string        `yaml:"pipeline"`
	Workgroups   [3]uint32     `yaml:"workgroups"`
	MaxFrequency time.Duration `yaml:"max_frequency"`
	Bindings     []PassBinding `yaml:"bindings"`
	Swap         string        `yaml:"swap"`
}

// PassBinding attaches a buffer to a slot for one pass.
type PassBinding struct {
	Buffer string `yaml:"buffer"`
	Slot   uint32 `yaml:"slot"`
	Mode   string `yaml:"mode"`
}

// Parse decodes a job from r. Unknown fields are rejected.
func Parse(r io.Reader) (*Job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var j Job
	if err := dec.Decode(&j); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidJob)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if err := j.check(); err != nil {
		return nil, err
	}
	return &j, nil
}

// Load reads and parses a job file, then inlines every pipeline's
// source_file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("job: %w", err)
	}
	j, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range j.Pipelines {
		p := &j.Pipelines[i]
		if p.SourceFile == "" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, p.SourceFile))
		if err != nil {
			return nil, fmt.Errorf("%w: pipeline %q: %w", ErrInvalidJob, p.Name, err)
		}
		p.Source, p.SourceFile = string(src), ""
	}
	return j, nil
}

// check validates the parts of a job that do not need an engine.
func (j *Job) check() error {
	if len(j.Groups) == 0 {
		return fmt.Errorf("%w: no groups", ErrInvalidJob)
	}
	names := make(map[string]bool, len(j.Pipelines))
	for _, p := range j.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("%w: pipeline without a name", ErrInvalidJob)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate pipeline %q", ErrInvalidJob, p.Name)
		}
		names[p.Name] = true
		if (p.Source == "") == (p.SourceFile == "") {
			return fmt.Errorf("%w: pipeline %q needs exactly one of source and source_file", ErrInvalidJob, p.Name)
		}
		for _, b := range p.Bindings {
			if _, err := parseBindingType(b.Type); err != nil {
				return fmt.Errorf("pipeline %q: %w", p.Name, err)
			}
		}
	}
	for _, b := range j.Buffers {
		if _, err := parseKind(b.Kind); err != nil {
			return fmt.Errorf("buffer %q: %w", b.Name, err)
		}
		if _, err := parseUsage(b.Usage); err != nil {
			return fmt.Errorf("buffer %q: %w", b.Name, err)
		}
	}
	for _, g := range j.Groups {
		for i, p := range g.Passes {
			if p.Swap != "" {
				continue
			}
			if !names[p.Pipeline] {
				return fmt.Errorf("%w: group %d pass %d: unknown pipeline %q", ErrInvalidJob, g.ID, i, p.Pipeline)
			}
			for _, b := range p.Bindings {
				if _, err := parseMode(b.Mode); err != nil {
					return fmt.Errorf("group %d pass %d: %w", g.ID, i, err)
				}
			}
		}
	}
	return nil
}

// Built is a job instantiated on an engine.
type Built struct {
	Buffers   *gcompute.BufferSet
	Pipelines map[string]gcompute.PipelineHandle
	Request   gcompute.StartRequest
}

// Release destroys the buffer set and the job's pipelines. Call it only
// once the request has finished or been withdrawn.
func (b *Built) Release(e *gcompute.Engine) {
	b.Buffers.Destroy()
	for _, h := range b.Pipelines {
		_ = e.DestroyPipeline(h)
	}
}

// Build registers the job's buffers, uploads their initial data and
// creates its pipelines on e. The returned request has not been validated;
// pass it to Engine.Validate or Engine.Start. On error nothing is left
// allocated.
func (j *Job) Build(e *gcompute.Engine) (built *Built, err error) {
	b := &Built{
		Buffers:   e.NewBufferSet(),
		Pipelines: make(map[string]gcompute.PipelineHandle, len(j.Pipelines)),
	}
	defer func() {
		if err != nil {
			b.Release(e)
		}
	}()

	for _, buf := range j.Buffers {
		kind, _ := parseKind(buf.Kind)
		usage, _ := parseUsage(buf.Usage)
		layout := gcompute.Layout{Size: buf.Size, Stride: buf.Stride, Kind: kind, Double: buf.Double}
		if _, err := b.Buffers.Register(buf.Name, layout, usage); err != nil {
			return nil, err
		}
		if len(buf.Data) > 0 {
			if err := b.Buffers.Write(buf.Name, 0, encodeWords(buf.Data)); err != nil {
				return nil, err
			}
		}
	}

	for _, p := range j.Pipelines {
		desc := gcompute.PipelineDesc{
			Label:      p.Name,
			Source:     p.Source,
			EntryPoint: p.EntryPoint,
		}
		for _, bl := range p.Bindings {
			t, _ := parseBindingType(bl.Type)
			desc.Bindings = append(desc.Bindings, gpucore.BindingLayout{Slot: bl.Slot, Type: t})
		}
		h, err := e.CreatePipeline(desc)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		b.Pipelines[p.Name] = h
	}

	b.Request = gcompute.StartRequest{
		Buffers:         b.Buffers,
		IterationBuffer: j.IterationBuffer,
	}
	for _, g := range j.Groups {
		group := gcompute.Group{
			ID:         gcompute.GroupID(g.ID),
			Label:      g.Label,
			Iterations: g.Iterations,
			Return:     g.Return,
		}
		for _, p := range g.Passes {
			if p.Swap != "" {
				group.Passes = append(group.Passes, gcompute.SwapPass(p.Swap))
				continue
			}
			pass := gcompute.Pass{
				Label:        p.Label,
				Pipeline:     b.Pipelines[p.Pipeline],
				Workgroups:   p.Workgroups,
				MaxFrequency: p.MaxFrequency,
			}
			if pass.Label == "" {
				pass.Label = p.Pipeline
			}
			for _, pb := range p.Bindings {
				m, _ := parseMode(pb.Mode)
				pass.Bindings = append(pass.Bindings, gcompute.Binding{Buffer: pb.Buffer, Slot: pb.Slot, Mode: m})
			}
			group.Passes = append(group.Passes, pass)
		}
		b.Request.Groups = append(b.Request.Groups, group)
	}
	return b, nil
}

func encodeWords(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func parseKind(s string) (gcompute.Kind, error) {
	switch s {
	case "", "storage":
		return gcompute.KindStorage, nil
	case "uniform":
		return gcompute.KindUniform, nil
	case "scratch":
		return gcompute.KindScratch, nil
	}
	return 0, fmt.Errorf("%w: unknown buffer kind %q", ErrInvalidJob, s)
}

func parseUsage(names []string) (gcompute.Usage, error) {
	var u gcompute.Usage
	for _, n := range names {
		switch n {
		case "shader-read":
			u |= gcompute.UsageShaderRead
		case "shader-write":
			u |= gcompute.UsageShaderWrite
		case "host-read":
			u |= gcompute.UsageHostRead
		case "host-write":
			u |= gcompute.UsageHostWrite
		default:
			return 0, fmt.Errorf("%w: unknown usage %q", ErrInvalidJob, n)
		}
	}
	return u, nil
}

func parseMode(s string) (gcompute.Mode, error) {
	switch s {
	case "read":
		return gcompute.ModeRead, nil
	case "write":
		return gcompute.ModeWrite, nil
	case "read-write":
		return gcompute.ModeReadWrite, nil
	}
	return 0, fmt.Errorf("%w: unknown binding mode %q", ErrInvalidJob, s)
}

func parseBindingType(s string) (gpucore.BindingType, error) {
	switch s {
	case "uniform":
		return gpucore.BindingTypeUniform, nil
	case "read-only-storage":
		return gpucore.BindingTypeReadOnlyStorage, nil
	case "storage":
		return gpucore.BindingTypeStorage, nil
	}
	return 0, fmt.Errorf("%w: unknown binding type %q", ErrInvalidJob, s)
}
