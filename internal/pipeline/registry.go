package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/straja-ai/liverstage/internal/schema"
)

// Registry holds the loaded pipelines by variant. It is built once at
// startup and read-only afterwards.
type Registry struct {
	byVariant map[string]*Pipeline
}

// NewRegistry indexes pipelines by variant; duplicates are rejected.
func NewRegistry(pipelines ...*Pipeline) (*Registry, error) {
	r := &Registry{byVariant: make(map[string]*Pipeline, len(pipelines))}
	for _, p := range pipelines {
		if p == nil {
			continue
		}
		v := p.Variant()
		if _, dup := r.byVariant[v]; dup {
			return nil, fmt.Errorf("duplicate pipeline for variant %q", v)
		}
		r.byVariant[v] = p
	}
	return r, nil
}

// Get returns the pipeline for variant.
func (r *Registry) Get(variant string) (*Pipeline, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownVariant, variant)
	}
	p, ok := r.byVariant[strings.ToLower(strings.TrimSpace(variant))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownVariant, variant)
	}
	return p, nil
}

// Variants returns the loaded variant names, sorted.
func (r *Registry) Variants() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byVariant))
	for v := range r.byVariant {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of loaded pipelines.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byVariant)
}

// Close releases every pipeline.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, p := range r.byVariant {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
