// Package batch decodes extractor output into ingestion batches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/hipporeg/graph"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no decoder
	// handles.
	ErrUnsupportedFormat = errors.New("batch: unsupported format")
	// ErrInvalidRecord is returned when a row or record cannot be decoded.
	ErrInvalidRecord = errors.New("batch: invalid record")
)

// Decoder reads an ingestion batch from a file of a specific format.
type Decoder interface {
	Decode(ctx context.Context, path string) (*graph.Batch, error)
	SupportedFormats() []string
}

// Registry maps file extensions to decoders.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry returns a registry with the JSON and XLSX decoders.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	for _, d := range []Decoder{&JSONDecoder{}, &XLSXDecoder{}} {
		for _, f := range d.SupportedFormats() {
			r.decoders[f] = d
		}
	}
	return r
}

// Register adds or replaces the decoder for format.
func (r *Registry) Register(format string, d Decoder) {
	r.decoders[format] = d
}

// Get returns the decoder for format.
func (r *Registry) Get(format string) (Decoder, error) {
	d, ok := r.decoders[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return d, nil
}

// Read decodes the batch at path, choosing the decoder by extension. A
// batch without a source is named after the file.
func (r *Registry) Read(ctx context.Context, path string) (*graph.Batch, error) {
	d, err := r.Get(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, err
	}
	b, err := d.Decode(ctx, path)
	if err != nil {
		return nil, err
	}
	if b.Source == "" {
		b.Source = filepath.Base(path)
	}
	return b, nil
}
