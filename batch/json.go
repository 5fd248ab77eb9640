package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/brunobiangulo/hipporeg/graph"
)

// JSONDecoder reads a batch serialized as a single JSON object with
// "source", "clauses", "triplets" and optional "embeddings".
type JSONDecoder struct{}

func (d *JSONDecoder) SupportedFormats() []string { return []string{"json"} }

func (d *JSONDecoder) Decode(ctx context.Context, path string) (*graph.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	return DecodeJSON(data)
}

// DecodeJSON parses a JSON batch. Unknown fields are rejected so that
// misspelled keys do not silently drop data.
func DecodeJSON(data []byte) (*graph.Batch, error) {
	var b graph.Batch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &b, nil
}
