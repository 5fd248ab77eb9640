// Package eval measures retrieval quality against labelled cases: each
// case names candidate seeds (or a query embedding) and the clause ids a
// good answer should contain.
package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Categories used in datasets. They only group the report.
const (
	CategoryDirect    = "direct"    // relevant clauses are among the seeds
	CategoryMultiHop  = "multi-hop" // relevant clauses are reached through edges
	CategoryDesynced  = "desynced"  // seeds come from a stale index
	CategoryUncovered = "uncovered" // nothing relevant exists in the graph
)

// Dataset is a collection of cases for one jurisdiction.
type Dataset struct {
	Name         string `json:"name" yaml:"name"`
	Jurisdiction string `json:"jurisdiction" yaml:"jurisdiction"`
	Cases        []Case `json:"cases" yaml:"cases"`
}

// Case defines a single retrieval query and its expected clauses.
type Case struct {
	Name           string    `json:"name" yaml:"name"`
	Seeds          []string  `json:"seeds,omitempty" yaml:"seeds,omitempty"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty" yaml:"query_embedding,omitempty"`
	Relevant       []string  `json:"relevant" yaml:"relevant"` // Clause ids a good ranking contains
	Category       string    `json:"category,omitempty" yaml:"category,omitempty"`
	TopK           int       `json:"top_k,omitempty" yaml:"top_k,omitempty"`
}

// LoadDataset reads a YAML dataset, or JSON when the extension is .json.
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("reading dataset: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &ds)
	} else {
		err = yaml.Unmarshal(data, &ds)
	}
	if err != nil {
		return ds, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i, c := range ds.Cases {
		if c.Name == "" {
			ds.Cases[i].Name = fmt.Sprintf("case-%d", i+1)
		}
	}
	return ds, nil
}
