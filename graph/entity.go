package graph

import (
	"fmt"
	"strings"
)

// NodeKind distinguishes clause nodes from placeholder nodes that were
// created for dangling edge endpoints.
type NodeKind uint8

const (
	KindUnknown NodeKind = iota
	KindClause
)

func (k NodeKind) String() string {
	switch k {
	case KindClause:
		return "clause"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts "clause" and "unknown" only.
func (k *NodeKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "clause":
		*k = KindClause
	case "unknown":
		*k = KindUnknown
	default:
		return fmt.Errorf("unknown node kind %q", string(b))
	}
	return nil
}

// RequirementType classifies how binding a clause is.
type RequirementType string

const (
	RequirementMandatory   RequirementType = "mandatory"
	RequirementRecommended RequirementType = "recommended"
	RequirementUnknown     RequirementType = "unknown"
)

// ParseRequirementType normalises an extractor-supplied value. An empty
// value maps to RequirementUnknown.
func ParseRequirementType(s string) (RequirementType, error) {
	switch v := RequirementType(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return RequirementUnknown, nil
	case RequirementMandatory, RequirementRecommended, RequirementUnknown:
		return v, nil
	default:
		return "", fmt.Errorf("invalid requirement type %q", s)
	}
}

// Severity ranks the impact of violating a clause.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity normalises an extractor-supplied value. Extractors often
// omit severity; an empty value maps to SeverityMedium.
func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return SeverityMedium, nil
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return v, nil
	default:
		return "", fmt.Errorf("invalid severity %q", s)
	}
}

// Relation is the type of an edge.
type Relation uint8

const (
	// RelAsserted is a relationship identified by the upstream extractor.
	RelAsserted Relation = iota + 1
	// RelSimilar is a sparse backup edge between clauses with highly
	// similar embeddings.
	RelSimilar
	// RelAdjacent links a clause to its successor in the same source chunk.
	RelAdjacent
)

// Relations lists every valid relation in a stable order.
var Relations = []Relation{RelAsserted, RelSimilar, RelAdjacent}

func (r Relation) String() string {
	switch r {
	case RelAsserted:
		return "ASSERTED"
	case RelSimilar:
		return "SIMILAR"
	case RelAdjacent:
		return "ADJACENT"
	default:
		return fmt.Sprintf("Relation(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the defined relations.
func (r Relation) Valid() bool {
	return r >= RelAsserted && r <= RelAdjacent
}

// ParseRelation parses a relation name. Names are matched exactly; older
// spellings are a schema change and must go through a migration.
func ParseRelation(s string) (Relation, error) {
	for _, r := range Relations {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown relation %q", s)
}

// MarshalText encodes the relation by name.
func (r Relation) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a relation name.
func (r *Relation) UnmarshalText(b []byte) error {
	v, err := ParseRelation(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ClauseRecord is one atomic requirement as produced by the upstream
// extractor.
type ClauseRecord struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	Section         string `json:"section"`
	ClauseNumber    string `json:"clause_number"`
	RequirementType string `json:"requirement_type,omitempty"`
	Severity        string `json:"severity,omitempty"`
	// Chunk names the source chunk the clause was extracted from. Clauses
	// sharing a chunk are chained by ADJACENT edges in batch order; clauses
	// without one are not chained.
	Chunk     string    `json:"chunk,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Triplet is a relationship between two clause ids as produced by the
// upstream extractor. Confidence is accepted for provenance only; asserted
// edges always propagate with the policy weight.
type Triplet struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}
