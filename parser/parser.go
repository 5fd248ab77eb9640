// Package parser extracts sectioned text from regulatory source documents
// so the external extractor can turn it into clause records.
package parser

import "context"

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section         `json:"sections"` // Ordered sections extracted from the document
	Method   string            `json:"method"`   // "native"
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string `json:"heading"`
	Content    string `json:"content"`
	Level      int    `json:"level"` // Heading level (1=top, 2=sub, etc.)
	PageNumber int    `json:"page_number"`
	Type       string `json:"type"` // "section", "table", "definition", "requirement", "annex"
	// ClauseNumber is the leading numbering of the heading, e.g. "4.1.2".
	ClauseNumber string `json:"clause_number,omitempty"`
	// RequirementType is a modal-verb hint: "mandatory", "recommended" or
	// empty when the text has neither.
	RequirementType string `json:"requirement_type,omitempty"`
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
