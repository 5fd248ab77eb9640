package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextParser handles plain text (.txt) files. Form feeds separate pages.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	var sections []Section
	for i, page := range strings.Split(string(data), "\f") {
		sections = append(sections, splitIntoSections(page, i+1)...)
	}

	return &ParseResult{
		Sections: sections,
		Method:   "native",
	}, nil
}
