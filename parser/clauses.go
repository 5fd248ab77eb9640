package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/hipporeg/graph"
)

// Clauses turns parsed sections into clause record skeletons for the
// extractor to refine. Ids are "<source>#<n>" in document order and every
// page is its own chunk, so the builder chains clauses of a page with
// ADJACENT edges. Table and definition sections are kept; empty sections
// are dropped.
func Clauses(source string, res *ParseResult) []graph.ClauseRecord {
	prefix := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	var out []graph.ClauseRecord
	for _, s := range res.Sections {
		text := strings.TrimSpace(s.Content)
		if text == "" {
			continue
		}
		out = append(out, graph.ClauseRecord{
			ID:              fmt.Sprintf("%s#%d", prefix, len(out)+1),
			Text:            text,
			Section:         s.Heading,
			ClauseNumber:    s.ClauseNumber,
			RequirementType: s.RequirementType,
			Chunk:           fmt.Sprintf("page-%d", s.PageNumber),
		})
	}
	return out
}
