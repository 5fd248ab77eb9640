package batch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/hipporeg/graph"
)

// Sheet names read by XLSXDecoder. Matching is case-insensitive.
const (
	SheetClauses    = "clauses"
	SheetRelations  = "relations"
	SheetEmbeddings = "embeddings"
)

// XLSXDecoder reads a batch from a workbook with a "clauses" sheet, an
// optional "relations" sheet and an optional "embeddings" sheet. The first
// row of each sheet is a header; columns are matched by name.
//
//	clauses:    id, text, section, clause_number, requirement_type, severity, chunk
//	relations:  subject, predicate, object, confidence, source
//	embeddings: id, then one numeric column per dimension
type XLSXDecoder struct{}

func (d *XLSXDecoder) SupportedFormats() []string { return []string{"xlsx"} }

func (d *XLSXDecoder) Decode(ctx context.Context, path string) (*graph.Batch, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	sheets := make(map[string]string)
	for _, name := range f.GetSheetList() {
		sheets[strings.ToLower(strings.TrimSpace(name))] = name
	}

	name, ok := sheets[SheetClauses]
	if !ok {
		return nil, fmt.Errorf("%w: workbook has no %q sheet", ErrInvalidRecord, SheetClauses)
	}

	b := &graph.Batch{}

	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if err := forEachRow(name, rows, []string{"id"}, func(line int, get func(string) string) error {
		b.Clauses = append(b.Clauses, graph.ClauseRecord{
			ID:              get("id"),
			Text:            get("text"),
			Section:         get("section"),
			ClauseNumber:    get("clause_number"),
			RequirementType: get("requirement_type"),
			Severity:        get("severity"),
			Chunk:           get("chunk"),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	if name, ok := sheets[SheetRelations]; ok {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		if err := forEachRow(name, rows, []string{"subject", "object"}, func(line int, get func(string) string) error {
			t := graph.Triplet{
				Subject:   get("subject"),
				Predicate: get("predicate"),
				Object:    get("object"),
				Source:    get("source"),
			}
			if c := get("confidence"); c != "" {
				v, err := strconv.ParseFloat(c, 64)
				if err != nil {
					return fmt.Errorf("%w: %s row %d: confidence %q", ErrInvalidRecord, name, line, c)
				}
				t.Confidence = v
			}
			b.Triplets = append(b.Triplets, t)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if name, ok := sheets[SheetEmbeddings]; ok {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		embeddings, err := readEmbeddingRows(name, rows)
		if err != nil {
			return nil, err
		}
		if len(embeddings) > 0 {
			b.Embeddings = embeddings
		}
	}

	return b, nil
}

// forEachRow calls fn for every non-blank data row. get returns the
// trimmed cell under a header column, or "" when absent.
func forEachRow(sheet string, rows [][]string, required []string, fn func(line int, get func(string) string) error) error {
	if len(rows) == 0 {
		return nil
	}
	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, r := range required {
		if _, ok := cols[r]; !ok {
			return fmt.Errorf("%w: %s sheet has no %q column", ErrInvalidRecord, sheet, r)
		}
	}

	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		get := func(col string) string {
			idx, ok := cols[col]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if err := fn(i+2, get); err != nil {
			return err
		}
	}
	return nil
}

func readEmbeddingRows(sheet string, rows [][]string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for i, row := range rows {
		if i == 0 || blank(row) {
			continue
		}
		id := strings.TrimSpace(row[0])
		if id == "" {
			return nil, fmt.Errorf("%w: %s row %d has no id", ErrInvalidRecord, sheet, i+1)
		}
		vec := make([]float32, 0, len(row)-1)
		for _, cell := range row[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d: value %q", ErrInvalidRecord, sheet, i+1, cell)
			}
			vec = append(vec, float32(v))
		}
		out[id] = vec
	}
	return out, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
