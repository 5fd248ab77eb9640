package parser

import (
	"regexp"
	"strings"
)

// splitIntoSections breaks page text into logical sections.
func splitIntoSections(text string, pageNum int) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	var currentContent strings.Builder
	var currentHeading string
	currentLevel := 0

	flush := func() {
		if currentContent.Len() == 0 {
			return
		}
		content := strings.TrimSpace(currentContent.String())
		sections = append(sections, Section{
			Heading:         currentHeading,
			Content:         content,
			Level:           currentLevel,
			PageNumber:      pageNum,
			Type:            classifySectionType(currentHeading, content),
			ClauseNumber:    clauseNumber(currentHeading),
			RequirementType: requirementHint(content),
		})
		currentContent.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		// Detect headings: all-caps lines, numbered clauses, article prefixes
		if isLikelyHeading(trimmed) {
			flush()
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
			continue
		}
		if currentContent.Len() > 0 {
			currentContent.WriteString("\n")
		}
		currentContent.WriteString(trimmed)
	}
	flush()

	return sections
}

func isLikelyHeading(line string) bool {
	if line == "" {
		return false
	}
	// All caps and short
	if len(line) < 100 && line == strings.ToUpper(line) && line != strings.ToLower(line) && len(line) > 2 {
		return true
	}
	if len(line) >= 120 {
		return false
	}
	// Numbered clause like "1.", "1.1", "4.2.3", "7.3.1.2"
	if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
		return true
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{
		"section ", "article ", "chapter ", "part ", "annex ", "schedule ", "§",
		"sección ", "seccion ", "artículo ", "articulo ", "capítulo ", "capitulo ", "anexo ",
	} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	// "Table N ..." / "Tabla N ..." only when followed by a digit, to avoid
	// matching body text like "table below shows..."
	for _, prefix := range []string{"table ", "tabla "} {
		if strings.HasPrefix(lower, prefix) && len(lower) > len(prefix) &&
			lower[len(prefix)] >= '0' && lower[len(prefix)] <= '9' {
			return true
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	// Count dots in numbering to determine depth
	if n := clauseNumber(heading); n != "" {
		if dots := strings.Count(strings.TrimSuffix(n, "."), "."); dots > 0 {
			return dots + 1
		}
		return 1
	}
	// All-caps = top level
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

var clauseNumberRe = regexp.MustCompile(`^(?:§\s*)?(\d+(?:\.\d+)*\.?)(?:\s|$)`)

// clauseNumber returns the leading numbering of a heading such as
// "4.2.1 Record keeping" or "§ 12 Scope", without a trailing dot.
func clauseNumber(heading string) string {
	m := clauseNumberRe.FindStringSubmatch(strings.TrimSpace(heading))
	if m == nil {
		return ""
	}
	return strings.TrimSuffix(m[1], ".")
}

var (
	mandatoryRe   = regexp.MustCompile(`(?i)\b(shall|must|is required to|are required to|debe|deberá)\b`)
	recommendedRe = regexp.MustCompile(`(?i)\b(should|may|is recommended|are recommended|recommended|debería)\b`)
)

// requirementHint classifies text by its modal verbs. "shall"/"must"
// outrank "should"/"may" when both occur.
func requirementHint(content string) string {
	switch {
	case mandatoryRe.MatchString(content):
		return "mandatory"
	case recommendedRe.MatchString(content):
		return "recommended"
	default:
		return ""
	}
}

func classifySectionType(heading, content string) string {
	headingLower := strings.ToLower(heading)
	contentLower := strings.ToLower(content)

	// Definition: check heading and content for definition-related keywords
	if strings.Contains(headingLower, "definition") || strings.Contains(headingLower, "definición") ||
		strings.Contains(headingLower, "glosario") || strings.Contains(headingLower, "glossary") ||
		strings.Contains(contentLower, "definition") || strings.Contains(contentLower, "definición") {
		return "definition"
	}
	if requirementHint(content) != "" || strings.Contains(headingLower, "requirement") ||
		strings.Contains(headingLower, "requisito") || strings.Contains(contentLower, "requirement") {
		return "requirement"
	}
	// Table: check heading for table keywords
	if strings.Contains(headingLower, "table") || strings.Contains(headingLower, "tabla") {
		return "table"
	}
	// Structural table detection via content: tabs/pipes indicate actual table formatting
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return "table"
	}
	if strings.Contains(headingLower, "anexo") || strings.Contains(headingLower, "annex") {
		return "annex"
	}
	return "section"
}
