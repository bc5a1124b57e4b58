package fileedit

import "strings"

// leadingWhitespace returns the run of spaces and tabs at the start of a
// line.
func leadingWhitespace(line string) string {
	for i, r := range line {
		if r != ' ' && r != '\t' {
			return line[:i]
		}
	}
	return line
}

// normalizeIndent removes the common minimum indentation from every
// non-empty line, so the text can later be re-indented against a match.
func normalizeIndent(text string) string {
	lines := strings.Split(text, "\n")
	common := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ws := leadingWhitespace(line)
		if first {
			common = ws
			first = false
			continue
		}
		for !strings.HasPrefix(line, common) {
			common = common[:len(common)-1]
		}
	}
	if common == "" {
		return text
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, common)
	}
	return strings.Join(lines, "\n")
}

// matchIndentByFirstLine shifts every line of text by the indentation
// delta between its first line and ref, preserving relative nesting.
func matchIndentByFirstLine(text, ref string) string {
	want := leadingWhitespace(ref)
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return text
	}
	have := leadingWhitespace(lines[0])
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, have); ok {
			lines[i] = want + rest
			continue
		}
		// Line is shallower than the first line; re-indent from its own
		// whitespace.
		lines[i] = want + strings.TrimPrefix(line, leadingWhitespace(line))
	}
	return strings.Join(lines, "\n")
}
