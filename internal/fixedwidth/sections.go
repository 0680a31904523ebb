package fixedwidth

import (
	"fmt"
	"regexp"
	"strings"

	"ncd/internal/schema"
)

// GlobalFileName is the archive member holding the multi-table reference file.
const GlobalFileName = "global_LIONS.txt"

// Section is one named table inside the global file. Body starts at the
// header line and is ready for ParseDividerTable.
type Section struct {
	Name string
	Body string
}

var reSectionName = regexp.MustCompile(`^[A-Z]\S+$`)

// SplitGlobalSections splits global file text into named tables.
//
// A section starts at a line holding only an uppercase token, followed by one
// or more blank lines, a header line and a dash divider. Its body runs to the
// next section start. Single-token lines that are not followed by that shape
// are treated as data.
//
// Errors:
//   - A section name seen more than once returns *schema.AmbiguousTableBoundaryError.
func SplitGlobalSections(text string) ([]Section, error) {
	lines := splitLines(text)

	type start struct {
		name       string
		nameLine   int
		headerLine int
	}
	var starts []start
	for i := 0; i < len(lines); i++ {
		if !reSectionName.MatchString(lines[i]) {
			continue
		}
		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j == i+1 || j+1 >= len(lines) || !isDividerLine(lines[j+1]) {
			continue
		}
		starts = append(starts, start{name: lines[i], nameLine: i, headerLine: j})
		i = j + 1
	}

	counts := make(map[string]int, len(starts))
	for _, s := range starts {
		counts[s.name]++
	}

	out := make([]Section, 0, len(starts))
	for k, s := range starts {
		if n := counts[s.name]; n > 1 {
			return nil, &schema.AmbiguousTableBoundaryError{Table: s.name, Matches: n, Source: GlobalFileName}
		}
		end := len(lines)
		if k+1 < len(starts) {
			end = starts[k+1].nameLine
		}
		body := trimBlankTail(lines[s.headerLine:end])
		out = append(out, Section{Name: s.name, Body: strings.Join(body, "\n")})
	}
	return out, nil
}

// LookupFilePrefix is the base-name prefix of standalone lookup table files.
const LookupFilePrefix = "table_gs_"

var reLookupName = regexp.MustCompile(`\sGS_\S+`)

// ExtractLookupTable finds a lookup file's table name and its divider-table
// body.
//
// The name is the first whitespace-preceded token starting with GS_. The body
// is the text between the first two runs of blank lines, or from the first run
// to the end of the file when there is only one.
func ExtractLookupTable(text string) (name, body string, err error) {
	m := reLookupName.FindString(text)
	if m == "" {
		return "", "", fmt.Errorf("lookup table: no GS_ table name found")
	}
	name = m[1:]

	lines := splitLines(text)
	first := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			first = i
			break
		}
	}
	if first < 0 {
		return "", "", fmt.Errorf("lookup table %s: no blank line before table body", name)
	}
	from := first
	for from < len(lines) && strings.TrimSpace(lines[from]) == "" {
		from++
	}
	to := from
	for to < len(lines) && strings.TrimSpace(lines[to]) != "" {
		to++
	}
	if from == to {
		return "", "", fmt.Errorf("lookup table %s: empty table body", name)
	}
	return name, strings.Join(lines[from:to], "\n"), nil
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return lines
}

func trimBlankTail(lines []string) []string {
	n := len(lines)
	for n > 0 && strings.TrimSpace(lines[n-1]) == "" {
		n--
	}
	return lines[:n]
}
