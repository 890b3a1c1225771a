package convert

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// convertCSV renders the header and the first MaxTableRows records as a
// markdown table. A single-line file is shown as a fenced block.
func convertCSV(f File) (string, error) {
	content, err := decodeUTF8(f.Data)
	if err != nil {
		return "", err
	}

	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return heading(f.Name) + "```csv\n" + content + "\n```", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse csv header: %w", err)
	}

	var rows [][]string
	truncated := false
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse csv: %w", err)
		}
		if len(rows) == MaxTableRows {
			truncated = true
			break
		}
		rows = append(rows, rec)
	}

	if len(rows) == 0 {
		return heading(f.Name) + "```csv\n" + content + "\n```", nil
	}

	var b strings.Builder
	b.WriteString(heading(f.Name))
	writeRow(&b, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, row := range rows {
		writeRow(&b, row)
	}
	if truncated {
		fmt.Fprintf(&b, "\n*... (showing first %d rows)*\n", MaxTableRows)
	}
	return b.String(), nil
}

func writeRow(b *strings.Builder, cells []string) {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = strings.ReplaceAll(strings.TrimSpace(c), "|", `\|`)
	}
	b.WriteString("| ")
	b.WriteString(strings.Join(escaped, " | "))
	b.WriteString(" |\n")
}
