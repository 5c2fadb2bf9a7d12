// Package export converts a JSONL record stream into its final JSON or CSV
// form. Conversion streams the input, so memory stays flat regardless of
// how large the run was.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/glider-scraper/glider/internal/types"
)

// Input lines can be large when records embed raw HTML.
const maxLineSize = 16 * 1024 * 1024

// ToJSON rewrites the JSONL stream as one pretty-printed JSON array. Returns
// the number of records written. Malformed lines are skipped.
func ToJSON(inPath, outPath string) (int, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	if _, err := w.WriteString("[\n"); err != nil {
		return 0, err
	}

	count := 0
	scanner := newLineScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record types.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		pretty, err := json.MarshalIndent(record, "  ", "  ")
		if err != nil {
			continue
		}
		if count > 0 {
			if _, err := w.WriteString(",\n"); err != nil {
				return count, err
			}
		}
		if _, err := w.WriteString("  " + string(pretty)); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}

	if _, err := w.WriteString("\n]\n"); err != nil {
		return count, err
	}
	return count, w.Flush()
}

// ToCSV rewrites the JSONL stream as CSV. Two passes over the input: the
// first collects the union of flattened column names, the second writes the
// rows. Nested records flatten to dot-joined columns; lists serialize as
// JSON cells.
func ToCSV(inPath, outPath string) (int, error) {
	columns, err := collectColumns(inPath)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("no records in %s", inPath)
	}

	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(columns); err != nil {
		return 0, err
	}

	count := 0
	scanner := newLineScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record types.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		flat := flatten("", record)
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = cellValue(flat[col])
		}
		if err := w.Write(row); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}

	w.Flush()
	return count, w.Error()
}

func collectColumns(path string) ([]string, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	set := make(map[string]struct{})
	scanner := newLineScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record types.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		for key := range flatten("", record) {
			set[key] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(set))
	for key := range set {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns, nil
}

// flatten joins nested map keys with dots. Non-map values stay put.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func cellValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func newLineScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return scanner
}
