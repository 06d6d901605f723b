package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ReadJSONL parses one record per line. Blank lines are ignored; malformed
// lines and lines missing category, key, or solution are skipped and
// counted. Records missing statistics start at occurrences=1.
func ReadJSONL(r io.Reader) (records []Record, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		if rec.Category == "" || rec.Key == "" || rec.Solution == "" {
			skipped++
			continue
		}
		if rec.Occurrences < 1 {
			rec.Occurrences = 1
		}
		if rec.LastUpdated.IsZero() {
			rec.LastUpdated = rec.FirstSeen
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("scan jsonl: %w", err)
	}
	return records, skipped, nil
}

// WriteJSONL writes one record per line, including the derived success_rate.
func WriteJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write jsonl %s: %w", r.Key, err)
		}
	}
	return nil
}
