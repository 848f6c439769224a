package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// CSV renders rows as comma-separated text. Empty input yields "".
func CSV(rows []Row) string {
	var b strings.Builder
	_ = WriteCSV(&b, rows)
	return b.String()
}

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cols := columns(rows)
	if len(cols) == 0 {
		return nil
	}
	bw := bufio.NewWriter(w)
	writeLine(bw, cols)
	line := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			line[i] = cell(r, c)
		}
		writeLine(bw, line)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return nil
}

func writeLine(w *bufio.Writer, values []string) {
	for i, v := range values {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteString(escape(v))
	}
	w.WriteByte('\n')
}

func escape(v string) string {
	if !strings.ContainsAny(v, ",\"\n\r") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
