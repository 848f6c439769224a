package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func TestCSVEmpty(t *testing.T) {
	if got := CSV(nil); got != "" {
		t.Fatalf("CSV(nil) = %q, want empty", got)
	}
	if got := CSV([]Row{}); got != "" {
		t.Fatalf("CSV([]) = %q, want empty", got)
	}
}

func TestCSVHeaderOrderAndEscaping(t *testing.T) {
	rows := []Row{
		NewRow().Set("id", "1").Set("title", `Pour, "slab" A`).Set("note", nil),
		NewRow().Set("title", "line1\nline2").Set("id", 2),
	}
	got := CSV(rows)
	want := "id,title,note\n" +
		"1,\"Pour, \"\"slab\"\" A\",\n" +
		"2,\"line1\nline2\",\n"
	if got != want {
		t.Fatalf("CSV mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestCSVIgnoresUnknownColumns(t *testing.T) {
	rows := []Row{
		NewRow().Set("a", "1"),
		NewRow().Set("a", "2").Set("b", "extra"),
	}
	if got, want := CSV(rows), "a\n1\n2\n"; got != want {
		t.Fatalf("CSV = %q, want %q", got, want)
	}
}

func TestCSVFormatsValues(t *testing.T) {
	ts := time.Date(2024, 1, 10, 12, 0, 0, 0, time.FixedZone("X", 3600))
	var nilTime *time.Time
	rows := []Row{NewRow().Set("ts", ts).Set("missing", nilTime).Set("n", 3.5)}
	if got, want := CSV(rows), "ts,missing,n\n2024-01-10T11:00:00Z,,3.5\n"; got != want {
		t.Fatalf("CSV = %q, want %q", got, want)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	values := [][]string{
		{"1", "plain", ""},
		{"2", "comma, inside", `say "hi"`},
		{"3", "multi\nline", ",\"\n"},
	}
	cols := []string{"item_id", "title", "note"}
	var rows []Row
	for _, v := range values {
		r := NewRow()
		for i, c := range cols {
			r = r.Set(c, v[i])
		}
		rows = append(rows, r)
	}
	records, err := csv.NewReader(strings.NewReader(CSV(rows))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != len(values)+1 {
		t.Fatalf("expected %d records, got %d", len(values)+1, len(records))
	}
	for i, c := range cols {
		if records[0][i] != c {
			t.Fatalf("header[%d] = %q, want %q", i, records[0][i], c)
		}
	}
	for n, v := range values {
		for i := range v {
			if records[n+1][i] != v[i] {
				t.Fatalf("row %d col %d = %q, want %q", n, i, records[n+1][i], v[i])
			}
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCSVSinkFailure(t *testing.T) {
	err := WriteCSV(failingWriter{}, []Row{NewRow().Set("a", "1")})
	if !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("expected ErrWriteFailure, got %v", err)
	}
}

func TestWriteXLSX(t *testing.T) {
	rows := []Row{
		NewRow().Set("item_id", "i-1").Set("sla_grade", "GREEN"),
		NewRow().Set("item_id", "i-2").Set("sla_grade", "RED"),
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, "Timeliness", rows); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	got, err := f.GetRows("Timeliness")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	want := [][]string{{"item_id", "sla_grade"}, {"i-1", "GREEN"}, {"i-2", "RED"}}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("cell %d,%d = %q, want %q", i, j, got[i][j], want[i][j])
			}
		}
	}
}
