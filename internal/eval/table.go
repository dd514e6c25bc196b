package eval

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// scoreColumnNames are the preferred score-column names, matched
// case-insensitively and in file column order, when the prediction CSV has
// no column literally named "label_pred".
var scoreColumnNames = map[string]bool{
	"probability": true,
	"score":       true,
	"prediction":  true,
	"label_score": true,
}

// labelHeaderNames are second-cell values that mark a row as a header in the
// headerless line-oriented reader.
var labelHeaderNames = map[string]bool{
	"label":       true,
	"label_pred":  true,
	"label_score": true,
	"probability": true,
	"score":       true,
	"prediction":  true,
}

// Table is an ordered id-keyed view of one CSV value column. A duplicated
// id keeps its first position but its last value.
type Table struct {
	ids    []string
	values map[string]string
}

func newTable() *Table {
	return &Table{values: make(map[string]string)}
}

func (t *Table) set(id, value string) {
	if _, ok := t.values[id]; !ok {
		t.ids = append(t.ids, id)
	}
	t.values[id] = value
}

// Get returns the value for id and whether it is present.
func (t *Table) Get(id string) (string, bool) {
	v, ok := t.values[id]
	return v, ok
}

// IDs returns identifiers in first-appearance order.
func (t *Table) IDs() []string { return t.ids }

// Len returns the number of distinct identifiers.
func (t *Table) Len() int { return len(t.ids) }

// readCSV parses an entire CSV file into a header row and data rows.
// A UTF-8 BOM is tolerated and rows may have varying field counts.
func readCSV(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "eval: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(transform.NewReader(f, unicode.UTF8BOM.NewDecoder()))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err = r.Read()
	if err == io.EOF {
		return nil, nil, eris.Errorf("eval: %s is empty", path)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "eval: read header of %s", path)
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrapf(err, "eval: read row of %s", path)
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// readGroundTruth parses a ground-truth CSV. The header must contain
// columns named exactly "id" and "label".
func readGroundTruth(path string) (*Table, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if columnIndex(header, "id") < 0 || columnIndex(header, "label") < 0 {
		return nil, schemaErrorf("ground truth CSV must have columns: id,label")
	}
	idIdx := columnIndex(header, "id")
	labelIdx := columnIndex(header, "label")

	t := newTable()
	for _, row := range rows {
		t.set(cell(row, idIdx), cell(row, labelIdx))
	}
	return t, nil
}

// readPredictions parses a prediction CSV and selects its score column.
// The column is chosen by priority: a column literally named "label_pred",
// else the first column whose lowercased name is a preferred score name,
// else a column named "label".
func readPredictions(path string) (*Table, string, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, "", err
	}
	idIdx := columnIndex(header, "id")
	if idIdx < 0 {
		return nil, "", schemaErrorf("prediction CSV must contain an id column")
	}

	scoreCol := ""
	if columnIndex(header, "label_pred") >= 0 {
		scoreCol = "label_pred"
	} else {
		for _, h := range header {
			if scoreColumnNames[strings.ToLower(h)] {
				scoreCol = h
				break
			}
		}
		if scoreCol == "" && columnIndex(header, "label") >= 0 {
			scoreCol = "label"
		}
	}
	if scoreCol == "" {
		return nil, "", schemaErrorf("prediction CSV must have a probability column (label_pred/probability/score)")
	}
	scoreIdx := columnIndex(header, scoreCol)

	t := newTable()
	for _, row := range rows {
		t.set(cell(row, idIdx), cell(row, scoreIdx))
	}
	return t, scoreCol, nil
}

// looksLikeHeader reports whether the first data-bearing row of a
// line-oriented CSV is a header. The first cell must be "id"
// (case-insensitively); the second, when present, must be a known
// label/score column name.
func looksLikeHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	if strings.ToLower(strings.TrimSpace(row[0])) != "id" {
		return false
	}
	if len(row) == 1 {
		return true
	}
	return labelHeaderNames[strings.ToLower(strings.TrimSpace(row[1]))]
}

// readLabelMap is the lightweight line-oriented reader used by exact-match
// scoring. Rows with fewer than two fields are skipped, the first usable
// row is dropped if it looks like a header, fields are trimmed, rows with
// an empty id are skipped, and a duplicated id keeps its last value.
func readLabelMap(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "eval: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(transform.NewReader(f, unicode.UTF8BOM.NewDecoder()))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	t := newTable()
	headerSkipped := false
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "eval: read row of %s", path)
		}
		if len(row) < 2 {
			continue
		}
		if !headerSkipped {
			headerSkipped = true
			if looksLikeHeader(row) {
				continue
			}
		}
		id := strings.TrimSpace(row[0])
		if id == "" {
			continue
		}
		t.set(id, strings.TrimSpace(row[1]))
	}
	return t, nil
}
