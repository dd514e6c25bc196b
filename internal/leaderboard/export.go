package leaderboard

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var exportHeader = []string{"rank", "group", "dataset_id", "auc", "f1", "acc", "n_samples", "submissions"}

func entryStrings(e Entry) []string {
	return []string{
		strconv.Itoa(e.Rank),
		e.GroupName,
		e.DatasetID,
		strconv.FormatFloat(e.AUC, 'f', 6, 64),
		strconv.FormatFloat(e.F1, 'f', 6, 64),
		strconv.FormatFloat(e.Accuracy, 'f', 6, 64),
		strconv.Itoa(e.NSamples),
		strconv.Itoa(e.Submissions),
	}
}

// WriteCSV writes the leaderboard as CSV with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return eris.Wrap(err, "leaderboard: write csv header")
	}
	for _, e := range entries {
		if err := cw.Write(entryStrings(e)); err != nil {
			return eris.Wrap(err, "leaderboard: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "leaderboard: flush csv")
}

// WriteXLSX writes the leaderboard as a single-sheet workbook.
func WriteXLSX(path string, entries []Entry) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leaderboard")
	if err != nil {
		return eris.Wrap(err, "leaderboard: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportHeader {
		header.AddCell().SetString(col)
	}
	for _, e := range entries {
		row := sheet.AddRow()
		row.AddCell().SetInt(e.Rank)
		row.AddCell().SetString(e.GroupName)
		row.AddCell().SetString(e.DatasetID)
		row.AddCell().SetFloat(e.AUC)
		row.AddCell().SetFloat(e.F1)
		row.AddCell().SetFloat(e.Accuracy)
		row.AddCell().SetInt(e.NSamples)
		row.AddCell().SetInt(e.Submissions)
	}

	return eris.Wrapf(f.Save(path), "leaderboard: save %s", path)
}
