package eval

// AnalyzeGroundTruth runs a descriptive pass over a ground-truth CSV. A
// malformed-but-readable table is reported through SchemaValid and Errors,
// not through the error return; the call fails only when the file cannot
// be read or parsed at all.
func AnalyzeGroundTruth(path string) (*GroundTruthStats, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	stats := &GroundTruthStats{
		Columns:           header,
		LabelDistribution: make(map[string]int),
	}

	idIdx := columnIndex(header, "id")
	labelIdx := columnIndex(header, "label")
	if idIdx < 0 {
		stats.Errors = append(stats.Errors, "Missing 'id' column")
	}
	if labelIdx < 0 {
		stats.Errors = append(stats.Errors, "Missing 'label' column")
	}
	stats.SchemaValid = len(stats.Errors) == 0
	if !stats.SchemaValid {
		return stats, nil
	}

	stats.TotalRows = len(rows)
	seen := make(map[string]bool)
	for _, row := range rows {
		id := cell(row, idIdx)
		label := cell(row, labelIdx)

		if id == "" {
			stats.NullID++
		}
		if label == "" {
			stats.NullLabel++
		}
		if seen[id] {
			stats.DuplicateID++
		}
		seen[id] = true

		// Distribution keys are the raw cell text; a missing label is
		// counted under the literal "nan" key.
		key := label
		if key == "" {
			key = "nan"
		}
		stats.LabelDistribution[key]++
	}
	return stats, nil
}
