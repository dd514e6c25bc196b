package eval

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeGroundTruth_ValidSchema(t *testing.T) {
	path := writeFile(t, "gt.csv", "id,label\n1,0\n2,1\n3,1\n4,0\n")

	stats, err := AnalyzeGroundTruth(path)
	require.NoError(t, err)

	assert.True(t, stats.SchemaValid)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, []string{"id", "label"}, stats.Columns)
	assert.Equal(t, 4, stats.TotalRows)
	assert.Equal(t, 2, stats.LabelDistribution["0"])
	assert.Equal(t, 2, stats.LabelDistribution["1"])
}

func TestAnalyzeGroundTruth_MissingColumnsReportedNotRaised(t *testing.T) {
	path := writeFile(t, "gt.csv", "key,value\n1,0\n")

	stats, err := AnalyzeGroundTruth(path)
	require.NoError(t, err)

	assert.False(t, stats.SchemaValid)
	assert.Contains(t, stats.Errors, "Missing 'id' column")
	assert.Contains(t, stats.Errors, "Missing 'label' column")
	assert.Equal(t, 0, stats.TotalRows)
}

func TestAnalyzeGroundTruth_NullAndDuplicateCounts(t *testing.T) {
	path := writeFile(t, "gt.csv", "id,label\n1,a\n1,b\n,a\n2,\n1,a\n")

	stats, err := AnalyzeGroundTruth(path)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalRows)
	assert.Equal(t, 1, stats.NullID)
	assert.Equal(t, 1, stats.NullLabel)
	assert.Equal(t, 2, stats.DuplicateID)
	assert.Equal(t, 3, stats.LabelDistribution["a"])
	assert.Equal(t, 1, stats.LabelDistribution["b"])
	assert.Equal(t, 1, stats.LabelDistribution["nan"])
}

func TestAnalyzeGroundTruth_UnreadableFile(t *testing.T) {
	_, err := AnalyzeGroundTruth(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
}

func TestAnalyzeGroundTruth_ExtraColumnsAccepted(t *testing.T) {
	path := writeFile(t, "gt.csv", "label,id,weight\nx,1,0.5\ny,2,0.7\n")

	stats, err := AnalyzeGroundTruth(path)
	require.NoError(t, err)
	assert.True(t, stats.SchemaValid)
	assert.Equal(t, 2, stats.TotalRows)
}
