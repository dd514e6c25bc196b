package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mlboard/internal/config"
	"github.com/sells-group/mlboard/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "cli.db")
	c.Eval.MaxConcurrent = 2
	return c
}

func TestOpenStore_SQLite(t *testing.T) {
	orig := cfg
	cfg = testConfig(t)
	t.Cleanup(func() { cfg = orig })

	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	// Migrated and usable.
	require.NoError(t, st.CreateUser(context.Background(), &model.User{Username: "cli"}))
	u, err := st.GetUserByUsername(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, "cli", u.Username)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	orig := cfg
	cfg = testConfig(t)
	cfg.Store.Driver = "mysql"
	t.Cleanup(func() { cfg = orig })

	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestDatasetManifestParse(t *testing.T) {
	data := []byte(`
datasets:
  - name: spam-2026
    description: spam benchmark
    groundtruth_ref: /data/gt.csv
    official: true
  - name: fraud
    groundtruth_ref: https://example.com/gt.csv
    data_ref: ftp://example.com/pub/raw.zip
`)

	var manifest datasetManifest
	require.NoError(t, yaml.Unmarshal(data, &manifest))
	require.Len(t, manifest.Datasets, 2)
	assert.Equal(t, "spam-2026", manifest.Datasets[0].Name)
	assert.True(t, manifest.Datasets[0].Official)
	assert.Equal(t, "ftp://example.com/pub/raw.zip", manifest.Datasets[1].DataRef)
	assert.False(t, manifest.Datasets[1].Official)
}
