package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.NodeID)
	assert.Equal(t, "./data/dtm0log", cfg.Segment.DataDir)
	assert.False(t, cfg.Segment.InMemory)
	assert.Equal(t, 64, cfg.Segment.ValueLogFileSizeMB)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DTM0LOG_NODE_ID", "node-7")
	t.Setenv("DTM0LOG_DATA_DIR", "/tmp/seg")
	t.Setenv("DTM0LOG_IN_MEMORY", "true")
	t.Setenv("DTM0LOG_SYNC_WRITES", "true")
	t.Setenv("DTM0LOG_VALUE_LOG_MB", "128")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "node-7", cfg.NodeID)
	assert.Equal(t, "/tmp/seg", cfg.Segment.DataDir)
	assert.True(t, cfg.Segment.InMemory)
	assert.True(t, cfg.Segment.SyncWrites)
	assert.Equal(t, 128, cfg.Segment.ValueLogFileSizeMB)
}

func TestValidateRejectsEmptyNodeID(t *testing.T) {
	cfg := &Config{NodeID: "", Segment: SegmentConfig{InMemory: true, ValueLogFileSizeMB: 1, MemTableSizeMB: 1}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := &Config{NodeID: "n1", Segment: SegmentConfig{DataDir: "", ValueLogFileSizeMB: 1, MemTableSizeMB: 1}}
	assert.Error(t, cfg.Validate())
}

func TestLoadFileOverlay(t *testing.T) {
	cfg := LoadFromEnv()
	dir := t.TempDir()
	path := filepath.Join(dir, "dtm0log.yaml")
	yamlContent := "node_id: overlay-node\nsegment:\n  data_dir: /var/lib/dtm0log\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	require.NoError(t, LoadFile(cfg, path))
	assert.Equal(t, "overlay-node", cfg.NodeID)
	assert.Equal(t, "/var/lib/dtm0log", cfg.Segment.DataDir)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := LoadFromEnv()
	err := LoadFile(cfg, "/nonexistent/dtm0log.yaml")
	assert.Error(t, err)
}
