// Package config loads dtm0log's operator-facing configuration from
// environment variables, with an optional YAML file overlay.
//
// Configuration is loaded with LoadFromEnv() and should be checked with
// Validate() before use. A YAML file can additionally be merged in with
// LoadFile() for settings operators prefer to check into a deployment repo.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//
//	DTM0LOG_DATA_DIR        - BadgerDB segment directory (default "./data/dtm0log")
//	DTM0LOG_NODE_ID         - this node's id, used to tie-break the clock (default hostname)
//	DTM0LOG_SYNC_WRITES     - fsync every commit (default false)
//	DTM0LOG_IN_MEMORY       - run the segment without touching disk (default false)
//	DTM0LOG_VALUE_LOG_MB    - BadgerDB value log file size in MB (default 64)
//	DTM0LOG_MEM_TABLE_MB    - BadgerDB memtable size in MB (default 16)
//
// For the complete list see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds dtm0log's operator configuration.
type Config struct {
	// Segment holds BadgerDB-backed segment settings (persistent mode only).
	Segment SegmentConfig `yaml:"segment"`

	// NodeID identifies this node to the clock order (tie-breaks TIDs with
	// an equal physical timestamp).
	NodeID string `yaml:"node_id"`
}

// SegmentConfig holds the settings for the persistent backing segment.
type SegmentConfig struct {
	// DataDir is the BadgerDB directory. Ignored when InMemory is set.
	DataDir string `yaml:"data_dir"`
	// InMemory runs the segment without touching disk (tests, ephemeral runs).
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs every commit. Slower, but survives an OS crash as
	// well as a process crash.
	SyncWrites bool `yaml:"sync_writes"`
	// ValueLogFileSizeMB bounds a single BadgerDB value-log file.
	ValueLogFileSizeMB int `yaml:"value_log_file_size_mb"`
	// MemTableSizeMB bounds a single BadgerDB memtable.
	MemTableSizeMB int `yaml:"mem_table_size_mb"`
}

// LoadFromEnv builds a Config from DTM0LOG_* environment variables,
// applying defaults for anything unset.
func LoadFromEnv() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		NodeID: getEnv("DTM0LOG_NODE_ID", hostname),
		Segment: SegmentConfig{
			DataDir:            getEnv("DTM0LOG_DATA_DIR", "./data/dtm0log"),
			InMemory:           getEnvBool("DTM0LOG_IN_MEMORY", false),
			SyncWrites:         getEnvBool("DTM0LOG_SYNC_WRITES", false),
			ValueLogFileSizeMB: getEnvInt("DTM0LOG_VALUE_LOG_MB", 64),
			MemTableSizeMB:     getEnvInt("DTM0LOG_MEM_TABLE_MB", 16),
		},
	}
}

// LoadFile merges YAML settings from path on top of cfg, overriding any
// field the file sets to a non-empty string, a non-zero number, or true. A
// false boolean or a zero size in the file leaves cfg's current value in
// place. Operators who prefer a checked-in config
// file can call this after LoadFromEnv to layer it on top of env defaults.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if overlay.NodeID != "" {
		cfg.NodeID = overlay.NodeID
	}
	if overlay.Segment.DataDir != "" {
		cfg.Segment.DataDir = overlay.Segment.DataDir
	}
	if overlay.Segment.InMemory {
		cfg.Segment.InMemory = true
	}
	if overlay.Segment.SyncWrites {
		cfg.Segment.SyncWrites = true
	}
	if overlay.Segment.ValueLogFileSizeMB != 0 {
		cfg.Segment.ValueLogFileSizeMB = overlay.Segment.ValueLogFileSizeMB
	}
	if overlay.Segment.MemTableSizeMB != 0 {
		cfg.Segment.MemTableSizeMB = overlay.Segment.MemTableSizeMB
	}

	return nil
}

// Validate checks the config for obviously broken values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("config: node_id must not be empty")
	}
	if !c.Segment.InMemory && strings.TrimSpace(c.Segment.DataDir) == "" {
		return fmt.Errorf("config: segment.data_dir must not be empty unless segment.in_memory is set")
	}
	if c.Segment.ValueLogFileSizeMB <= 0 {
		return fmt.Errorf("config: segment.value_log_file_size_mb must be positive, got %d", c.Segment.ValueLogFileSizeMB)
	}
	if c.Segment.MemTableSizeMB <= 0 {
		return fmt.Errorf("config: segment.mem_table_size_mb must be positive, got %d", c.Segment.MemTableSizeMB)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{NodeID: %s, DataDir: %s, InMemory: %t, SyncWrites: %t}",
		c.NodeID, c.Segment.DataDir, c.Segment.InMemory, c.Segment.SyncWrites)
}

func getEnv(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
