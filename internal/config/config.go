package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/photoevent/facematch/internal/constants"
)

//go:embed tuning.yaml
var tuningYAML []byte

type Config struct {
	Matching MatchingConfig
	Ingest   IngestConfig
	Locator  LocatorConfig
	Index    IndexConfig
	Database DatabaseConfig
	Web      WebConfig
}

type MatchingConfig struct {
	Threshold int `yaml:"threshold"` // minimum similarity score (0-100) for a match
}

type IngestConfig struct {
	Workers int `yaml:"workers"` // photos processed concurrently per batch
}

type LocatorConfig struct {
	MaxDim          int     `yaml:"max_dim"`           // longest side after internal downscale
	MinFaceFraction float64 `yaml:"min_face_fraction"` // smallest accepted face region, relative to the smaller side
}

type IndexConfig struct {
	HNSWCutover int `yaml:"hnsw_cutover"` // descriptor count above which an HNSW graph is built
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL; empty disables persistence
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type WebConfig struct {
	Host string
	Port int
}

// tuningFile mirrors the layout of the embedded tuning.yaml.
type tuningFile struct {
	Matching MatchingConfig `yaml:"matching"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Locator  LocatorConfig  `yaml:"locator"`
	Index    IndexConfig    `yaml:"index"`
}

// applyDefaults fills zero-valued tunables with the compiled-in defaults,
// so a sparse tuning.yaml cannot silently zero a knob.
func (t *tuningFile) applyDefaults() {
	if t.Matching.Threshold <= 0 {
		t.Matching.Threshold = constants.DefaultMatchThreshold
	}
	if t.Ingest.Workers <= 0 {
		t.Ingest.Workers = constants.DefaultWorkerPoolSize
	}
	if t.Locator.MaxDim <= 0 {
		t.Locator.MaxDim = constants.LocatorMaxDim
	}
	if t.Locator.MinFaceFraction <= 0 {
		t.Locator.MinFaceFraction = constants.MinFaceFraction
	}
	if t.Index.HNSWCutover <= 0 {
		t.Index.HNSWCutover = constants.HNSWCutover
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	var tuning tuningFile
	if err := yaml.Unmarshal(tuningYAML, &tuning); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded tuning.yaml: " + err.Error())
	}
	tuning.applyDefaults()

	return &Config{
		Matching: MatchingConfig{
			Threshold: envInt("MATCH_THRESHOLD", tuning.Matching.Threshold),
		},
		Ingest: IngestConfig{
			Workers: envInt("INGEST_WORKERS", tuning.Ingest.Workers),
		},
		Locator: LocatorConfig{
			MaxDim:          envInt("LOCATOR_MAX_DIM", tuning.Locator.MaxDim),
			MinFaceFraction: envFloat("LOCATOR_MIN_FACE_FRACTION", tuning.Locator.MinFaceFraction),
		},
		Index: IndexConfig{
			HNSWCutover: envInt("INDEX_HNSW_CUTOVER", tuning.Index.HNSWCutover),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Web: WebConfig{
			Host: envStr("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
	}
}

// envStr reads an environment variable, falling back to a default when unset.
func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
