package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.GeoStrategy != "dynamic" || cfg.Search.GeoStrategyValue != 1000 {
		t.Errorf("unexpected geo defaults: %+v", cfg.Search)
	}
	if cfg.Search.MinWordLenOneTypo != 5 || cfg.Search.MinWordLenTwoTypo != 9 {
		t.Errorf("unexpected typo defaults: %+v", cfg.Search)
	}
	if cfg.Indexer.PrimaryKey != "id" || cfg.Indexer.FlushBatchSize != 1000 {
		t.Errorf("unexpected indexer defaults: %+v", cfg.Indexer)
	}
	if cfg.Kafka.Topics.Documents != "documents" {
		t.Errorf("documents topic = %q", cfg.Kafka.Topics.Documents)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
index:
  path: /var/lib/bucketsearch/movies.db
search:
  defaultLimit: 10
  maxResults: 50
  timeout: 500ms
  geoStrategy: rtree
  geoStrategyValue: 64
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("SP_SEARCH_GEO_STRATEGY", "ITERATIVE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Index.Path != "/var/lib/bucketsearch/movies.db" {
		t.Errorf("index path = %q", cfg.Index.Path)
	}
	if cfg.Search.Timeout != 500*time.Millisecond {
		t.Errorf("timeout = %v", cfg.Search.Timeout)
	}
	if cfg.Search.GeoStrategy != "iterative" || cfg.Search.GeoStrategyValue != 64 {
		t.Errorf("geo strategy = %q/%d", cfg.Search.GeoStrategy, cfg.Search.GeoStrategyValue)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("unset fields must keep defaults, port = %d", cfg.Server.Port)
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Search.GeoStrategy = "quadtree"
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected an error for an unknown geo strategy")
	}

	cfg = defaultConfig()
	cfg.Search.MaxResults = 1
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected an error when maxResults < defaultLimit")
	}
}
