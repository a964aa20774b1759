package config

import "testing"

const testErrLoad = "Load() error = %v"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if cfg.AppEnv != "local" {
		t.Errorf("AppEnv default = %q, want %q", cfg.AppEnv, "local")
	}

	if cfg.DataDir != "./data" {
		t.Errorf("DataDir default = %q, want %q", cfg.DataDir, "./data")
	}

	if cfg.RPCPort != 7777 {
		t.Errorf("RPCPort default = %d, want %d", cfg.RPCPort, 7777)
	}

	if cfg.HealthPort != 8080 {
		t.Errorf("HealthPort default = %d, want %d", cfg.HealthPort, 8080)
	}

	if cfg.CrawlDepth != 2 {
		t.Errorf("CrawlDepth default = %d, want %d", cfg.CrawlDepth, 2)
	}

	if cfg.CrawlBatchSize != 10 {
		t.Errorf("CrawlBatchSize default = %d, want %d", cfg.CrawlBatchSize, 10)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SPYGLASS_DATA_DIR", "/tmp/spyglass-test")
	t.Setenv("SPYGLASS_RPC_PORT", "9999")
	t.Setenv("CRAWL_DEPTH", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if cfg.DataDir != "/tmp/spyglass-test" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/tmp/spyglass-test")
	}

	if cfg.RPCPort != 9999 {
		t.Errorf("RPCPort = %d, want %d", cfg.RPCPort, 9999)
	}

	if cfg.CrawlDepth != 5 {
		t.Errorf("CrawlDepth = %d, want %d", cfg.CrawlDepth, 5)
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Setenv("SPYGLASS_DATA_DIR", "/data/spyglass")

	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if cfg.DBPath() != "/data/spyglass/spyglass.db" {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}

	if cfg.IndexDir() != "/data/spyglass/index" {
		t.Errorf("IndexDir() = %q", cfg.IndexDir())
	}

	if cfg.LensesDir() != "/data/spyglass/lenses" {
		t.Errorf("LensesDir() = %q", cfg.LensesDir())
	}
}
