package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FORMULA_CONFIG", "")
	t.Setenv("FORMULA_BLOCKS", "")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.FormulaFile != "formulas.txt" || c.HTTPAddr != ":9090" || c.MaxRetries != 1<<20 || c.MaxDepth != 64 {
		t.Errorf("defaults = %+v", c)
	}
	if c.Blocks != nil {
		t.Errorf("blocks = %v, want none", c.Blocks)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FORMULA_CONFIG", "")
	t.Setenv("FORMULA_BLOCKS", "Signal, Exit ,")
	t.Setenv("CANDLE_STREAMS", "candle:60s:NSE:1")
	t.Setenv("FORMULA_FOLD_CASE", "true")
	t.Setenv("FORMULA_MAX_RETRIES", "nope")
	t.Setenv("FORMULA_RELOAD_DEBOUNCE", "1s")
	t.Setenv("FORMULA_MAX_DEPTH", "8")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(c.Blocks, []string{"Signal", "Exit"}) {
		t.Errorf("blocks = %q", c.Blocks)
	}
	if !reflect.DeepEqual(c.Streams, []string{"candle:60s:NSE:1"}) {
		t.Errorf("streams = %q", c.Streams)
	}
	if !c.FoldCase || c.MaxRetries != 1<<20 || c.MaxDepth != 8 || c.ReloadDebounce != time.Second {
		t.Errorf("config = %+v", c)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formulad.yaml")
	yml := "formula_file: /etc/formulas.txt\nblocks: [Signal]\ncolumns: [\"sma 20\", \"rsi 14\"]\nsql_driver: sqlite3\nreload_debounce: 500ms\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORMULA_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":8080")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.FormulaFile != "/etc/formulas.txt" || c.SQLDriver != "sqlite3" || c.ReloadDebounce != 500*time.Millisecond {
		t.Errorf("overlay not applied: %+v", c)
	}
	if !reflect.DeepEqual(c.Columns, []string{"sma 20", "rsi 14"}) {
		t.Errorf("columns = %q", c.Columns)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("env value lost: %q", c.HTTPAddr)
	}
}

func TestLoadBadOverlay(t *testing.T) {
	t.Setenv("FORMULA_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing overlay")
	}
}
