package shared

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	type svc struct {
		Pipeline PipelineConfig
		PG       PostgresConfig
	}
	t.Setenv("WINDOW_SIZE", "120")
	t.Setenv("TICK_INTERVAL", "250ms")
	cfg, err := Load[svc]("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.WindowSize != 120 || cfg.Pipeline.TickInterval != 250*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MinTrades != 30 || cfg.PG.Table != "indicator_snapshots" {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Pipeline, cfg.PG)
	}
}

func TestPostgresURLEscapesCredentials(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: 5432, Database: "trading", User: "trader", Password: "p@ss/word"}
	want := "postgres://trader:p%40ss%2Fword@db:5432/trading"
	if got := c.URL(); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
