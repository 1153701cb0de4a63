package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"harvester/internal/config"
	"harvester/internal/jobs"
	"harvester/internal/metrics"
	"harvester/internal/runguard"
	"harvester/internal/source"
	"harvester/internal/store"
)

func buildForTest(t *testing.T, cfg config.Config) error {
	t.Helper()
	dir := t.TempDir()
	runs := runguard.New()
	_, err := buildOrchestrator(
		cfg,
		source.NewFileRepository(dir, nil),
		runs,
		store.NewFileStore(dir),
		jobs.NewFileRegistry(dir),
		metrics.New("harvester", prometheus.NewRegistry(), runs),
	)
	return err
}

func TestBuildOrchestratorRejectsUnknownTimezone(t *testing.T) {
	cfg := config.Default()
	cfg.Timezone = "Mars/Olympus_Mons"
	if err := buildForTest(t, cfg); err == nil {
		t.Fatalf("expected an error for an unknown timezone")
	}
}

func TestBuildOrchestrator(t *testing.T) {
	cfg := config.Default()
	cfg.Timezone = "Europe/Copenhagen"
	if err := buildForTest(t, cfg); err != nil {
		t.Fatalf("build: %v", err)
	}
}
