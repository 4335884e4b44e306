package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/web/handlers"
)

// captureStdout returns everything fn writes to os.Stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read captured output: %v", err)
	}
	return string(out)
}

func TestApplyThresholdProfile_KeepsStdoutClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := "alarm: false\nrecommended:\n  daily: 0.66\n  enrollment: 0.71\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	cfg := config.Load()
	cfg.ProfilePath = path

	var source string
	out := captureStdout(t, func() { source = applyThresholdProfile(cfg) })

	if source != handlers.ThresholdSourceProfile {
		t.Errorf("expected source %q, got %q", handlers.ThresholdSourceProfile, source)
	}
	if out != "" {
		t.Errorf("expected nothing on stdout, got %q", out)
	}
	if cfg.Pipeline.Verification.DailyThreshold != 0.66 {
		t.Errorf("expected daily threshold 0.66, got %v", cfg.Pipeline.Verification.DailyThreshold)
	}
}

func TestApplyThresholdProfile_Missing(t *testing.T) {
	cfg := config.Load()
	cfg.ProfilePath = filepath.Join(t.TempDir(), "missing.yaml")

	if source := applyThresholdProfile(cfg); source != handlers.ThresholdSourceEmbedded {
		t.Errorf("expected source %q, got %q", handlers.ThresholdSourceEmbedded, source)
	}
	if cfg.Pipeline.Verification.DailyThreshold != 0.70 {
		t.Errorf("expected embedded daily threshold, got %v", cfg.Pipeline.Verification.DailyThreshold)
	}
}

func TestOpenDatabase_RequiresURL(t *testing.T) {
	cfg := config.Load()
	cfg.Database.URL = ""

	var err error
	out := captureStdout(t, func() { _, _, err = openDatabase(context.Background(), cfg) })
	if err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
	if out != "" {
		t.Errorf("expected nothing on stdout, got %q", out)
	}
}
