package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/database/postgres"
	"github.com/kozaktomas/faceclock/internal/inference"
	"github.com/kozaktomas/faceclock/internal/pipeline"
	"github.com/kozaktomas/faceclock/internal/verify"
	"github.com/kozaktomas/faceclock/internal/web/handlers"
)

// openDatabase connects to PostgreSQL, applies migrations and registers the repositories.
func openDatabase(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.StaffRepository, error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	log.Println("Connecting to PostgreSQL database...")
	pool, err := postgres.Initialize(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return pool, postgres.RegisterBackends(pool), nil
}

// initTemplateIndex builds or loads the template HNSW index used for identification.
// Status goes to the log so stdout stays clean for --json output.
func initTemplateIndex(ctx context.Context, staffRepo *postgres.StaffRepository, indexPath string) {
	if indexPath != "" {
		log.Printf("Loading template HNSW index from %s...", indexPath)
	} else {
		log.Printf("Building in-memory HNSW index for staff templates...")
	}
	if err := staffRepo.EnableIndex(ctx, indexPath); err != nil {
		log.Printf("WARNING: Failed to build template HNSW index: %v", err)
		log.Printf("Identification will use PostgreSQL queries (slower)")
	} else if indexPath != "" {
		log.Printf("Template HNSW index ready with %d staff (persisted to %s)", staffRepo.IndexCount(), indexPath)
	} else {
		log.Printf("Template HNSW index built with %d staff (in-memory only)", staffRepo.IndexCount())
	}
}

// saveTemplateIndex saves the template index to disk during shutdown.
func saveTemplateIndex() {
	rebuilder := database.GetIndexRebuilder()
	if rebuilder == nil {
		return
	}
	if err := rebuilder.SaveIndex(); err != nil {
		log.Printf("WARNING: failed to save template HNSW index: %v", err)
	} else {
		log.Println("Template HNSW index saved to disk")
	}
}

// newPipeline wires the face pipeline to the inference server through a
// single-flight executor. Callers must Close the executor.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, *inference.Executor, error) {
	engine := inference.NewHTTPEngine(cfg.Inference.URL, cfg.Inference.Timeout)
	exec := inference.NewExecutor(engine, cfg.Inference.QueueSize, cfg.Inference.QueueTimeout)

	p, err := pipeline.New(cfg.Pipeline, exec)
	if err != nil {
		exec.Close()
		return nil, nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return p, exec, nil
}

// applyThresholdProfile overlays calibrated thresholds when a profile is
// configured and reports where the active thresholds came from.
func applyThresholdProfile(cfg *config.Config) string {
	if cfg.ProfilePath == "" {
		return handlers.ThresholdSourceEmbedded
	}

	profile, err := config.LoadThresholdProfile(cfg.ProfilePath)
	if err != nil {
		log.Printf("WARNING: threshold profile %s not loaded: %v", cfg.ProfilePath, err)
		return handlers.ThresholdSourceEmbedded
	}
	if !cfg.Pipeline.Verification.ApplyProfile(profile) {
		log.Printf("WARNING: threshold profile %s ignored (alarm set or values out of range)", cfg.ProfilePath)
		return handlers.ThresholdSourceEmbedded
	}

	v := cfg.Pipeline.Verification
	log.Printf("Using calibrated thresholds from %s (daily %.3f, enrollment %.3f)",
		cfg.ProfilePath, v.DailyThreshold, v.EnrollmentThreshold)
	return handlers.ThresholdSourceProfile
}

// newVerifier builds a verifier on the registered PostgreSQL repositories.
func newVerifier(ctx context.Context, cfg *config.Config, proc verify.FrameProcessor) (*verify.Verifier, error) {
	staff, err := database.GetStaffReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting staff reader: %w", err)
	}
	searcher, err := database.GetTemplateSearcher(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting template searcher: %w", err)
	}
	events, err := database.GetClockEventWriter(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting clock event writer: %w", err)
	}
	devices, err := database.GetDeviceQualityStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting device quality store: %w", err)
	}

	tracker := verify.NewDeviceTracker(devices, cfg.Pipeline.Device)
	return verify.NewVerifier(proc, staff, searcher, events, tracker, cfg.Pipeline), nil
}

// newProgressBar creates a progress bar, or nil if JSON output.
func newProgressBar(count int, description, unit string, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

// outputJSON writes data as indented JSON to stdout.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
