package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceclock/internal/calibration"
	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/database"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate similarity thresholds from enrolled staff",
	Long: `Score every genuine pair (two photos of the same person) and impostor pair
(photos of two different people) among the stored registration embeddings,
then report score statistics, the equal error rate and the FAR/FRR operating
points. Staff with fewer than two stored photos are skipped.

The recommended thresholds can be written to a YAML profile and loaded by
the server through THRESHOLD_PROFILE_PATH.

Examples:
  # Print the calibration report
  faceclock calibrate

  # Write a threshold profile
  faceclock calibrate --out profile.yaml

  # Machine-readable output
  faceclock calibrate --json`,
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)

	calibrateCmd.Flags().String("out", "", "Write the threshold profile to this YAML file")
	calibrateCmd.Flags().Int("workers", 0, "Number of parallel pair-scoring workers (0 = configured default)")
	calibrateCmd.Flags().Bool("json", false, "Output the profile as JSON")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	out := mustGetString(cmd, "out")
	workers := mustGetInt(cmd, "workers")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()

	pool, _, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	reader, err := database.GetStaffReader(ctx)
	if err != nil {
		return fmt.Errorf("getting staff reader: %w", err)
	}
	stored, err := reader.GetIdentityEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}

	identities := make([]calibration.Identity, len(stored))
	for i, s := range stored {
		identities[i] = calibration.Identity{ID: s.StaffID, Name: s.Name, Embeddings: s.Embeddings}
	}
	if !jsonOutput {
		fmt.Printf("Loaded embeddings for %d staff\n", len(identities))
	}

	calCfg := cfg.Pipeline.Calibration
	if workers > 0 {
		calCfg.Workers = workers
	}

	var progress func()
	bar := newProgressBar(calibration.Tasks(identities), "Scoring pairs", "staff", jsonOutput)
	if bar != nil {
		progress = func() { _ = bar.Add(1) }
	}

	profile, err := calibration.Calibrate(ctx, identities, calCfg, progress)
	if bar != nil {
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("calibration failed: %w", err)
	}

	if out != "" {
		if err := calibration.SaveProfile(out, profile); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(profile)
	}

	fmt.Println()
	if err := calibration.WriteReport(os.Stdout, profile); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if out != "" {
		fmt.Printf("\nProfile written to %s\n", out)
		if profile.Alarm {
			fmt.Println("The profile carries an alarm and will be ignored by the server until the data is fixed.")
		}
	}
	return nil
}
