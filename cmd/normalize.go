package cmd

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/embedding"
	"github.com/kozaktomas/faceclock/internal/enrollment"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Re-normalize stored embeddings and rebuild templates",
	Long: `Scan the stored registration embeddings of every staff member, rescale any
vector whose length is not 1 and rebuild the staff template from the
corrected vectors. Templates that are not unit length are rebuilt as well.
The template index is rebuilt afterwards.

Examples:
  # Report what would change
  faceclock normalize --dry-run

  # Apply the fixes
  faceclock normalize`,
	RunE: runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)

	normalizeCmd.Flags().Bool("dry-run", false, "Report changes without writing them")
	normalizeCmd.Flags().Bool("json", false, "Output the summary as JSON")
}

// normalizeSummary counts what a normalize run found and fixed.
type normalizeSummary struct {
	Staff            int  `json:"staff"`
	Embeddings       int  `json:"embeddings"`
	FixedEmbeddings  int  `json:"fixed_embeddings"`
	ZeroEmbeddings   int  `json:"zero_embeddings"`
	RebuiltTemplates int  `json:"rebuilt_templates"`
	UnusableStaff    int  `json:"unusable_staff"`
	DryRun           bool `json:"dry_run"`
}

func needsNormalizing(v []float32) bool {
	return math.Abs(embedding.Norm(v)-1) > constants.NormalizedTolerance
}

// normalizeStaff fixes the embeddings of one staff member and rebuilds the
// template when any embedding changed or the template itself is off.
func normalizeStaff(ctx context.Context, writer database.StaffWriter, s database.Staff, dryRun bool, sum *normalizeSummary) error {
	stored, err := writer.GetEmbeddings(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("loading embeddings of %s: %w", s.ID, err)
	}
	sum.Embeddings += len(stored)

	changed := false
	usable := stored[:0:0]
	for _, e := range stored {
		if !needsNormalizing(e.Embedding) {
			usable = append(usable, e)
			continue
		}
		vec, ok := embedding.L2Normalize(e.Embedding)
		if !ok {
			// A zero vector cannot be rescaled; leave it out of the template.
			sum.ZeroEmbeddings++
			changed = true
			continue
		}
		sum.FixedEmbeddings++
		changed = true
		if !dryRun {
			if err := writer.UpdateEmbedding(ctx, e.ID, vec); err != nil {
				return fmt.Errorf("updating embedding %d: %w", e.ID, err)
			}
		}
		e.Embedding = vec
		usable = append(usable, e)
	}

	if !changed && len(s.Template) > 0 && !needsNormalizing(s.Template) {
		return nil
	}
	if len(usable) == 0 {
		sum.UnusableStaff++
		return nil
	}

	tmpl, err := enrollment.RebuildTemplate(usable)
	if err != nil {
		return fmt.Errorf("rebuilding template of %s: %w", s.ID, err)
	}
	sum.RebuiltTemplates++
	if dryRun {
		return nil
	}
	if err := writer.UpdateTemplate(ctx, s.ID, tmpl.Vector, tmpl.Weights, tmpl.Norm); err != nil {
		return fmt.Errorf("updating template of %s: %w", s.ID, err)
	}
	return nil
}

func runNormalize(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()

	pool, staffRepo, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	writer, err := database.GetStaffWriter(ctx)
	if err != nil {
		return fmt.Errorf("getting staff writer: %w", err)
	}
	staff, err := writer.GetAllTemplates(ctx)
	if err != nil {
		return fmt.Errorf("loading staff: %w", err)
	}

	sum := normalizeSummary{Staff: len(staff), DryRun: dryRun}
	bar := newProgressBar(len(staff), "Normalizing embeddings", "staff", jsonOutput)
	for _, s := range staff {
		if err := normalizeStaff(ctx, writer, s, dryRun, &sum); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		fmt.Println()
	}

	// A changed template invalidates the cached index, so this rebuilds and saves it.
	if !dryRun && sum.RebuiltTemplates > 0 && cfg.Database.HNSWIndexPath != "" {
		if err := staffRepo.EnableIndex(ctx, cfg.Database.HNSWIndexPath); err != nil {
			return fmt.Errorf("rebuilding template index: %w", err)
		}
		if !jsonOutput {
			fmt.Printf("Template HNSW index rebuilt with %d staff\n", staffRepo.IndexCount())
		}
	}

	if jsonOutput {
		return outputJSON(sum)
	}

	fmt.Printf("Staff:              %d\n", sum.Staff)
	fmt.Printf("Embeddings:         %d\n", sum.Embeddings)
	fmt.Printf("Re-normalized:      %d\n", sum.FixedEmbeddings)
	fmt.Printf("Zero vectors:       %d\n", sum.ZeroEmbeddings)
	fmt.Printf("Templates rebuilt:  %d\n", sum.RebuiltTemplates)
	if sum.UnusableStaff > 0 {
		fmt.Printf("Staff without usable embeddings: %d\n", sum.UnusableStaff)
	}
	if dryRun {
		fmt.Println("\nDry run: nothing was written")
	}
	return nil
}
