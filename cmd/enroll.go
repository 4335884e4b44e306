package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/enrollment"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <photo>...",
	Short: "Register a staff member from photo files",
	Long: `Register a staff member from live photo files on disk, the same way the
POST /api/v1/staff endpoint does. Each photo is checked and embedded in
order; registration succeeds when enough photos produce an embedding.

Examples:
  # Register from five photos and an ID document
  faceclock enroll --name "Jana Nováková" --document id.jpg p1.jpg p2.jpg p3.jpg p4.jpg p5.jpg

  # Show the per-photo diagnostics as JSON
  faceclock enroll --name "Jana Nováková" --json p*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Staff member name (required)")
	enrollCmd.Flags().String("document", "", "Path to the ID document photo")
	enrollCmd.Flags().Bool("json", false, "Output the registration result as JSON")
	_ = enrollCmd.MarkFlagRequired("name")
}

// enrollOutput is the JSON form of an enroll run.
type enrollOutput struct {
	StaffID string             `json:"staff_id,omitempty"`
	Name    string             `json:"name"`
	Result  *enrollment.Result `json:"result"`
	Error   string             `json:"error,omitempty"`
}

func readPhotos(paths []string) ([][]byte, error) {
	photos := make([][]byte, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // path is from CLI args
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		photos[i] = data
	}
	return photos, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(mustGetString(cmd, "name"))
	documentPath := mustGetString(cmd, "document")
	jsonOutput := mustGetBool(cmd, "json")

	if name == "" {
		return errors.New("--name must not be empty")
	}

	photos, err := readPhotos(args)
	if err != nil {
		return err
	}
	var document []byte
	if documentPath != "" {
		if document, err = os.ReadFile(documentPath); err != nil { //nolint:gosec // path is from CLI flag
			return fmt.Errorf("reading document: %w", err)
		}
	}

	ctx := context.Background()
	cfg := config.Load()

	pool, staffRepo, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	// The duplicate check searches the index, so load it first.
	initTemplateIndex(ctx, staffRepo, cfg.Database.HNSWIndexPath)
	applyThresholdProfile(cfg)

	proc, exec, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer exec.Close()

	verifier, err := newVerifier(ctx, cfg, proc)
	if err != nil {
		return err
	}
	builder := enrollment.NewBuilder(proc, cfg.Pipeline.Enrollment, verifier, verifier)

	res, enrollErr := builder.Enroll(ctx, enrollment.Request{Photos: photos, Document: document})
	if enrollErr != nil {
		if res != nil {
			if jsonOutput {
				_ = outputJSON(enrollOutput{Name: name, Result: res, Error: enrollErr.Error()})
			} else {
				printEnrollResult(res)
			}
		}
		return fmt.Errorf("registration failed: %w", enrollErr)
	}

	writer, err := database.GetStaffWriter(ctx)
	if err != nil {
		return fmt.Errorf("getting staff writer: %w", err)
	}
	staff, stored := res.Records(name)
	if err := writer.CreateStaff(ctx, staff, stored); err != nil {
		return fmt.Errorf("saving staff: %w", err)
	}
	saveTemplateIndex()

	if jsonOutput {
		return outputJSON(enrollOutput{StaffID: staff.ID, Name: name, Result: res})
	}

	printEnrollResult(res)
	fmt.Printf("\nRegistered %s as %s (%s)\n", name, staff.ID, res.Note)
	return nil
}

// printEnrollResult prints the per-photo diagnostics of a registration.
func printEnrollResult(res *enrollment.Result) {
	for _, o := range res.Outcomes {
		if o.OK {
			fmt.Printf("  photo %d: ok (det %.2f, quality %.2f)\n", o.Index+1, o.DetScore, o.Quality)
		} else {
			fmt.Printf("  photo %d: %s (%s)\n", o.Index+1, o.Code, o.Message)
		}
	}
	if res.Document != nil {
		if res.Document.OK {
			fmt.Printf("  document: ok (det %.2f)\n", res.Document.DetScore)
		} else {
			fmt.Printf("  document: %s (%s)\n", res.Document.Code, res.Document.Message)
		}
	}
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	fmt.Printf("  %s\n", res.Note)
}
