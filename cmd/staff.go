package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/database"
)

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "List enrolled staff",
	Long:  `List enrolled staff. Use subcommands to inspect clock events.`,
	RunE:  runStaffList,
}

var staffEventsCmd = &cobra.Command{
	Use:   "events <staff-id>",
	Short: "Show recent clock events of a staff member",
	Long: `Show the newest clock attempts of a staff member, matched or not.

Example:
  faceclock staff events 0b9c6a1e-5f0e-4d0a-9a43-3c2f0c7f1d2e --limit 20`,
	Args: cobra.ExactArgs(1),
	RunE: runStaffEvents,
}

func init() {
	rootCmd.AddCommand(staffCmd)
	staffCmd.AddCommand(staffEventsCmd)

	// List flags
	staffCmd.Flags().Int("limit", constants.DefaultHandlerPageSize, "Maximum number of staff to list")
	staffCmd.Flags().Int("offset", 0, "Number of staff to skip")
	staffCmd.Flags().String("query", "", "Search by name (case and diacritics insensitive)")
	staffCmd.Flags().Bool("json", false, "Output as JSON")

	// Events flags
	staffEventsCmd.Flags().Int("limit", constants.DefaultClockEventLimit, "Maximum number of events to show")
	staffEventsCmd.Flags().Bool("json", false, "Output as JSON")
}

// staffListItem is the JSON form of a listed staff member.
type staffListItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasTemplate bool   `json:"has_template"`
	HasDocument bool   `json:"has_document"`
	Note        string `json:"registration_note"`
	CreatedAt   string `json:"created_at"`
}

func runStaffList(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	offset := mustGetInt(cmd, "offset")
	query := mustGetString(cmd, "query")
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

	var staff []database.Staff
	if query != "" {
		staff, err = reader.FindStaffByName(ctx, query)
	} else {
		staff, err = reader.ListStaff(ctx, limit, offset)
	}
	if err != nil {
		return fmt.Errorf("failed to list staff: %w", err)
	}

	if jsonOutput {
		items := make([]staffListItem, len(staff))
		for i, s := range staff {
			items[i] = staffListItem{
				ID:          s.ID,
				Name:        s.Name,
				HasTemplate: len(s.Template) > 0,
				HasDocument: len(s.DocumentEmbedding) > 0,
				Note:        s.RegistrationNote,
				CreatedAt:   s.CreatedAt.Format(time.RFC3339),
			}
		}
		return outputJSON(items)
	}

	if len(staff) == 0 {
		fmt.Println("No staff found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREGISTRATION\tDOCUMENT\tCREATED")
	fmt.Fprintln(w, "--\t----\t------------\t--------\t-------")

	for _, s := range staff {
		doc := ""
		if len(s.DocumentEmbedding) > 0 {
			doc = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.RegistrationNote, doc, s.CreatedAt.Format("2006-01-02"))
	}

	w.Flush()

	fmt.Printf("\nTotal: %d staff\n", len(staff))

	return nil
}

func runStaffEvents(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")
	staffID := args[0]

	ctx := context.Background()
	cfg := config.Load()

	pool, _, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	events, err := database.GetClockEventWriter(ctx)
	if err != nil {
		return fmt.Errorf("getting clock event store: %w", err)
	}
	list, err := events.ListClockEvents(ctx, staffID, limit)
	if err != nil {
		return fmt.Errorf("failed to list clock events: %w", err)
	}

	if jsonOutput {
		return outputJSON(list)
	}

	if len(list) == 0 {
		fmt.Println("No clock events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tMATCHED\tSIMILARITY\tTHRESHOLD\tCONFIDENCE\tRISK")
	fmt.Fprintln(w, "----\t----\t-------\t----------\t---------\t----------\t----")

	for _, e := range list {
		matched := "no"
		if e.Matched {
			matched = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.3f\t%.2f\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.ClockType, matched,
			e.Similarity, e.Threshold, e.Confidence, e.RiskLevel)
	}

	w.Flush()

	fmt.Printf("\nTotal: %d events\n", len(list))

	return nil
}
