package calibration

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// WriteReport prints a human-readable summary of p.
func WriteReport(w io.Writer, p *Profile) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Identities:\t%d (%d skipped, fewer than 2 embeddings)\n", p.Identities, p.Skipped)
	fmt.Fprintf(tw, "Pairs:\t%d genuine, %d impostor\n", p.Genuine.Count, p.Impostor.Count)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "\tMEAN\tSTD\tMIN\tMEDIAN\tMAX")
	for _, row := range []struct {
		name string
		s    Stats
	}{{"genuine", p.Genuine}, {"impostor", p.Impostor}} {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n", row.name, row.s.Mean, row.s.Std, row.s.Min, row.s.Median, row.s.Max)
	}
	fmt.Fprintf(tw, "Separation:\t%.4f\n", p.Separation)
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "EER:\t%.2f%% at threshold %.4f (FAR %.2f%%, FRR %.2f%%)\n",
		p.EER.Rate*100, p.EER.Threshold, p.EER.FAR*100, p.EER.FRR*100)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "TARGET FAR\tTHRESHOLD\tFAR\tFRR")
	for _, e := range p.FARMenu {
		fmt.Fprintf(tw, "%.1f%%\t%.4f\t%.2f%%\t%.2f%%\n", e.Target*100, e.Threshold, e.FAR*100, e.FRR*100)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "TARGET FRR\tTHRESHOLD\tFAR\tFRR")
	for _, e := range p.FRRMenu {
		fmt.Fprintf(tw, "%.1f%%\t%.4f\t%.2f%%\t%.2f%%\n", e.Target*100, e.Threshold, e.FAR*100, e.FRR*100)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Recommended daily:\t%.4f\n", p.Recommended.Daily)
	fmt.Fprintf(tw, "Recommended enrollment:\t%.4f\n", p.Recommended.Enrollment)
	fmt.Fprintf(tw, "Balanced:\t%.4f\n", p.Recommended.Balanced)

	if p.Alarm {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "ALARM: impostor pairs score higher than genuine pairs, do not deploy these thresholds")
	}
	for _, warn := range p.Warnings {
		fmt.Fprintf(tw, "WARNING: %s\n", warn)
	}
	return tw.Flush()
}

// WriteProfile encodes p as YAML. The output is readable by
// config.LoadThresholdProfile.
func WriteProfile(w io.Writer, p *Profile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return enc.Close()
}

// SaveProfile writes p to path.
func SaveProfile(path string, p *Profile) error {
	f, err := os.Create(path) //nolint:gosec // path is from CLI flag
	if err != nil {
		return fmt.Errorf("creating profile file: %w", err)
	}
	if err := WriteProfile(f, p); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
