package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faceclock",
	Short: "Face-verified staff clock-in and threshold calibration",
	Long: `FaceClock registers staff from live photos, verifies clock-in and
clock-out attempts against their face templates, and calibrates the
similarity thresholds from the enrolled population.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
