package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/enrollment"
	"github.com/kozaktomas/faceclock/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the FaceClock API server.
The server accepts capture previews, staff registrations and clock-in/out
attempts from kiosk and mobile clients.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port, host and allowed origins from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host, os.Getenv("WEB_ALLOWED_ORIGINS")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, staffRepo, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	initTemplateIndex(ctx, staffRepo, cfg.Database.HNSWIndexPath)
	source := applyThresholdProfile(cfg)

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

	port, host, origins := resolveServeHostPort(cmd)
	server := web.NewServer(web.Services{
		Previewer:       proc,
		Enroller:        builder,
		Clocker:         verifier,
		Thresholds:      verifier.Thresholds(),
		ThresholdSource: source,
		DeviceKey:       cfg.DeviceKey,
		AllowedOrigins:  origins,
	}, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveTemplateIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting FaceClock API on http://%s:%d/api/v1\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
