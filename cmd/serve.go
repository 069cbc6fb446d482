package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/engine"
	"github.com/photoevent/facematch/internal/store/postgres"
	"github.com/photoevent/facematch/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the facematch web server.
The server exposes organizer endpoints for uploading event photos and a
public endpoint where guests submit a selfie to find their photos.

Without DATABASE_URL the indexes live in memory only and are lost on
restart. With DATABASE_URL set, descriptors are persisted to PostgreSQL
and reloaded on startup.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// initEngine builds the matching engine from configuration, wiring up
// PostgreSQL persistence and a warm start when DATABASE_URL is set.
// The returned cleanup function closes the database pool.
func initEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	if cfg.Database.URL == "" {
		fmt.Println("DATABASE_URL not set, running with in-memory indexes only")
		return engine.New(cfg, nil), func() {}, nil
	}

	fmt.Println("Connecting to PostgreSQL database...")
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	cleanup := func() {
		if err := pool.Close(); err != nil {
			fmt.Printf("Warning: failed to close database pool: %v\n", err)
		}
	}

	if err := pool.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := postgres.NewDescriptorStore(pool)
	e := engine.New(cfg, store)

	fmt.Println("Restoring event indexes from PostgreSQL...")
	if err := e.Restore(ctx, store); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to restore event indexes: %w", err)
	}
	for _, eventID := range e.Registry().EventIDs() {
		ix, _ := e.Registry().Get(eventID)
		fmt.Printf("  event %s: %d photos, %d face descriptors\n", eventID, ix.Len(), ix.DescriptorCount())
	}

	return e, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if port := mustGetInt(cmd, "port"); cmd.Flags().Changed("port") {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); cmd.Flags().Changed("host") {
		cfg.Web.Host = host
	}

	ctx := context.Background()
	e, cleanup, err := initEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	server := web.NewServer(cfg, e)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting facematch server on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
