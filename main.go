package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"minmatar-fleet/internal/api"
	"minmatar-fleet/internal/config"
	"minmatar-fleet/internal/db"
	"minmatar-fleet/internal/esi"
	"minmatar-fleet/internal/industry"
	"minmatar-fleet/internal/logger"
	"minmatar-fleet/internal/sde"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "minmatar",
		Short:        "Minmatar Fleet industry planner",
		Long:         `Material breakdowns, industry products and build orders for EVE Online industry.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config (default ./minmatar.toml if present)")

	root.AddCommand(
		newServeCommand(&configPath),
		newBreakdownCommand(&configPath),
		newMigrateCommand(&configPath),
	)
	return root
}

// loadConfig reads configuration and initialises the process logger from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}

func newESIClient(cfg *config.Config) *esi.Client {
	return esi.NewClient(esi.Options{
		BaseURL:           cfg.ESI.BaseURL,
		RequestsPerSecond: cfg.ESI.RequestsPerSecond,
		Burst:             cfg.ESI.Burst,
		Timeout:           cfg.ESI.Timeout(),
	})
}

func newServeCommand(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			logger.Banner(version)

			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.Close()

			srv := api.NewServer(cfg, database, newESIClient(cfg))

			// Load SDE in background; industry routes answer 503 until it is ready.
			go func() {
				data, err := sde.Load(cfg.DataDir(), cfg.SDE.Download)
				if err != nil {
					logger.Error("SDE", fmt.Sprintf("Load failed: %v", err))
					return
				}
				srv.SetSDE(data)
				logger.Success("SDE", "Breakdown engine ready")
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Server(addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Server", "Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	return cmd
}

func newBreakdownCommand(configPath *string) *cobra.Command {
	var (
		quantity int64
		maxDepth int
		flat     bool
	)

	cmd := &cobra.Command{
		Use:   "breakdown <typeID>",
		Short: "Print the material breakdown of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeID, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil || typeID <= 0 {
				return fmt.Errorf("invalid type ID %q", args[0])
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.Close()

			data, err := sde.Load(cfg.DataDir(), cfg.SDE.Download)
			if err != nil {
				return fmt.Errorf("load SDE: %w", err)
			}

			svc := industry.NewService(industry.Deps{
				SDE:           data,
				Types:         database,
				ESI:           newESIClient(cfg),
				Products:      database,
				DepthCeiling:  cfg.Industry.DepthCeiling,
				TypeCacheSize: cfg.Industry.TypeCacheSize,
				TypeCacheTTL:  cfg.Industry.TypeCacheTTL(),
			})
			tree, err := svc.GetBreakdownForIndustryProduct(cmd.Context(), int32(typeID), quantity, maxDepth, false)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flat {
				materials, err := industry.FlattenSorted(tree)
				if err != nil {
					return err
				}
				fmt.Fprint(out, industry.FormatMaterials(materials))
				return nil
			}
			fmt.Fprint(out, industry.FormatTree(tree))
			return nil
		},
	}
	cmd.Flags().Int64VarP(&quantity, "quantity", "q", 1, "units to build")
	cmd.Flags().IntVar(&maxDepth, "max-depth", industry.NoDepthLimit, "levels to expand (-1 for all)")
	cmd.Flags().BoolVar(&flat, "flat", false, "print summed raw materials instead of the tree")
	return cmd
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.Close()

			v, err := database.SchemaVersion()
			if err != nil {
				return err
			}
			logger.Success("DB", fmt.Sprintf("Schema at version %d", v))
			return nil
		},
	}
}
