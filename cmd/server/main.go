package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/config"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/server"
)

const shutdownTimeout = 10 * time.Second

// flags override the environment configuration when set
type flags struct {
	port   string
	engine string
	store  string
	dev    bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "prison",
		Short:         "Virtual app registry service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), &f)
		},
	}

	cmd.PersistentFlags().StringVar(&f.port, "port", "", "Server port (overrides PORT)")
	cmd.PersistentFlags().StringVar(&f.engine, "engine", "", "Engine address (overrides ENGINE_ADDR)")
	cmd.PersistentFlags().StringVar(&f.store, "store", "", "Store driver: sqlite, redis or memory")
	cmd.PersistentFlags().BoolVar(&f.dev, "dev", false, "Development mode with debug logging")

	cmd.AddCommand(serveCmd(&f), pruneCmd(&f), refreshCmd(&f))
	return cmd
}

func serveCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f)
		},
	}
}

func pruneCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete secondary profiles that have no apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := build(f)
			if err != nil {
				return err
			}
			defer srv.Close()

			deleted := srv.Registry().Prune(cmd.Context())
			return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": deleted})
		},
	}
}

func refreshCmd(f *flags) *cobra.Command {
	var (
		profile int
		host    bool
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Load one profile's app list and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile < 0 {
				return fmt.Errorf("invalid profile %d", profile)
			}
			srv, err := build(f)
			if err != nil {
				return err
			}
			defer srv.Close()

			reg := srv.Registry()
			if host {
				reg.RefreshHostCache(cmd.Context())
				return printJSON(cmd.OutOrStdout(), map[string]any{"apps": reg.HostApps(cmd.Context(), profile)})
			}
			return printJSON(cmd.OutOrStdout(), reg.Refresh(cmd.Context(), profile))
		},
	}

	cmd.Flags().IntVar(&profile, "profile", 0, "Profile id")
	cmd.Flags().BoolVar(&host, "host", false, "List host archives with their install state instead")
	return cmd
}

func serve(ctx context.Context, f *flags) error {
	srv, err := build(f)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func build(f *flags) (*server.Server, error) {
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault().Warn("Falling back to default configuration", zap.Error(err))
		cfg = config.Default()
	}
	if f.port != "" {
		cfg.Server.Port = f.port
	}
	if f.engine != "" {
		cfg.Engine.Address = f.engine
	}
	if f.store != "" {
		cfg.Store.Driver = f.store
	}
	if f.dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	return server.NewServer(cfg)
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
