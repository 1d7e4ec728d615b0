package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/stagepass/internal/httpapi"
	"github.com/user/stagepass/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the event listing over HTTP and keep the cache warm",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "stagepass.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		cfg := a.cfg

		pidFile, err := writePIDFile(cfg.DataDir)
		if err != nil {
			return err
		}
		defer os.Remove(pidFile)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		refresh := func(ctx context.Context) error {
			list, err := a.listing.Refresh(ctx)
			if err != nil {
				return err
			}
			slog.Debug("listing refreshed", "events", len(list))
			return nil
		}

		// Warm the cache before accepting requests.
		if err := refresh(ctx); err != nil {
			slog.Warn("initial listing refresh failed", "error", err)
		}

		jobs := []scheduler.Job{{
			Name:     "refresh-events",
			Schedule: cfg.Listing.RefreshSchedule,
			Run:      refresh,
		}}
		if err := scheduler.Validate(jobs...); err != nil {
			return err
		}
		sched := scheduler.New(jobs...)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()

		slog.Info("stagepass started",
			"data_dir", cfg.DataDir,
			"registry", cfg.Chain.RegistryAddress,
			"refresh_schedule", cfg.Listing.RefreshSchedule,
			"cache_ttl", cfg.Cache.TTL.Std(),
			"redis", a.redis != nil,
			"pid_file", pidFile,
		)

		errCh := make(chan error, 1)
		if cfg.HTTP.Enabled {
			srv := httpapi.NewServer(a.listing, a.receipts, nil)
			go func() {
				errCh <- httpapi.ListenAndServe(ctx, cfg.HTTP.Listen, srv)
			}()
		} else {
			slog.Warn("http server disabled (http.enabled=false)")
		}

		// SIGHUP forces a refresh; SIGINT and SIGTERM cancel ctx via main.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-hup:
				slog.Info("received SIGHUP, refreshing listing")
				if err := refresh(ctx); err != nil {
					slog.Warn("listing refresh failed", "error", err)
				}
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
				slog.Info("shutting down")
				if cfg.HTTP.Enabled {
					if err := <-errCh; err != nil {
						slog.Error("http server shutdown", "error", err)
					}
				}
				return nil
			}
		}
	})
}
