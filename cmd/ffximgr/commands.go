package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	ffximanager "github.com/atperry7/ffxi-manager-sub000"
)

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:           "ffximgr",
		Short:         "Window monitoring and hotkey activation for multi-boxed game clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "config.toml", "path to TOML config")
	root.PersistentFlags().StringVar(&gf.APIUrl, "api", "http://127.0.0.1:8391", "diagnostics API base URL")
	root.PersistentFlags().DurationVar(&gf.APITimeout, "api-timeout", 10*time.Second, "diagnostics API timeout")

	root.AddCommand(
		newServeCmd(gf),
		newStatusCmd(gf),
		newOrderCmd(gf),
		newHistoryCmd(gf),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the manager in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ffximanager.LoadConfig(gf.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var logCfg ffximanager.LogConfig
			if cfg.Log != nil {
				logCfg = ffximanager.LogConfig{
					Level:      cfg.Log.Level,
					Dir:        cfg.Log.Dir,
					MaxSizeMB:  cfg.Log.MaxSizeMB,
					MaxBackups: cfg.Log.MaxBackups,
					MaxAgeDays: cfg.Log.MaxAgeDays,
					Compress:   cfg.Log.Compress,
					NoColor:    cfg.Log.NoColor,
				}
			}
			flush := ffximanager.SetupLogging(logCfg)
			defer func() { _ = flush() }()

			opts, cleanup, err := ffximanager.NativeOptions(cfg)
			if err != nil {
				return fmt.Errorf("native setup: %w", err)
			}
			defer cleanup()

			mgr, err := ffximanager.New(opts)
			if err != nil {
				return err
			}
			if err := mgr.Start(context.Background()); err != nil {
				return err
			}
			defer mgr.Stop()

			stopWatch, err := ffximanager.WatchConfig(gf.ConfigPath, func(fc *ffximanager.Config) {
				if rerr := mgr.Reload(fc); rerr != nil {
					slog.Warn("reload rejected", "err", rerr)
				}
			})
			if err != nil {
				slog.Warn("config watch unavailable", "err", err)
			} else {
				defer stopWatch()
			}

			slog.Info("manager running", "config", gf.ConfigPath)
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			slog.Info("shutting down", "signal", s.String())
			return nil
		},
	}
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(gf.APIUrl, gf.APITimeout)
			st, err := c.GetStatus()
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
}

func newOrderCmd(gf *GlobalFlags) *cobra.Command {
	var pid int32
	var slot int
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Show or change the entity order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(gf.APIUrl, gf.APITimeout)
			if cmd.Flags().Changed("pid") {
				if err := c.MoveSlot(pid, slot); err != nil {
					return err
				}
			}
			entities, err := c.GetOrder()
			if err != nil {
				return err
			}
			printJSON(entities)
			return nil
		},
	}
	cmd.Flags().Int32Var(&pid, "pid", 0, "pid to move")
	cmd.Flags().IntVar(&slot, "slot", 0, "target slot for --pid")
	return cmd
}

func newHistoryCmd(gf *GlobalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent activations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(gf.APIUrl, gf.APITimeout)
			recs, err := c.GetHistory(limit)
			if err != nil {
				return err
			}
			printJSON(recs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of records")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
