// Package cmd implements the planstore CLI: the serve command running the
// persistence core with its admin surface, plus operational commands for
// storage mode control and credential management.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"planstore/internal/config"
	"planstore/internal/credentials"
	"planstore/internal/monitoring"
	"planstore/internal/server"
	"planstore/internal/utils"
	"planstore/service"
	"planstore/storage"
	"planstore/storage/dualwrite"
	"planstore/storage/postgres"
	"planstore/storage/sqlitekv"
	"planstore/storage/transition"
)

// Version is set at build time
var Version = "dev"

// Options holds CLI overrides, injectable for tests.
type Options struct {
	ConfigPath string
	Verbose    bool
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, opts *Options) int {
	rootCmd := NewPlanstore(stdout, stderr, opts)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// NewPlanstore creates the root command with injectable IO
func NewPlanstore(stdout, stderr io.Writer, opts *Options) *cobra.Command {
	if opts == nil {
		opts = &Options{}
	}

	cmd := &cobra.Command{
		Use:     "planstore",
		Short:   "Persistence and sync core for the planning app",
		Long:    "planstore runs the storage core: local/remote/dual-write adapters, the mode transition controller and the admin control surface.",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose || opts.Verbose {
				utils.SetVerboseMode(true)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "path to config file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	cmd.AddCommand(newServeCmd(stdout, opts))
	cmd.AddCommand(newModeCmd(stdout, opts))
	cmd.AddCommand(newCredentialsCmd(stdout, opts))
	cmd.AddCommand(newCleanupCmd(stdout, opts))

	return cmd
}

// stack is the assembled persistence core.
type stack struct {
	cfg     *config.Config
	manager *storage.Manager
	ctrl    *transition.Controller
	monitor *monitoring.Service

	tasks    *service.TaskService
	calendar *service.CalendarService
	logs     *service.ActivityLogService
	sections *service.TodoSectionService

	local  storage.Adapter
	remote storage.Adapter
}

// buildStack loads configuration, opens the adapters and wires the
// services together.
func buildStack(opts *Options) (*stack, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logging.Verbose {
		utils.SetVerboseMode(true)
	}

	local, err := sqlitekv.New(cfg.Storage.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	var remote storage.Adapter
	if cfg.Storage.Remote.Enabled {
		creds := credentials.NewManager()
		dsn, source := creds.RemoteDSN(cfg.Storage.Remote.DSN)
		if dsn == "" {
			_ = local.Close()
			return nil, fmt.Errorf("remote enabled but no DSN found (config, keyring or %s)", credentials.EnvRemoteDSN)
		}
		utils.Debugf("remote DSN resolved from %s", source)

		remote, err = postgres.New(dsn)
		if err != nil {
			_ = local.Close()
			return nil, fmt.Errorf("open remote store: %w", err)
		}
	}

	manager := storage.NewManager(local)
	ctrl, err := transition.New(manager, local, remote, transition.Mode(cfg.Storage.Mode), dualwrite.Config{
		SyncInterval: cfg.SyncInterval(),
		MaxRetries:   cfg.Storage.Sync.MaxRetries,
		MaxQueueSize: cfg.Storage.Sync.MaxQueueSize,
	})
	if err != nil {
		_ = local.Close()
		if remote != nil {
			_ = remote.Close()
		}
		return nil, err
	}

	deviceID := cfg.Device.ID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	rt := service.Runtime{DeviceID: deviceID}

	logs := service.NewActivityLogService(manager, rt, nil)
	return &stack{
		cfg:      cfg,
		manager:  manager,
		ctrl:     ctrl,
		monitor:  monitoring.New(ctrl),
		tasks:    service.NewTaskService(manager, rt, logs),
		calendar: service.NewCalendarService(manager, rt, logs),
		logs:     logs,
		sections: service.NewTodoSectionService(manager, rt),
		local:    local,
		remote:   remote,
	}, nil
}

// close releases the adapters.
func (s *stack) close() {
	if dual := s.ctrl.DualWrite(); dual != nil {
		dual.Stop()
	}
	_ = s.local.Close()
	if s.remote != nil {
		_ = s.remote.Close()
	}
}

func newServeCmd(stdout io.Writer, opts *Options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storage core and its admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(opts)
			if err != nil {
				return err
			}
			defer st.close()

			addr := st.cfg.Server.Listen
			if listen != "" {
				addr = listen
			}

			mode, _ := st.ctrl.CurrentMode()
			_, _ = fmt.Fprintf(stdout, "planstore serving on %s (mode: %s)\n", addr, mode)
			return server.New(st.ctrl, st.monitor).Run(addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func newModeCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Inspect and change the storage mode",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current storage mode and sync health",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(opts)
			if err != nil {
				return err
			}
			defer st.close()

			mode, details := st.ctrl.CurrentMode()
			return printJSON(stdout, map[string]any{
				"mode":    mode,
				"details": details,
				"health":  st.monitor.Summary(),
			})
		},
	})

	var reason string
	rollback := &cobra.Command{
		Use:   "rollback [dualwrite|localStorage]",
		Short: "Roll the storage mode back",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := string(transition.ModeDualWrite)
			if len(args) == 1 {
				target = args[0]
			}

			st, err := buildStack(opts)
			if err != nil {
				return err
			}
			defer st.close()

			var result transition.Result
			switch target {
			case string(transition.ModeDualWrite):
				utils.Infof("rolling back to dual-write, reason: %s", reason)
				result = st.ctrl.RollbackToDualWrite(context.Background())
			case string(transition.ModeLocalOnly):
				utils.Warnf("emergency fallback to local-only, reason: %s", reason)
				result = st.ctrl.EmergencyFallbackToLocal(context.Background())
			default:
				return fmt.Errorf("invalid rollback mode %q (valid: dualwrite, localStorage)", target)
			}

			if err := printJSON(stdout, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("rollback failed: %s", result.Message)
			}
			return nil
		},
	}
	rollback.Flags().StringVar(&reason, "reason", "Manual rollback", "reason recorded in the log")
	cmd.AddCommand(rollback)

	return cmd
}

func newCredentialsCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the remote database credential",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set-dsn <dsn>",
		Short: "Store the remote connection string in the system keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credentials.NewManager().StoreRemoteDSN(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "remote DSN stored in keyring")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete-dsn",
		Short: "Remove the remote connection string from the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credentials.NewManager().DeleteRemoteDSN(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "remote DSN removed from keyring")
			return nil
		},
	})

	return cmd
}

func newCleanupCmd(stdout io.Writer, opts *Options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune activity log entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(opts)
			if err != nil {
				return err
			}
			defer st.close()

			keep := days
			if keep <= 0 {
				keep = st.cfg.Activity.RetentionDays
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			removed, err := st.logs.Cleanup(ctx, keep)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "removed %d activity log entries older than %d days\n", removed, keep)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days of history to keep (defaults to config)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
