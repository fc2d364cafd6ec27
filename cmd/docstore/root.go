package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskhub/docstore"
)

// deps holds what commands need from the outside world so tests can swap
// the database driver and logger.
type deps struct {
	driver docstore.Driver
	logger func() (docstore.Logger, func(), error)
}

func defaultDeps() deps {
	return deps{
		driver: docstore.NewMongoDriver(),
		logger: func() (docstore.Logger, func(), error) {
			logger, err := docstore.NewProductionZapLogger()
			if err != nil {
				return nil, nil, err
			}
			return logger, func() { _ = logger.Sync() }, nil
		},
	}
}

type rootFlags struct {
	configPath string
	uri        string
	database   string
	timeout    time.Duration
}

func newRootCmd(d deps) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "docstore",
		Short:         "Inspect the task management database and manage its indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (environment variables still apply)")
	root.PersistentFlags().StringVar(&flags.uri, "uri", "", "MongoDB connection URI (overrides config)")
	root.PersistentFlags().StringVar(&flags.database, "database", "", "Database name (overrides config)")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Overall command timeout")

	root.AddCommand(newStatusCmd(d, flags))
	root.AddCommand(newPingCmd(d, flags))
	root.AddCommand(newIndexesCmd(d, flags))
	return root
}

// withManager builds a Manager from flags, runs fn and closes the Manager.
func withManager(cmd *cobra.Command, d deps, flags *rootFlags, fn func(ctx context.Context, m *docstore.Manager) error) error {
	cfg, err := docstore.LoadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if flags.uri != "" {
		cfg.URI = flags.uri
	}
	if flags.database != "" {
		cfg.Database = flags.database
	}

	logger, sync, err := d.logger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sync()

	manager, err := docstore.NewManager(cfg,
		docstore.WithDriver(d.driver),
		docstore.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()
	defer manager.Close(ctx)

	return fn(ctx, manager)
}

func newStatusCmd(d deps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect and print the connection status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, d, flags, func(ctx context.Context, m *docstore.Manager) error {
				m.Initialize(ctx)
				status := m.Status(ctx)
				if err := writeJSON(cmd.OutOrStdout(), status); err != nil {
					return err
				}
				if !status.Healthy {
					return fmt.Errorf("database %s is not healthy", status.Database)
				}
				return nil
			})
		},
	}
}

func newPingCmd(d deps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Exit non-zero unless the database answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, d, flags, func(ctx context.Context, m *docstore.Manager) error {
				if !m.Initialize(ctx) || !m.Ping(ctx) {
					return fmt.Errorf("ping failed: %s", m.Status(ctx).LastError)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
