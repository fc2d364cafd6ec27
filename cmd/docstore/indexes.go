package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/taskhub/docstore"
)

func newIndexesCmd(d deps, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Create or drop indexes declared in a YAML file",
	}
	cmd.AddCommand(newIndexActionCmd(d, flags, "create", "Create the declared indexes",
		func(ctx context.Context, m *docstore.Manager, specs map[string][]docstore.IndexSpec) docstore.IndexReport {
			return m.CreateIndexes(ctx, specs)
		}))
	cmd.AddCommand(newIndexActionCmd(d, flags, "drop", "Drop the declared indexes by name",
		func(ctx context.Context, m *docstore.Manager, specs map[string][]docstore.IndexSpec) docstore.IndexReport {
			return m.DropIndexes(ctx, specs)
		}))
	return cmd
}

func newIndexActionCmd(d deps, flags *rootFlags, use, short string, action func(context.Context, *docstore.Manager, map[string][]docstore.IndexSpec) docstore.IndexReport) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := docstore.LoadIndexFile(file)
			if err != nil {
				return err
			}
			return withManager(cmd, d, flags, func(ctx context.Context, m *docstore.Manager) error {
				report := action(ctx, m, specs)
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Failed() {
					return errors.New("some index operations failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML index definitions")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
