package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sheetgraph/internal/loader"
)

func (a *app) publishCmd() *cobra.Command {
	var sinkKind, sinkDSN string
	cmd := &cobra.Command{
		Use:   "publish <dataset>",
		Short: "Replace the converted tables in the SQL sink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("sink-kind") {
				a.cfg.Sink.Kind = sinkKind
			}
			if cmd.Flags().Changed("sink-dsn") {
				a.cfg.Sink.DSN = sinkDSN
			}
			if err := a.validate(); err != nil {
				return err
			}
			if a.cfg.Sink.Kind == "" {
				return &exitError{code: 1, err: fmt.Errorf("no sink configured (set --sink-kind or SHEETGRAPH_SINK_KIND)")}
			}

			ctx := cmd.Context()
			ds, err := loader.Load(ctx, args[0])
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			st, err := a.publish(ctx, ds.SchemaTables(), ds.Relationships)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			fmt.Fprintf(a.stdout, "published kind=%s tables=%d rows=%d\n", a.cfg.Sink.Kind, st.Tables, st.Rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&sinkKind, "sink-kind", "", "sqlite, postgres or mssql")
	cmd.Flags().StringVar(&sinkDSN, "sink-dsn", "", "connection string")
	return cmd
}
