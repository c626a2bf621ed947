package main

import (
	"github.com/spf13/cobra"

	"sheetgraph/internal/config"
	"sheetgraph/internal/httpapi"
)

// resolveDataSource is called once per process.
func resolveDataSource(cfg config.Config) config.DataSource {
	return config.ResolveDataSource(cfg.DataSource)
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTP.Addr = addr
			}
			if err := a.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			cleanup, err := a.initMetrics(ctx)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			defer cleanup()

			ds := resolveDataSource(a.cfg)
			srv := httpapi.New(httpapi.Options{
				Converter:      a.deps.newConverter(a.cfg, a.logger),
				DataSource:     ds,
				UploadDir:      a.cfg.DataSource.UploadDir,
				MaxUploadBytes: int64(a.cfg.HTTP.MaxUploadMB) << 20,
				AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
				Logger:         a.logger,
			})
			a.logger.Printf("serve: addr=%s data_source=%s path=%s", a.cfg.HTTP.Addr, ds.Origin, ds.Path)
			if err := a.deps.serve(ctx, a.cfg.HTTP.Addr, srv.Handler()); err != nil {
				return &exitError{code: 1, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}
