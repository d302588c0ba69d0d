package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ledgermark/internal/api"
	"ledgermark/internal/preflight"
	"ledgermark/internal/stage"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{}, func(rt *runtime) error {
				if bind == "" {
					bind = rt.cfg.Paths.APIBind
				}
				srv := api.NewServer(api.Options{
					Bind:     bind,
					Token:    rt.cfg.Paths.APIToken,
					Logger:   rt.logger,
					Exec:     rt.exec(),
					Checkers: rt.checkers,
					Preflight: func(ctx context.Context) []stage.Health {
						return preflight.RunAll(ctx, rt.cfg)
					},
				})
				if err := srv.Start(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (Ctrl+C to stop)\n", srv.Addr())
				<-cmd.Context().Done()
				srv.Stop()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to paths.api_bind)")
	return cmd
}
