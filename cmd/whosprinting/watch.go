package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"whosprinting-backend/internal/session"
)

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the printer and print every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var last string
			sess := a.newSession(func(v session.View) {
				line := v.StatusMessage
				if v.UnknownTagSeen {
					line += " (unregistered tag seen)"
				}
				if line != last {
					fmt.Fprintln(out, line)
					last = line
				}
			})

			err := runLive(ctx, a, sess, nil)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

// runLive keeps sess attached to the server until ctx is done. Each
// (re)connect of the event stream reloads the directory and the holder, then
// calls connected if set.
func runLive(ctx context.Context, a *app, sess *session.Session, connected func()) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		return a.client.Subscribe(gctx, sess.Queue(), func(ctx context.Context) {
			if err := sess.Attach(ctx); err != nil {
				a.logger.Printf("attach: %v", err)
			}
			if connected != nil {
				connected()
			}
		})
	})
	return g.Wait()
}
