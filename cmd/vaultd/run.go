package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dappvault/engine/actors"
	"dappvault/engine/library"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runCommand keeps the vault open, syncing every own user until interrupted.
func runCommand(a *app) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "open the vault and keep profiles and contacts in sync",
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			doc, err := a.c.Document()
			if err != nil {
				return err
			}
			for id := range doc.Identities.Users {
				if err := a.c.StartSync(id); err != nil {
					return err
				}
			}

			terminate := make(chan struct{})
			actors.SetTerminateChan(terminate)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				for e := range a.c.Events(ctx) {
					library.LogCLI(fmt.Sprintf("%s %s %s", e.Kind, e.EntityID, e.Change), 3)
				}
				return nil
			})
			if addr := a.conf.GetString("metricsAddr"); addr != "" {
				server := &http.Server{Addr: addr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					library.LogCLI("serving metrics on "+addr, 4)
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					return server.Close()
				})
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signals)
			sleep := make(chan struct{}, 1)
			sleeper(sleep)
			if interactive {
				go cliListener(a)
			}

			select {
			case <-signals:
				library.LogCLI("interrupt received, stopping", 4)
			case <-terminate:
			case <-sleep:
				library.LogCLI("system sleep detected, stopping sync", 2)
			case <-ctx.Done():
			}
			a.c.CloseVault()
			cancel()
			return g.Wait()
		}),
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "inspect the vault with single key presses")
	return cmd
}
