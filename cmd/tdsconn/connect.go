package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// disconnectTimeout bounds the final disconnect after a signal.
const disconnectTimeout = 10 * time.Second

func newConnectCmd(a *app) *cobra.Command {
	var flags targetFlags
	var hold bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a connection, validate it and hold it until interrupted",
		Long: `Open a connection to the configured SQL Server, report whether it is
logged in, then hold it open until interrupted. If the connection fails while
held, the command exits with the failure kind.

Examples:
  tdsconn connect --host db1 --user sa --ask-password
  tdsconn connect --instance SQLEXPRESS --domain CORP --user svc-app
  tdsconn connect --option encrypt=true --option TrustServerCertificate=true
  tdsconn connect --debug --hold=false`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := flags.descriptor(a.cfg.Target)
			if err != nil {
				return err
			}
			return a.runConnect(cmd.Context(), desc, hold)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&hold, "hold", true, "Hold the connection until interrupted")
	return cmd
}

func (a *app) runConnect(ctx context.Context, desc tds.Descriptor, hold bool) error {
	evicted := make(chan tds.ResourceHandle, 1)
	manager, err := a.newManager(tds.Deps{
		Pool: tds.PoolFunc(func(h tds.ResourceHandle) {
			select {
			case evicted <- h:
			default:
			}
		}),
		Diagnostics: tds.DiagnosticsFunc(func(ev tds.Event) {
			fmt.Fprintf(a.out, "trace %s\n", ev.Message)
		}),
	})
	if err != nil {
		return err
	}
	defer manager.Close() //nolint:errcheck // Close only clears the type registry

	var lastErr error
	manager.SetObserver(func(ev tds.LifecycleEvent) {
		if ev.Type == tds.LifecycleEvicted {
			lastErr = ev.Err
		}
	})

	handle, err := manager.Connect(ctx, desc)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "connected %s (id %s, logged in: %t)\n",
		handle.Unwrap().Options().Address(), handle.ID(), manager.Validate(handle))

	if hold {
		fmt.Fprintln(a.out, "holding connection, press Ctrl+C to disconnect")
		select {
		case <-ctx.Done():
		case h := <-evicted:
			closeCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			//nolint:errcheck // the connection already failed
			manager.Disconnect(closeCtx, h)
			return fmt.Errorf("connection lost: %w", tds.Classify(lastErr))
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := manager.Disconnect(closeCtx, handle); err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	fmt.Fprintln(a.out, "disconnected")
	return nil
}
