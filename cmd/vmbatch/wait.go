package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/execution"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/inventory"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/wait"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/watcher"
)

func newWaitCommand(opts *globalOptions) *cobra.Command {
	var (
		state   string
		timeout time.Duration
		poll    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait [names...]",
		Short: "Wait until machines reach a state",
		Long: `Wait until every selected machine reports the requested state.

A timeout of 0 checks once, a negative timeout waits indefinitely.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			want := inventory.MachineState(state)
			if want != inventory.StateRunning && want != inventory.StateOff {
				return core.Newf(core.CategoryInvalidArgument, "unknown state %q (want %s or %s)",
					state, inventory.StateRunning, inventory.StateOff)
			}

			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			if !cmd.Flags().Changed("timeout") {
				timeout = rt.cfg.Wait.Timeout
			}
			if !cmd.Flags().Changed("poll") {
				poll = rt.cfg.Wait.PollInterval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			waiter := wait.NewWaiter(wait.WithLogger(rt.component("wait")))
			defer waiter.Close()
			go func() {
				<-ctx.Done()
				waiter.Stop()
			}()

			op := execution.NewOperation("wait", rt.enumerate(args, false),
				func(ctx context.Context, m *inventory.Machine, w core.OperationWatcher) error {
					reached := func(ctx context.Context) (bool, error) {
						current, err := rt.endpoint.StateOf(ctx, m.Name)
						return current == want, err
					}
					if err := waiter.Until(ctx, m.Name, reached, timeout, poll); err != nil {
						return err
					}
					w.WriteVerbose(fmt.Sprintf("%s is %s", m.Name, want))
					w.WriteObject(rt.endpoint.Snapshot(m))
					return nil
				},
				execution.WithDescriber(machineName))
			return rt.runForeground(ctx, op, watcher.PolicyForce)
		},
	}

	cmd.Flags().StringVar(&state, "state", string(inventory.StateRunning), "State to wait for (Running or Off)")
	cmd.Flags().DurationVar(&timeout, "timeout", wait.NoTimeout, "Give up after this long")
	cmd.Flags().DurationVar(&poll, "poll", wait.DefaultPollInterval, "Interval between checks")

	return cmd
}
