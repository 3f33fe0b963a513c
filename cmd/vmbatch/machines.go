package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/execution"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/inventory"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/invoke"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/watcher"
)

// changeKind describes one state-changing command.
type changeKind struct {
	action  string
	short   string
	// reverse processes machines dependents first.
	reverse bool
	// confirm, when set, is asked through ShouldContinue for every machine.
	confirm string
}

var (
	changeStart = changeKind{
		action: inventory.ActionStart,
		short:  "Start machines, dependencies first",
	}
	changeStop = changeKind{
		action:  inventory.ActionStop,
		short:   "Stop machines, dependents first",
		reverse: true,
	}
	changeRestart = changeKind{
		action:  inventory.ActionRestart,
		short:   "Restart machines",
		confirm: "Restarting %q interrupts its workload.",
	}
)

func machineName(m *inventory.Machine) string { return m.Name }

func newGetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [names...]",
		Short: "List machines",
		Long:  "List the machines matching the given names, IDs or patterns (all machines by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			op := execution.NewOperation("get", rt.enumerate(args, false),
				func(ctx context.Context, m *inventory.Machine, w core.OperationWatcher) error {
					return invoke.Perform(ctx, rt.invoker, w, m, invoke.Change{Action: inventory.ActionGet})
				},
				execution.WithDescriber(machineName))
			return rt.runForeground(ctx, op, watcher.PolicyForce)
		},
	}
}

func newChangeCommand(opts *globalOptions, kind changeKind) *cobra.Command {
	var (
		asJob    bool
		passThru bool
		force    bool
		whatIf   bool
	)

	cmd := &cobra.Command{
		Use:   kind.action + " [names...]",
		Short: kind.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			op := execution.NewOperation(kind.action, rt.enumerate(args, kind.reverse),
				rt.changeMachine(kind, passThru),
				execution.WithDescriber(machineName))

			if asJob {
				return rt.runAsJob(ctx, kind.action, op)
			}
			return rt.runForeground(ctx, op, policyFor(rt.cfg.Confirm, force, whatIf))
		},
	}

	cmd.Flags().BoolVar(&asJob, "as-job", false, "Run in a background job and stream its progress")
	cmd.Flags().BoolVar(&passThru, "passthru", false, "Write each machine after it has been changed")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&whatIf, "whatif", false, "Show what would be changed without changing anything")
	cmd.MarkFlagsMutuallyExclusive("as-job", "passthru")
	cmd.MarkFlagsMutuallyExclusive("force", "whatif")

	return cmd
}

// enumerate resolves names into machines in dependency order, or the reverse
// of it. Names that match nothing are reported and skipped.
func (rt *runtime) enumerate(names []string, reverse bool) execution.EnumerateFunc[*inventory.Machine] {
	return func(ctx context.Context, w core.OperationWatcher) ([]*inventory.Machine, error) {
		inputs := names
		if len(inputs) == 0 {
			inputs = []string{"*"}
		}
		found, err := invoke.ResolveEach[*inventory.Machine](ctx, rt.endpoint, w, inputs)
		if err != nil {
			return nil, err
		}

		seen := make(map[string]bool, len(found))
		machines := make([]*inventory.Machine, 0, len(found))
		for _, m := range found {
			if !seen[m.Name] {
				seen[m.Name] = true
				machines = append(machines, m)
			}
		}
		rt.endpoint.SortByDependency(machines)
		if reverse {
			slices.Reverse(machines)
		}
		return machines, nil
	}
}

func (rt *runtime) changeMachine(kind changeKind, passThru bool) execution.ProcessFunc[*inventory.Machine] {
	return func(ctx context.Context, m *inventory.Machine, w core.OperationWatcher) error {
		if !w.ShouldProcess(fmt.Sprintf("%s on %q", kind.action, m.Name)) {
			return nil
		}
		if kind.confirm != "" && !w.ShouldContinue(fmt.Sprintf(kind.confirm, m.Name)) {
			return nil
		}

		out, err := rt.invoker.Invoke(ctx, m, invoke.Change{Action: kind.action})
		if err != nil {
			return err
		}
		if out.Task != nil {
			if err := w.Watch(ctx, out.Task); err != nil {
				return err
			}
		} else {
			w.WriteVerbose(fmt.Sprintf("%s is already %s", m.Name, rt.endpoint.Snapshot(m).State))
		}

		if passThru {
			w.WriteObject(rt.endpoint.Snapshot(m))
		}
		return nil
	}
}

func policyFor(configured string, force, whatIf bool) watcher.Policy {
	switch {
	case whatIf:
		return watcher.PolicyWhatIf
	case force:
		return watcher.PolicyForce
	}
	return watcher.Policy(configured)
}

// runForeground runs b on the caller's path with console output.
func (rt *runtime) runForeground(ctx context.Context, b execution.Batch, policy watcher.Policy) error {
	fg := watcher.NewForeground(
		watcher.WithSinks(rt.sinks()),
		watcher.WithPrompter(watcher.NewPtermPrompter()),
		watcher.WithPolicy(policy),
		watcher.WithProgressInterval(rt.cfg.Watch.ProgressInterval),
		watcher.WithLogger(rt.component("watcher")),
	)

	result, err := rt.executor.Run(ctx, b, fg)
	if err != nil {
		return err
	}
	return summarize(result)
}

// summarize turns a batch result into the command's exit error.
func summarize(result *execution.Result) error {
	if result.Stopped {
		return fmt.Errorf("%s interrupted: %d of %d machines not processed",
			result.Batch, result.Skipped(), len(result.Operands))
	}
	if failed := result.Failed(); failed > 0 {
		return fmt.Errorf("%s failed on %d of %d machines", result.Batch, failed, len(result.Operands))
	}
	return nil
}
