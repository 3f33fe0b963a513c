package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath    string
	inventoryPath string
	verbose       int
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "vmbatch",
		Short: "Run batch operations against virtual machines",
		Long: `vmbatch applies a change to every machine matched by names, IDs or patterns.
Each machine is processed in dependency order; a failure on one machine is reported
and the batch moves on. Long-running changes show progress, can be interrupted with
Ctrl-C, or can be pushed into a background job.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.inventoryPath, "inventory", "", "inventory file describing the endpoint (overrides config)")
	cmd.PersistentFlags().CountVarP(&opts.verbose, "verbose", "v", "increase verbosity (-v, -vv, -vvv)")

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newChangeCommand(opts, changeStart))
	cmd.AddCommand(newChangeCommand(opts, changeStop))
	cmd.AddCommand(newChangeCommand(opts, changeRestart))
	cmd.AddCommand(newWaitCommand(opts))

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  `Print the version number of vmbatch`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vmbatch version %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
