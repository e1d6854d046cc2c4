package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/sirocco/internal/config"
	"github.com/papapumpkin/sirocco/internal/harness"
	"github.com/papapumpkin/sirocco/internal/machine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [tests...]",
	Short: "Check that the machine, configuration, and test names are usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyFlagOverrides(cmd, &cfg)
		ok := true

		reg, err := machine.Load(cfg.MachinesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ machine registry: %v\n", err)
			ok = false
		} else {
			fmt.Fprintf(os.Stderr, "✓ machine registry: %d machines in %s\n", len(reg.Names()), cfg.MachinesFile)

			mach, err := resolveMachine(reg, cfg.Machine)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ machine: %v\n", err)
				ok = false
			} else if err := mach.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "✗ machine %s: %v\n", mach.Name, err)
				ok = false
			} else {
				fmt.Fprintf(os.Stderr, "✓ machine %s: compiler %s, %d PEs/node\n", mach.Name, mach.Compiler, mach.PESPerNode)
			}
		}

		if cfg.ScriptsRoot == "" {
			fmt.Fprintln(os.Stderr, "✗ scripts root: not configured (scripts_root config key)")
			ok = false
		} else if _, err := os.Stat(cfg.ScriptsRoot); err != nil {
			fmt.Fprintf(os.Stderr, "✗ scripts root: %v\n", err)
			ok = false
		} else {
			fmt.Fprintf(os.Stderr, "✓ scripts root: %s\n", cfg.ScriptsRoot)
		}

		for _, test := range args {
			if _, err := harness.ParseTestName(test); err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", test, err)
				ok = false
			} else {
				fmt.Fprintf(os.Stderr, "✓ %s\n", test)
			}
		}

		if !ok {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("machine", "", "machine registry entry (default: hostname detection)")
	rootCmd.AddCommand(validateCmd)
}

func resolveMachine(reg *machine.Registry, name string) (machine.Machine, error) {
	if name != "" {
		return reg.Lookup(name)
	}
	return reg.DetectLocal()
}
