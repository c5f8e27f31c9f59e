package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			if flagJSON {
				return printJSON(resolvedCfg)
			}

			if err := toml.NewEncoder(os.Stdout).Encode(resolvedCfg); err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}

			return nil
		},
	})

	return cmd
}
