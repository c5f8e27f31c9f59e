package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTestAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-access",
		Short: "Verify device call-log access",
		Long: `Read a small sample of call-log entries without submitting anything,
to diagnose permission and platform problems.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			handles, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer handles.Close()

			report := handles.engine.TestDeviceAccess(cmd.Context())

			if flagJSON {
				return printJSON(report)
			}

			fmt.Println(report.Message)

			if report.Success {
				fmt.Printf("Entries read: %d\n", report.Count)

				if report.Sample != nil {
					fmt.Printf("Newest entry: %s (type %s, %ds)\n",
						report.Sample.Number, report.Sample.Type, report.Sample.Duration)
				}

				return nil
			}

			return fmt.Errorf("device access test failed")
		},
	}

	return cmd
}
