package main

import (
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Read new call-log entries from the device, transform them into CRM call
records, and submit them as one batch. The read cursor only advances when the
remote accepted at least one record, so a failed batch is retried from the
same window on the next run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			handles, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer handles.Close()

			result := handles.engine.SyncCallLogs(cmd.Context())

			return printResult(result)
		},
	}

	return cmd
}
