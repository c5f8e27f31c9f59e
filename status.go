package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/callsync/callsync-go/internal/syncengine"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync statistics and readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			handles, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer handles.Close()

			stats, err := handles.engine.Stats(cmd.Context())
			if err != nil {
				return err
			}

			readiness := handles.engine.Readiness(cmd.Context())

			if flagJSON {
				return printJSON(struct {
					Stats     syncengine.Cursor    `json:"stats"`
					Readiness syncengine.Readiness `json:"readiness"`
				}{stats, readiness})
			}

			printStatus(stats, readiness)

			return nil
		},
	}

	return cmd
}

func printStatus(stats syncengine.Cursor, readiness syncengine.Readiness) {
	fmt.Printf("Total synced:   %d\n", stats.TotalSynced)
	fmt.Printf("Pending:        %d\n", stats.Pending)
	fmt.Printf("Last sync:      %s\n", formatEpochMS(stats.LastSyncMS))
	fmt.Printf("Read cursor:    %s\n", formatEpochMS(stats.ReadCursorMS))
	fmt.Printf("Ready for sync: %v\n", readiness.Ready)

	if !readiness.Ready {
		fmt.Printf("  supported:     %v\n", readiness.Supported)
		fmt.Printf("  permission:    %v\n", readiness.HasPermission)
		fmt.Printf("  authenticated: %v\n", readiness.Authenticated)
	}

	if len(stats.Errors) > 0 {
		fmt.Println("Recent errors:")

		for _, e := range stats.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

func formatEpochMS(ms int64) string {
	if ms == 0 {
		return "never"
	}

	return time.UnixMilli(ms).Format(time.RFC3339)
}
