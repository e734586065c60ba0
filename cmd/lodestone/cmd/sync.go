package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var project string
	var entityIDs []int64

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync entity vectors",
		Long: `Recomputes the chunk and embedding set for the given entities,
embedding only chunks whose content changed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.syncer.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "semantic search is disabled; nothing to sync")
				return nil
			}
			if len(entityIDs) == 0 {
				return fmt.Errorf("at least one --entity is required")
			}

			for _, id := range entityIDs {
				if err := e.syncer.SyncEntity(cmd.Context(), project, id); err != nil {
					return fmt.Errorf("sync failed for entity %d: %w", id, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d entities\n", len(entityIDs))
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "main", "Project scope")
	cmd.Flags().Int64SliceVar(&entityIDs, "entity", nil, "Entity id to sync (repeatable)")
	return cmd
}
