package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nakulsingh04/kanban-board-project/storage"
)

func newInitStorageCmd(app *App) *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "init-storage",
		Short: "Create the task table and events queue, or migrate the SQLite/MongoDB store",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.cfg.Storage
			if backend != "" {
				opts.Kind = backend
			}
			app.logger.WithField("backend", opts.Kind).Info("storage init starting")
			var queues []string
			if app.cfg.EventsQueue != "" {
				queues = append(queues, app.cfg.EventsQueue)
			}
			if err := storage.Initialize(cmd.Context(), opts, queues); err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			app.logger.Info("storage init complete")
			fmt.Fprintf(cmd.OutOrStdout(), "storage ready (%s)\n", kindName(opts.Kind))
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "storage", "", "Storage backend: tables, sqlite or mongo (default: STORAGE_BACKEND)")
	return cmd
}

func kindName(kind string) string {
	if kind == "" {
		return storage.KindTables
	}
	return kind
}
