package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nakulsingh04/kanban-board-project/client"
	"github.com/nakulsingh04/kanban-board-project/domain"
	"github.com/nakulsingh04/kanban-board-project/tui"
)

func newClient(app *App) (*client.Client, error) {
	return client.New(client.Options{
		BaseURL: app.cfg.ServerURL,
		Board:   app.cfg.BoardID,
		Token:   app.cfg.Token,
		Logger:  app.logger,
	})
}

func newSeedCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Replace the board with the sample tasks (server needs DEV_ENDPOINTS=true)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(app)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tasks, err := c.Seed(ctx)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			counts := map[domain.ColumnID]int{}
			for _, t := range tasks {
				counts[t.ColumnID]++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tasks on board %s (todo %d, in progress %d, done %d)\n",
				len(tasks), c.Board(), counts[domain.ColumnTodo], counts[domain.ColumnInProgress], counts[domain.ColumnDone])
			return nil
		},
	}
}

func newClearCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every task of the board (server needs DEV_ENDPOINTS=true)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(app)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := c.Clear(ctx); err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared board %s\n", c.Board())
			return nil
		},
	}
}

func newBoardCmd(app *App) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Open the interactive terminal board",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(app)
			if err != nil {
				return err
			}
			opts := tui.Options{
				API:         c,
				BoardID:     c.Board(),
				MoveTimeout: app.cfg.MoveTimeout,
			}
			if !offline {
				sub, err := c.Subscribe(cmd.Context(), client.DefaultReconnect)
				if err != nil {
					return fmt.Errorf("connect to broadcast channel: %w", err)
				}
				defer sub.Close()
				opts.Events = sub.Events()
				opts.Emit = sub.Emit
			}
			// Log lines would draw over the board.
			app.logger.SetOutput(io.Discard)
			return tui.Run(opts)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not subscribe to live updates")
	return cmd
}
