// Package cli is the taskboard command: the API server, storage bootstrap,
// and client commands against a running server.
package cli

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nakulsingh04/kanban-board-project/config"
)

type App struct {
	EnvFile string
	Board   string
	URL     string
	Token   string

	cfg    config.Config
	logger *log.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{logger: log.StandardLogger()}

	cmd := &cobra.Command{
		Use:          "taskboard",
		Short:        "Real-time Kanban task board server and terminal client",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Create tables and queues (or the SQLite schema / Mongo indexes)
  taskboard init-storage

  # Run the API and broadcast channel
  taskboard serve --addr :8080

  # Open the terminal board against a running server
  taskboard board --url http://localhost:8080 --board team
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var files []string
		if app.EnvFile != "" {
			files = append(files, app.EnvFile)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			return err
		}
		cfg.ConfigureLogging(app.logger)
		if app.Board != "" {
			cfg.BoardID = app.Board
		}
		if app.URL != "" {
			cfg.ServerURL = app.URL
		}
		if app.Token != "" {
			cfg.Token = app.Token
		}
		app.cfg = cfg
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.EnvFile, "env-file", "", "Read settings from this file instead of ./.env")
	cmd.PersistentFlags().StringVar(&app.Board, "board", "", "Board id (default: BOARD_ID or 'default')")
	cmd.PersistentFlags().StringVar(&app.URL, "url", "", "Server URL for client commands (default: TASKBOARD_URL)")
	cmd.PersistentFlags().StringVar(&app.Token, "token", "", "Bearer token for client commands (default: TASKBOARD_TOKEN)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newInitStorageCmd(app))
	cmd.AddCommand(newSeedCmd(app))
	cmd.AddCommand(newClearCmd(app))
	cmd.AddCommand(newBoardCmd(app))

	return cmd
}
