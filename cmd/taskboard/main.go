package main

import (
	"os"

	"github.com/nakulsingh04/kanban-board-project/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
