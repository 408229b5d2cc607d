package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	c := &command{}
	upFlags := &UpFlags{}
	downFlags := &DownFlags{}
	statusFlags := &StatusFlags{}
	historyFlags := &HistoryFlags{}

	root := createRootCommand()
	root.AddCommand(
		createUpCommand(c, upFlags),
		createDownCommand(c, downFlags),
		createStatusCommand(c, statusFlags),
		createHistoryCommand(c, historyFlags),
	)
	return root
}
