package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerrdev/easycli/internal/registry"
)

type command struct{}

func (c *command) Up(f UpFlags) error {
	s, err := newSession(f.ConfigPath, f.Debug)
	if err != nil {
		return err
	}
	defer s.close()
	return s.Up(f.Groups, f.MetricsListen)
}

func (c *command) Down(f DownFlags) error {
	s, err := newSession(f.ConfigPath, f.Debug)
	if err != nil {
		return err
	}
	defer s.close()
	return s.Down(f.Groups, f.All, f.Wait)
}

// Status lists registry records together with a liveness probe. A
// separate invocation has no in-memory supervisor state; the on-disk
// registry is the source of truth.
func (c *command) Status(f StatusFlags) error {
	s, err := newSession(f.ConfigPath, false)
	if err != nil {
		return err
	}
	defer s.close()

	var entries []registry.Entry
	if f.Group != "" {
		entries, err = s.reg.ReadByGroup(f.Group)
	} else {
		entries, err = s.reg.ReadAll()
	}
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tITEM\tPID\tALIVE\tPOLICY\tSTARTED\tCOMMAND")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s\t%s\n",
			e.Group, e.Item, e.PID, registry.IsRunning(e.PID),
			e.RestartPolicy, e.StartedAt().Format(time.RFC3339), e.FullCmd)
	}
	return w.Flush()
}

func (c *command) History(f HistoryFlags) error {
	s, err := newSession(f.ConfigPath, false)
	if err != nil {
		return err
	}
	defer s.close()

	events, err := s.hist.Query(context.Background(), f.Group, f.Limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tGROUP\tITEM\tPID\tDETAIL")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			ev.OccurredAt.Format(time.RFC3339), ev.Type, ev.Group, ev.Item, ev.PID, ev.Detail)
	}
	return w.Flush()
}

func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "easycli",
		Short:         "Supervise named groups of processes declared in configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func createUpCommand(c *command, f *UpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up [group...]",
		Short: "Spawn configured groups and supervise them until interrupted",
		RunE: func(_ *cobra.Command, args []string) error {
			f.Groups = args
			return c.Up(*f)
		},
	}
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "easycli.toml", "config file path")
	cmd.Flags().StringVar(&f.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&f.Debug, "debug", false, "enable debug logging")
	return cmd
}

func createDownCommand(c *command, f *DownFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down [group...]",
		Short: "Terminate processes recorded by a prior up",
		RunE: func(_ *cobra.Command, args []string) error {
			f.Groups = args
			return c.Down(*f)
		},
	}
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "easycli.toml", "config file path")
	cmd.Flags().BoolVar(&f.All, "all", false, "terminate every recorded group")
	cmd.Flags().DurationVar(&f.Wait, "wait", 5*time.Second, "grace period before force kill")
	cmd.Flags().BoolVar(&f.Debug, "debug", false, "enable debug logging")
	return cmd
}

func createStatusCommand(c *command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [group]",
		Short: "Show recorded processes and their liveness",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Group = args[0]
			}
			return c.Status(*f)
		},
	}
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "easycli.toml", "config file path")
	return cmd
}

func createHistoryCommand(c *command, f *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent supervision events",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.History(*f)
		},
	}
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "easycli.toml", "config file path")
	cmd.Flags().StringVar(&f.Group, "group", "", "filter by group")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum events to show")
	return cmd
}
