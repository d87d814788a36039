package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasktracker/client"
	"tasktracker/domain"
)

type globalFlags struct {
	server string
	debug  bool
}

func main() {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "taskwatch",
		Short:         "Browse and update tasks, following changes live",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.debug {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	serverDefault := os.Getenv("TASKTRACKER_URL")
	if serverDefault == "" {
		serverDefault = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&flags.server, "server", serverDefault, "task tracker base URL")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "debug logging")

	rootCmd.AddCommand(listCmd(flags))
	rootCmd.AddCommand(refsCmd(flags))
	rootCmd.AddCommand(createCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(watchCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func (g *globalFlags) tracker(rt client.Realtime) (*client.Client, *client.Tracker) {
	api := client.New(g.server, nil)
	return api, client.NewTracker(api, client.NewTaskList(), rt, log.StandardLogger())
}

func listCmd(flags *globalFlags) *cobra.Command {
	var (
		search string
		page   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show one page of tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tr := flags.tracker(nil)
			if err := tr.FetchTasks(cmd.Context(), page, search); err != nil {
				return err
			}
			renderTasks(cmd.OutOrStdout(), tr.List(), "")
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by title or description")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number")
	return cmd
}

func refsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refs",
		Short: "List categories and priorities",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _ := flags.tracker(nil)
			data, err := api.PageData(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Categories"))
			for _, c := range data.Categories {
				fmt.Fprintf(out, "%3d  %s\n", c.ID, c.Name)
			}
			fmt.Fprintln(out, headerStyle.Render("Priorities"))
			for _, p := range data.Priorities {
				fmt.Fprintf(out, "%3d  %s\n", p.ID, priorityBadge(&p))
			}
			return nil
		},
	}
}

func createCmd(flags *globalFlags) *cobra.Command {
	var form client.TaskForm
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tr := flags.tracker(nil)
			task, err := tr.CreateTask(cmd.Context(), form)
			var ferrs client.FormErrors
			if errors.As(err, &ferrs) {
				renderFormErrors(cmd.ErrOrStderr(), ferrs)
				return errors.New("task not created")
			}
			if err != nil {
				return err
			}
			renderTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
	cmd.Flags().StringVar(&form.Title, "title", "", "task title")
	cmd.Flags().StringVar(&form.Description, "description", "", "task description")
	cmd.Flags().StringVar(&form.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&form.CategoryID, "category", 0, "category id")
	cmd.Flags().Int64Var(&form.PriorityID, "priority", 0, "priority id")
	return cmd
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "status <id> <status>",
		Short:     "Change a task's status",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"pending", "in_progress", "completed", "cancelled"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			_, tr := flags.tracker(nil)
			task, err := tr.UpdateStatus(cmd.Context(), id, domain.Status(args[1]))
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
				renderFormErrors(cmd.ErrOrStderr(), apiErr.Fields)
				return errors.New("status not changed")
			}
			if err != nil {
				return err
			}
			renderTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
}

func watchCmd(flags *globalFlags) *cobra.Command {
	var (
		search string
		page   int
		poll   bool
		cfg    = client.DefaultSessionConfig()
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a page of tasks, redrawing on every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			api := client.New(flags.server, nil)
			list := client.NewTaskList()
			// the stream is long lived, so its client carries no timeout
			transport := client.NewSSETransport(api.StreamURL(), &http.Client{}, log.StandardLogger())

			redraw := make(chan struct{}, 1)
			nudge := func() {
				select {
				case redraw <- struct{}{}:
				default:
				}
			}
			cfg.ForcePolling = poll
			cfg.OnTransition = func(_, _ client.State) { nudge() }
			cfg.OnMerge = func(_ domain.Task, applied bool) {
				if applied {
					nudge()
				}
			}
			session := client.NewSession(cfg, transport, api, list, log.StandardLogger())
			tr := client.NewTracker(api, list, session, log.StandardLogger())

			if err := tr.FetchTasks(ctx, page, search); err != nil {
				return err
			}
			if err := session.Start(ctx); err != nil {
				return err
			}
			defer session.Stop()

			renderTasks(out, list, session.State().String())
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-redraw:
					fmt.Fprintln(out)
					renderTasks(out, list, session.State().String())
				}
			}
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by title or description")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number")
	cmd.Flags().BoolVar(&poll, "poll", false, "skip push and poll for updates")
	cmd.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "polling period")
	cmd.Flags().DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "time to wait for push before polling")
	cmd.Flags().DurationVar(&cfg.WatchInterval, "watch-interval", cfg.WatchInterval, "push connection check period")
	return cmd
}
