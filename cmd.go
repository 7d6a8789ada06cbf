package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modprogress/internal/app"
	"modprogress/internal/config"
	"modprogress/internal/domain"
	"modprogress/internal/etl"
	_ "modprogress/internal/etl/sources"
	"modprogress/internal/logging"
	mcpserver "modprogress/internal/mcp"
	"modprogress/internal/secret"
	"modprogress/internal/service"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger

	// Command flags
	runCourses   []string
	serveNow     bool
	historyLimit int
)

const shutdownGrace = 30 * time.Second

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "modprogress",
	Short: "Export LMS module progress into BI-ready tables",
	Long: `modprogress reads course modules, items and per-student completion from
the LMS, flattens them into tables and writes one folder per course plus a
unioned module_data export and a status report for BI tools.

Courses come from the entitlements CSV (column course_id) unless --course is given.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes one export and prints the course outcomes
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one export now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		run, runErr := a.Exports().RunExport(cmd.Context(), service.TriggerManual, runCourses)
		if run != nil {
			detail, err := a.Exports().RunDetail(run.ID)
			if err != nil {
				return err
			}
			printRunDetail(cmd.OutOrStdout(), detail)
		}
		return runErr
	},
}

// serveCmd keeps exporting on the configured schedule
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run exports on the cron schedule and when the entitlements file changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Schedule.Cron == "" && !cfg.Entitlements.Watch {
			return errors.New("nothing to serve: set schedule.cron or entitlements.watch")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		svc := a.Exports()
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer svc.Stop()
		logger.Info("serving", zap.String("cron", cfg.Schedule.Cron), zap.Bool("watch", cfg.Entitlements.Watch))

		if serveNow {
			if _, err := svc.RunExport(ctx, service.TriggerManual, nil); err != nil {
				logger.Warn("initial export failed", zap.Error(err))
			}
		}

		<-ctx.Done()
		logger.Info("shutting down")
		svc.Stop()
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		svc.WaitRunning(waitCtx)
		return nil
	},
}

// historyCmd lists recent runs
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent export runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.Exports().History(historyLimit)
		if err != nil {
			return err
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

// historyShowCmd prints one run with its course results
var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the course results of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		detail, err := a.Exports().RunDetail(args[0])
		if err != nil {
			return err
		}
		printRunDetail(cmd.OutOrStdout(), detail)
		return nil
	},
}

// mcpCmd serves the MCP tools on stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve export tools to AI agents over MCP (stdio)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcpserver.New(mcpserver.Deps{
			Exports: a.Exports(),
			Logger:  logger.Named("mcp"),
			Version: version,
		})
		return srv.ServeStdio()
	},
}

// tokenCmd manages the Canvas token in the keychain
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the Canvas access token stored in the keychain",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store the Canvas access token (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("token is empty")
		}
		if err := secret.NewKeychainStore().Set(secret.KeyCanvasToken, []byte(token)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
		return nil
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored Canvas access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := secret.NewKeychainStore().Delete(secret.KeyCanvasToken); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
		return nil
	},
}

// sourcesCmd lists the registered LMS sources
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available LMS sources and their settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tLABEL\tSETTINGS")
		for _, s := range etl.ListSources() {
			keys := make([]string, 0, len(s.ConfigFields))
			for _, f := range s.ConfigFields {
				k := f.Key
				if f.Required {
					k += "*"
				}
				keys = append(keys, k)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Type, s.Label, strings.Join(keys, ", "))
		}
		return w.Flush()
	},
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd.Flags().StringSliceVar(&runCourses, "course", nil, "course id to export (repeatable; default: entitlements file)")
	serveCmd.Flags().BoolVar(&serveNow, "now", false, "run one export immediately")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")

	historyCmd.AddCommand(historyShowCmd)
	tokenCmd.AddCommand(tokenSetCmd, tokenDeleteCmd)
	rootCmd.AddCommand(runCmd, serveCmd, historyCmd, mcpCmd, tokenCmd, sourcesCmd, versionCmd)
}

func openApp() (*app.App, error) {
	return app.New(cfg, logger, nil)
}

// ── Output ─────────────────────────────────────────────────

func printRuns(out io.Writer, runs []domain.RunLog) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTRIGGER\tSTATUS\tCOURSES\tFAILED\tROWS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Trigger, r.Status,
			r.CoursesTotal, r.CoursesFailed, r.RowsExported)
	}
	w.Flush()
}

func printRunDetail(out io.Writer, d *service.RunDetail) {
	r := d.Run
	fmt.Fprintf(out, "Run %s (%s, %s)\n", r.ID, r.Trigger, r.Status)
	if r.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", r.Error)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COURSE\tNAME\tSTATUS\tROWS\tMESSAGE")
	for _, c := range d.Courses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.CourseID, c.CourseName, c.Status, c.Rows, c.Message)
	}
	w.Flush()
	fmt.Fprintf(out, "%d succeeded, %d failed, %d rows exported\n", r.CoursesSucceeded, r.CoursesFailed, r.RowsExported)
}
