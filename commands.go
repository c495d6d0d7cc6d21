package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elmanelman/sql-judge/config"
	"github.com/elmanelman/sql-judge/engine"
	"github.com/elmanelman/sql-judge/judge"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "sql-judge",
	Short:         "Grades SQL homework submissions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the registry for pending submissions and check them",
	Args:  cobra.NoArgs,
	RunE:  withApp(runServe),
}

var checkCmd = &cobra.Command{
	Use:   "check <submission-id>...",
	Short: "Check submissions",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return reportFailed("submissions", a.checker.CheckSubmissions(ctx, ids))
	}),
}

var correctOutputCmd = &cobra.Command{
	Use:   "correct-output <assignment-id>...",
	Short: "Regenerate the reference output of assignments",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return reportFailed("assignments", a.checker.GenerateCorrectOutputs(ctx, ids))
	}),
}

var forceCreate bool

var createDBCmd = &cobra.Command{
	Use:   "create-db <test-database-id>",
	Short: "Create the sandbox database of a test database",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		created, err := a.provisioner.CreateDatabase(ctx, ids[0], forceCreate)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("%s already exists\n", judge.SandboxName(ids[0]))
		}
		return nil
	}),
}

var dropDBCmd = &cobra.Command{
	Use:   "drop-db <test-database-id>",
	Short: "Drop the sandbox database of a test database",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return a.provisioner.DropDatabase(ctx, ids[0])
	}),
}

var dbmsListCmd = &cobra.Command{
	Use:   "dbms-list",
	Short: "List the supported DBMS names and whether they are configured",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		configured := map[string]bool{}
		cfg := config.Default()
		if err := cfg.LoadFromFile(configPath); err == nil {
			for _, name := range engine.NewConnector(cfg.ConnectionStrings).LogicalNames() {
				configured[name] = true
			}
		}
		for _, name := range engine.LogicalNames() {
			if configured[name] {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tconfigured\n", name)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to the JSON configuration file")
	createDBCmd.Flags().BoolVar(&forceCreate, "force", false, "drop and recreate an existing sandbox")

	rootCmd.AddCommand(serveCmd, checkCmd, correctOutputCmd, createDBCmd, dropDBCmd, dbmsListCmd)
}

func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd.Context(), a, args)
	}
}

func runServe(ctx context.Context, a *app, _ []string) error {
	if a.cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.String("error_message", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", zap.String("address", a.cfg.Metrics.Address))
	}

	if !a.cfg.Poller.Enabled {
		a.logger.Info("poller disabled, waiting for shutdown")
		<-ctx.Done()
		return nil
	}

	poller := judge.NewPoller(a.logger, a.store, a.checker, judge.PollerConfig{
		FetchPeriod:   a.cfg.Poller.FetchInterval(),
		ReviewerCount: a.cfg.Poller.ReviewerCount,
		BatchSize:     a.cfg.Poller.BatchSize,
	})
	a.logger.Info("poller started", zap.Int("reviewer_count", a.cfg.Poller.ReviewerCount))
	poller.Run(ctx)
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func reportFailed(what string, failed []int64) error {
	if len(failed) == 0 {
		return nil
	}
	s := make([]string, len(failed))
	for i, id := range failed {
		s[i] = strconv.FormatInt(id, 10)
	}
	return errors.Newf("%d %s failed: %s", len(failed), what, strings.Join(s, ", "))
}
