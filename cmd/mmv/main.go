package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/KimHG1995/db-migration-checker/internal/config"
	"github.com/KimHG1995/db-migration-checker/internal/driver"
	"github.com/KimHG1995/db-migration-checker/internal/driver/mysql"
	"github.com/KimHG1995/db-migration-checker/internal/history"
	"github.com/KimHG1995/db-migration-checker/internal/logging"
	"github.com/KimHG1995/db-migration-checker/internal/notify"
	"github.com/KimHG1995/db-migration-checker/internal/orchestrator"
	"github.com/KimHG1995/db-migration-checker/internal/progress"
	"github.com/KimHG1995/db-migration-checker/internal/report"
	"github.com/KimHG1995/db-migration-checker/internal/secrets"
	"github.com/KimHG1995/db-migration-checker/internal/util"
	"github.com/KimHG1995/db-migration-checker/internal/version"
)

// Process exit codes.
const (
	exitOK     = 0
	exitFailed = 1 // a table mismatched or errored
	exitFatal  = 2 // bad config, unreachable database
)

func main() {
	err := newApp().Run(os.Args)
	if err == nil {
		return
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, "Error:", msg)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitFatal
}

func newApp() *cli.App {
	return &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
			},
		},
		// Exit codes are handled in main so tests can run the app in-process.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Verify the destination against the source",
				Flags:  append(connectionFlags(), verifyFlags()...),
				Action: runVerify,
			},
			{
				Name:   "tables",
				Usage:  "List the tables a run would verify",
				Flags:  append(connectionFlags(), tableFlags()...),
				Action: listTables,
			},
			{
				Name:   "health",
				Usage:  "Check connectivity to both databases",
				Flags:  connectionFlags(),
				Action: healthCheck,
			},
			{
				Name:  "history",
				Usage: "List past runs, or show the report of one run",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "history-db", Usage: "Path to the run history database"},
					&cli.StringFlag{Name: "run", Usage: "Show the report of a specific run ID"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of runs to list (0 = all)"},
				},
				Action: showHistory,
			},
			{
				Name:  "init-config",
				Usage: "Print a template configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "secrets", Usage: "Print the secrets file template instead"},
					&cli.BoolFlag{Name: "write", Usage: "With --secrets, create the secrets file (mode 0600) instead of printing it"},
				},
				Action: initConfig,
			},
		},
	}
}

func connectionFlags() []cli.Flag {
	var flags []cli.Flag
	for _, side := range []struct{ prefix, name string }{{"src", "Source"}, {"dst", "Destination"}} {
		flags = append(flags,
			&cli.StringFlag{Name: side.prefix + "-host", Usage: side.name + " host"},
			&cli.IntFlag{Name: side.prefix + "-port", Usage: side.name + " port (default 3306)"},
			&cli.StringFlag{Name: side.prefix + "-user", Usage: side.name + " user"},
			&cli.StringFlag{Name: side.prefix + "-pass", Usage: side.name + " password", EnvVars: []string{"MMV_" + strings.ToUpper(side.prefix) + "_PASS"}},
			&cli.StringFlag{Name: side.prefix + "-db", Usage: side.name + " database"},
			&cli.StringFlag{Name: side.prefix + "-ssl-mode", Usage: side.name + " TLS mode: disable, preferred, require, verify-ca, verify-full"},
		)
	}
	return append(flags, &cli.IntFlag{Name: "max-connections", Usage: "Connection pool size per side"})
}

func tableFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "tables", Usage: "Comma-separated tables to verify (default: all source tables)"},
		&cli.StringFlag{Name: "exclude-tables", Usage: "Comma-separated tables to skip"},
	}
}

func verifyFlags() []cli.Flag {
	return append(tableFlags(),
		&cli.StringFlag{Name: "hash-mode", Usage: "Content hashing: off, sample, pk-range"},
		&cli.IntFlag{Name: "sample-limit", Usage: "Rows per side in sample mode"},
		&cli.StringFlag{Name: "hash-pk", Usage: "Key column for pk-range (default: table primary key)"},
		&cli.Int64Flag{Name: "hash-chunk-size", Usage: "Key span per pk-range chunk"},
		&cli.IntFlag{Name: "workers", Usage: "Tables verified in parallel"},
		&cli.IntFlag{Name: "chunk-workers", Usage: "Chunks compared in parallel per table"},
		&cli.StringFlag{Name: "out", Usage: "Report file path"},
		&cli.StringFlag{Name: "history-db", Usage: "Record the run in this SQLite database"},
		&cli.BoolFlag{Name: "fail-fast", Usage: "Stop after the first table that is not OK"},
		&cli.BoolFlag{Name: "skip-hash-on-count-mismatch", Usage: "Do not hash tables whose row counts differ"},
		&cli.BoolFlag{Name: "stop-on-first-chunk-mismatch", Usage: "Stop comparing chunks of a table after the first mismatch"},
		&cli.BoolFlag{Name: "no-progress", Usage: "Disable the progress bar"},
	)
}

// buildConfig layers command line flags over the config file (if any) and
// validates the result.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyFlags(c, cfg)
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	strs := map[string]*string{
		"src-host":     &cfg.Source.Host,
		"src-user":     &cfg.Source.User,
		"src-pass":     &cfg.Source.Password,
		"src-db":       &cfg.Source.Database,
		"src-ssl-mode": &cfg.Source.SSLMode,
		"dst-host":     &cfg.Destination.Host,
		"dst-user":     &cfg.Destination.User,
		"dst-pass":     &cfg.Destination.Password,
		"dst-db":       &cfg.Destination.Database,
		"dst-ssl-mode": &cfg.Destination.SSLMode,
		"hash-mode":    &cfg.Verify.HashMode,
		"hash-pk":      &cfg.Verify.HashPK,
		"out":          &cfg.Output.Path,
		"history-db":   &cfg.Output.HistoryDB,
		"log-level":    &cfg.Logging.Level,
		"log-format":   &cfg.Logging.Format,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}

	ints := map[string]*int{
		"src-port":        &cfg.Source.Port,
		"dst-port":        &cfg.Destination.Port,
		"sample-limit":    &cfg.Verify.SampleLimit,
		"workers":         &cfg.Verify.Workers,
		"chunk-workers":   &cfg.Verify.ChunkWorkers,
		"max-connections": &cfg.Verify.MaxConnections,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}

	bools := map[string]*bool{
		"fail-fast":                    &cfg.Verify.FailFast,
		"skip-hash-on-count-mismatch":  &cfg.Verify.SkipHashOnCountMismatch,
		"stop-on-first-chunk-mismatch": &cfg.Verify.StopOnFirstChunkMismatch,
	}
	for name, dst := range bools {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}

	if c.IsSet("hash-chunk-size") {
		cfg.Verify.ChunkSize = c.Int64("hash-chunk-size")
	}
	if c.IsSet("tables") {
		cfg.Verify.Tables = util.SplitCSV(c.String("tables"))
	}
	if c.IsSet("exclude-tables") {
		cfg.Verify.ExcludeTables = util.SplitCSV(c.String("exclude-tables"))
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.Logging.Format)
	return nil
}

// prepare builds the config and configures logging; failures are fatal.
func prepare(c *cli.Context) (*config.Config, error) {
	cfg, err := buildConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("config: %v", err), exitFatal)
	}
	if err := setupLogging(cfg); err != nil {
		return nil, cli.Exit(fmt.Sprintf("config: %v", err), exitFatal)
	}
	return cfg, nil
}

func openSides(ctx context.Context, cfg *config.Config) (*mysql.Conn, *mysql.Conn, error) {
	src, err := mysql.Open(ctx, &cfg.Source, driver.SideSource, cfg.Verify.MaxConnections)
	if err != nil {
		return nil, nil, err
	}
	dst, err := mysql.Open(ctx, &cfg.Destination, driver.SideDestination, cfg.Verify.MaxConnections)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, dst, nil
}

func runVerify(c *cli.Context) error {
	cfg, err := prepare(c)
	if err != nil {
		return err
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logging.Warn("Interrupted. Writing a partial report...")
			cancel()
		case <-ctx.Done():
		}
	}()

	src, dst, err := openSides(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer src.Close()
	defer dst.Close()

	runID := uuid.NewString()
	opts := []orchestrator.Option{orchestrator.WithRunID(runID)}
	if !c.Bool("no-progress") && cfg.Logging.Format != "json" {
		logging.SetSimpleMode(true)
		opts = append(opts, orchestrator.WithProgress(progress.New()))
	}
	v, err := orchestrator.New(cfg, src, dst, opts...)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	notifier := notify.New(&cfg.Notifications.Slack)
	start := time.Now()
	plan, err := v.ResolveTables(ctx)
	if err != nil {
		if nerr := notifier.VerificationFailed(runID, err, time.Since(start)); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
		return cli.Exit(err.Error(), exitFatal)
	}
	if err := notifier.VerificationStarted(runID, cfg.Source.Endpoint().String(), cfg.Destination.Endpoint().String(), len(plan.Tables)); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	r := v.RunPlan(ctx, plan)

	report.PrintSummary(c.App.Writer, r)
	if err := r.Save(cfg.Output.Path); err != nil {
		return cli.Exit(fmt.Sprintf("writing report: %v", err), exitFatal)
	}
	logging.Info("Report written to %s", cfg.Output.Path)

	recordHistory(cfg.Output.HistoryDB, r)
	if err := notifier.Report(r); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	if code := r.ExitCode(); code != exitOK {
		return cli.Exit("", code)
	}
	return nil
}

func recordHistory(path string, r *report.MigrationReport) {
	if path == "" {
		return
	}
	store, err := history.Open(path)
	if err != nil {
		logging.Warn("Run history unavailable: %v", err)
		return
	}
	defer store.Close()
	if err := store.Record(r); err != nil {
		logging.Warn("Recording run history failed: %v", err)
	}
}

func listTables(c *cli.Context) error {
	cfg, err := prepare(c)
	if err != nil {
		return err
	}
	src, dst, err := openSides(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer src.Close()
	defer dst.Close()

	v, err := orchestrator.New(cfg, src, dst)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	plan, err := v.ResolveTables(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	printPlan(c.App.Writer, plan)
	return nil
}

func printPlan(w io.Writer, plan *orchestrator.Plan) {
	fmt.Fprintf(w, "Tables to verify (%d):\n", len(plan.Tables))
	for _, t := range plan.Tables {
		fmt.Fprintf(w, "  %s\n", t)
	}
	if len(plan.ExtraInDestination) > 0 {
		fmt.Fprintf(w, "Only in destination (%d):\n", len(plan.ExtraInDestination))
		for _, t := range plan.ExtraInDestination {
			fmt.Fprintf(w, "  %s\n", t)
		}
	}
}

func healthCheck(c *cli.Context) error {
	cfg, err := prepare(c)
	if err != nil {
		return err
	}

	var srcDB, dstDB driver.Database
	src, srcErr := mysql.Open(c.Context, &cfg.Source, driver.SideSource, 1)
	if srcErr == nil {
		defer src.Close()
		srcDB = src
	}
	dst, dstErr := mysql.Open(c.Context, &cfg.Destination, driver.SideDestination, 1)
	if dstErr == nil {
		defer dst.Close()
		dstDB = dst
	}

	result := orchestrator.HealthCheck(c.Context, srcDB, dstDB, srcErr, dstErr)
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Healthy {
		return cli.Exit("", exitFailed)
	}
	return nil
}

func historyPath(c *cli.Context) (string, error) {
	if p := c.String("history-db"); p != "" {
		return p, nil
	}
	if path := c.String("config"); path != "" {
		cfg, err := config.ReadFile(path)
		if err != nil {
			return "", err
		}
		if cfg.Output.HistoryDB != "" {
			return cfg.Output.HistoryDB, nil
		}
	}
	return "", errors.New("no history database configured (use --history-db or output.history_db)")
}

func showHistory(c *cli.Context) error {
	path, err := historyPath(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	store, err := history.Open(path)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer store.Close()

	w := c.App.Writer
	if runID := c.String("run"); runID != "" {
		r, err := store.Get(runID)
		if err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
		report.PrintSummary(w, r)
		return nil
	}

	runs, err := store.List(c.Int("limit"))
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-9s  %-9s  %6s  %6s  %6s\n", "RUN ID", "STARTED", "STATUS", "HASH", "TABLES", "OK", "FAILED")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %-9s  %-9s  %6d  %6d  %6d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.HashMode,
			r.TablesTotal, r.TablesOK, r.TablesFailed)
	}
	return nil
}

func initConfig(c *cli.Context) error {
	if c.Bool("secrets") {
		if !c.Bool("write") {
			fmt.Fprint(c.App.Writer, secrets.GenerateTemplate())
			return nil
		}
		path := secrets.GetSecretsPath()
		if err := secrets.WriteTemplate(path); err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
		fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
		return nil
	}
	fmt.Fprint(c.App.Writer, config.Template())
	return nil
}
