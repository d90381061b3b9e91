// Package config defines the kong-driven CLI surface: the run, schedule,
// and report subcommands and every flag spec.md §6 enumerates, plus the
// glue that resolves credentials, opens connection pools, and drives the
// reconciliation pipeline for a CLI invocation.
//
// Structured the way the teacher structures cmd/lint: the flag struct
// itself carries a Run() method (block-spirit/pkg/lint/cmd.go's `Lint`
// struct), so cmd/reconcile/main.go stays a thin kong.Parse/ctx.Run
// wrapper.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbsync/reconcile/pkg/comparator"
	"github.com/dbsync/reconcile/pkg/dbconn"
	"github.com/dbsync/reconcile/pkg/dialect"
	"github.com/dbsync/reconcile/pkg/orchestrator"
	"github.com/dbsync/reconcile/pkg/reconciler"
	"github.com/dbsync/reconcile/pkg/reporter"
	"github.com/dbsync/reconcile/pkg/rowdiffer"
	"github.com/dbsync/reconcile/pkg/scheduler"
	"github.com/dbsync/reconcile/pkg/tablespec"
	"github.com/dbsync/reconcile/pkg/vault"
)

// UsageError marks a CLI input validation failure, reported on exit code
// 2 per spec.md §6 without any database connection being attempted.
type UsageError struct{ msg string }

func (e *UsageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &UsageError{msg: fmt.Sprintf(format, args...)}
}

// SelectionFlags chooses which tables to reconcile.
type SelectionFlags struct {
	Tables     string `help:"Comma-separated list of tables (name or source=target)." name:"tables"`
	TablesFile string `help:"Path to a file with one table per line; blank lines ignored." name:"tables-file" type:"path"`
}

func (f SelectionFlags) resolve() ([]tablespec.TableSpec, error) {
	switch {
	case f.Tables != "" && f.TablesFile != "":
		return nil, usageErrorf("--tables and --tables-file are mutually exclusive")
	case f.Tables != "":
		specs, err := tablespec.ParseList(f.Tables)
		if err != nil {
			return nil, usageErrorf("%v", err)
		}
		return specs, nil
	case f.TablesFile != "":
		data, err := os.ReadFile(f.TablesFile)
		if err != nil {
			return nil, usageErrorf("reading --tables-file: %v", err)
		}
		var lines []string
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, line)
			}
		}
		specs, err := tablespec.ParseList(strings.Join(lines, ","))
		if err != nil {
			return nil, usageErrorf("%v", err)
		}
		return specs, nil
	default:
		return nil, usageErrorf("one of --tables or --tables-file is required")
	}
}

// ValidationFlags configures checksum and row-level comparison depth.
type ValidationFlags struct {
	ValidateChecksums bool   `help:"Compare row checksums in addition to counts." name:"validate-checksums"`
	RowLevel          bool   `help:"Enumerate missing/extra/modified rows on mismatch." name:"row-level"`
	PKColumns         string `help:"Comma-separated primary-key columns." name:"pk-columns" default:"id"`
	RowLevelChunkSize int    `help:"Row-level chunk size; the row-level differ does not page its key-set or row queries by it." name:"row-level-chunk-size" default:"1000"`
	GenerateRepair    bool   `help:"Write a repair SQL script for discrepancies found." name:"generate-repair"`
}

// ExecutionFlags configures orchestrator concurrency.
type ExecutionFlags struct {
	Parallel         bool `help:"Reconcile tables concurrently." name:"parallel"`
	ParallelWorkers  int  `help:"Worker pool size when --parallel is set." name:"parallel-workers" default:"4"`
	ParallelTimeout  int  `help:"Per-table timeout in seconds." name:"parallel-timeout" default:"3600"`
	ContinueOnError  bool `help:"Keep reconciling remaining tables after a failure." name:"continue-on-error"`
}

// OutputFlags configures report destination and format.
type OutputFlags struct {
	Output    string `help:"Report output file path." name:"output"`
	OutputDir string `help:"Directory for repair scripts and scheduled reports." name:"output-dir" type:"path" default:"."`
	Format    string `help:"Report format: console, json, or csv." name:"format" default:"console" enum:"console,json,csv"`
}

// CredentialFlags selects how database credentials are obtained.
type CredentialFlags struct {
	SourceHost     string `help:"SQL Server host." name:"source-host"`
	SourceDatabase string `help:"SQL Server database." name:"source-database"`
	SourceUser     string `help:"SQL Server user." name:"source-user"`
	SourcePassword string `help:"SQL Server password." name:"source-password"`

	TargetHost     string `help:"PostgreSQL host." name:"target-host"`
	TargetPort     int    `help:"PostgreSQL port." name:"target-port" default:"5432"`
	TargetDatabase string `help:"PostgreSQL database." name:"target-database"`
	TargetUser     string `help:"PostgreSQL user." name:"target-user"`
	TargetPassword string `help:"PostgreSQL password." name:"target-password"`

	UseVault bool `help:"For a side without a host flag, read credentials from SQLSERVER_*/POSTGRES_* environment variables." name:"use-vault"`
}

// resolve builds both DSNs. --source-host/--target-host take precedence
// over --use-vault on a per-side basis: a side with its host flag set is
// built from flags directly, regardless of --use-vault; a side left
// without a host flag falls back to the vault credential source (and
// --use-vault is then required, since there would otherwise be nothing
// to resolve it from).
func (f CredentialFlags) resolve(ctx context.Context) (sourceDSN, targetDSN string, err error) {
	var source, target map[string]string
	if f.SourceHost != "" {
		source = map[string]string{
			"server": f.SourceHost, "database": f.SourceDatabase,
			"username": f.SourceUser, "password": f.SourcePassword,
		}
	} else if f.UseVault {
		source, err = vault.EnvSource{}.GetDatabaseCredentials(ctx, dialect.SQLServer)
		if err != nil {
			return "", "", usageErrorf("resolving source credentials: %v", err)
		}
	} else {
		return "", "", usageErrorf("--source-host is required unless --use-vault is set")
	}

	if f.TargetHost != "" {
		target = map[string]string{
			"host": f.TargetHost, "port": strconv.Itoa(f.TargetPort), "database": f.TargetDatabase,
			"username": f.TargetUser, "password": f.TargetPassword,
		}
	} else if f.UseVault {
		target, err = vault.EnvSource{}.GetDatabaseCredentials(ctx, dialect.Postgres)
		if err != nil {
			return "", "", usageErrorf("resolving target credentials: %v", err)
		}
	} else {
		return "", "", usageErrorf("--target-host is required unless --use-vault is set")
	}

	return sqlServerDSN(source), postgresDSN(target), nil
}

func sqlServerDSN(c map[string]string) string {
	return fmt.Sprintf("sqlserver://%s:%s@%s?database=%s", c["username"], c["password"], c["server"], c["database"])
}

func postgresDSN(c map[string]string) string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c["host"], c["port"], c["database"], c["username"], c["password"])
}

// LoggingFlags configures the shared logrus logger.
type LoggingFlags struct {
	LogLevel string `help:"Log level: debug, info, warn, error." name:"log-level" default:"info"`
	LogFile  string `help:"Write logs to this file instead of stderr." name:"log-file"`
	JSONLogs bool   `help:"Emit structured JSON logs." name:"json-logs"`
}

func (f LoggingFlags) build() (*logrus.Logger, error) {
	logger := logrus.New()
	if f.JSONLogs {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, usageErrorf("invalid --log-level %q: %v", f.LogLevel, err)
	}
	logger.SetLevel(level)
	if f.LogFile != "" {
		file, err := os.OpenFile(f.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("config: opening --log-file %s: %w", f.LogFile, err)
		}
		logger.SetOutput(file)
	}
	return logger, nil
}

// openPools opens both connection pools. Table identifiers are already
// validated by tablespec.New/ParseList by the time this is called (per
// spec.md §6 scenario 6: a malformed identifier is rejected before any
// connection is attempted).
func openPools(ctx context.Context, sourceDSN, targetDSN string) (*dbconn.Pool, *dbconn.Pool, error) {
	sourcePool, err := dbconn.Open(ctx, "source", dialect.SQLServer, sourceDSN, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("config: opening source pool: %w", err)
	}
	targetPool, err := dbconn.Open(ctx, "target", dialect.Postgres, targetDSN, nil, nil)
	if err != nil {
		sourcePool.Close()
		return nil, nil, fmt.Errorf("config: opening target pool: %w", err)
	}
	return sourcePool, targetPool, nil
}

func reconcileOptionsFrom(v ValidationFlags, o OutputFlags) reconciler.Options {
	var pkColumns []string
	if v.PKColumns != "" {
		pkColumns = strings.Split(v.PKColumns, ",")
		for i := range pkColumns {
			pkColumns[i] = strings.TrimSpace(pkColumns[i])
		}
	}
	return reconciler.Options{
		ValidateChecksums: v.ValidateChecksums,
		RowLevel:          v.RowLevel,
		PKColumns:         pkColumns,
		RowLevelChunkSize: v.RowLevelChunkSize,
		GenerateRepair:    v.GenerateRepair,
		OutputDir:         o.OutputDir,
	}
}

// RunCmd is the one-shot "run" subcommand.
type RunCmd struct {
	SelectionFlags
	ValidationFlags
	ExecutionFlags
	OutputFlags
	CredentialFlags
	LoggingFlags
}

func (c *RunCmd) Run() error {
	ctx := context.Background()
	logger, err := c.LoggingFlags.build()
	if err != nil {
		return err
	}

	specs, err := c.SelectionFlags.resolve()
	if err != nil {
		return err
	}
	sourceDSN, targetDSN, err := c.CredentialFlags.resolve(ctx)
	if err != nil {
		return err
	}
	opts := reconcileOptionsFrom(c.ValidationFlags, c.OutputFlags)

	sourcePool, targetPool, err := openPools(ctx, sourceDSN, targetDSN)
	if err != nil {
		return err
	}
	defer sourcePool.Close()
	defer targetPool.Close()

	factory := reconcilerFactory(sourcePool, targetPool, logger)
	orch := orchestrator.New(factory)

	orchOpts := orchestrator.Options{ReconcileOpts: opts}
	if c.Parallel {
		orchOpts.Workers = c.ParallelWorkers
	} else {
		orchOpts.Workers = 1
	}
	orchOpts.PerTableTimeout = time.Duration(c.ParallelTimeout) * time.Second
	if c.ContinueOnError {
		orchOpts.Policy = orchestrator.ContinueOnError
	} else {
		orchOpts.Policy = orchestrator.FailFast
	}

	result, err := orch.Run(ctx, specs, orchOpts)
	if err != nil && orchOpts.Policy == orchestrator.FailFast {
		return fmt.Errorf("run: %w", err)
	}

	var failedTables []string
	for _, te := range result.Errors {
		failedTables = append(failedTables, te.Table)
	}
	rep := reporter.Generate(result.Results, time.Now().Unix())
	rep.FailedTables = failedTables

	if err := emitReport(rep, c.OutputFlags); err != nil {
		return err
	}

	if rep.Status != reporter.StatusPass {
		return ErrReconciliationFailed
	}
	return nil
}

// ScheduleCmd is the long-running "schedule" subcommand.
type ScheduleCmd struct {
	SelectionFlags
	ValidationFlags
	ExecutionFlags
	OutputFlags
	CredentialFlags
	LoggingFlags

	Interval int    `help:"Fixed interval in seconds between runs." name:"interval"`
	Cron     string `help:"Five-field cron expression (\"m h dom mon dow\")." name:"cron"`
}

func (c *ScheduleCmd) Run() error {
	ctx := context.Background()
	logger, err := c.LoggingFlags.build()
	if err != nil {
		return err
	}

	specs, err := c.SelectionFlags.resolve()
	if err != nil {
		return err
	}
	sourceDSN, targetDSN, err := c.CredentialFlags.resolve(ctx)
	if err != nil {
		return err
	}
	opts := reconcileOptionsFrom(c.ValidationFlags, c.OutputFlags)

	trigger, err := c.trigger()
	if err != nil {
		return err
	}

	sourcePool, targetPool, err := openPools(ctx, sourceDSN, targetDSN)
	if err != nil {
		return err
	}
	defer sourcePool.Close()
	defer targetPool.Close()

	factory := reconcilerFactory(sourcePool, targetPool, logger)
	orch := orchestrator.New(factory)

	sched := scheduler.New(orch, specs, trigger, logger)
	sched.OutputDir = c.OutputDir
	workers := 1
	if c.Parallel {
		workers = c.ParallelWorkers
	}
	sched.OrchestratorOpt = orchestrator.Options{
		Workers:         workers,
		PerTableTimeout: time.Duration(c.ParallelTimeout) * time.Second,
		Policy:          orchestrator.ContinueOnError,
		ReconcileOpts:   opts,
	}

	return sched.Run(ctx)
}

func (c *ScheduleCmd) trigger() (scheduler.Trigger, error) {
	switch {
	case c.Interval > 0 && c.Cron != "":
		return nil, usageErrorf("--interval and --cron are mutually exclusive")
	case c.Interval > 0:
		return scheduler.IntervalTrigger{Interval: time.Duration(c.Interval) * time.Second}, nil
	case c.Cron != "":
		tr, err := scheduler.ParseCron(c.Cron)
		if err != nil {
			return nil, usageErrorf("%v", err)
		}
		return tr, nil
	default:
		return nil, usageErrorf("one of --interval or --cron is required")
	}
}

// ErrReconciliationFailed signals that a run completed without
// infrastructure error but produced a FAIL report, for the CLI entry
// point's exit-code mapping (spec.md §7: FAIL exits 1).
var ErrReconciliationFailed = errors.New("reconciliation failed")

// ReportCmd re-renders a previously written JSON report in another
// format, per spec.md §6.
type ReportCmd struct {
	Input  string `help:"Path to a JSON report written by run or schedule." name:"input" required:""`
	Format string `help:"Output format: console, json, or csv." name:"format" default:"console" enum:"console,json,csv"`
	Output string `help:"Destination path; defaults to stdout for console." name:"output"`
}

func (c *ReportCmd) Run() error {
	rep, err := reporter.LoadReport(c.Input)
	if err != nil {
		return usageErrorf("%v", err)
	}
	return emitReport(rep, OutputFlags{Output: c.Output, Format: c.Format})
}

func emitReport(rep *reporter.Report, out OutputFlags) error {
	switch out.Format {
	case "json":
		if out.Output == "" {
			return usageErrorf("--output is required for --format json")
		}
		return reporter.WriteJSON(rep, out.Output)
	case "csv":
		if out.Output == "" {
			return usageErrorf("--output is required for --format csv")
		}
		return reporter.WriteCSV(rep, out.Output)
	default:
		text := reporter.FormatConsole(rep)
		if out.Output == "" {
			fmt.Println(text)
			return nil
		}
		return os.WriteFile(out.Output, []byte(text+"\n"), 0o644)
	}
}

// pairCloser releases a per-table source/target connection pair back to
// their pools once a Reconciler's pipeline finishes.
type pairCloser struct {
	source, target io.Closer
}

func (c pairCloser) Close() error {
	err1 := c.source.Close()
	err2 := c.target.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func reconcilerFactory(sourcePool, targetPool *dbconn.Pool, logger *logrus.Logger) orchestrator.ReconcilerFactory {
	return func(ctx context.Context, spec tablespec.TableSpec) (*reconciler.Reconciler, error) {
		sourceConn, err := sourcePool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		targetConn, err := targetPool.Acquire(ctx)
		if err != nil {
			sourceConn.Close()
			return nil, err
		}
		sourceCmp := comparator.New(sourceConn, sourcePool.Dialect)
		targetCmp := comparator.New(targetConn, targetPool.Dialect)
		differ := rowdiffer.New(sourceConn, targetConn, sourcePool.Dialect, targetPool.Dialect)
		rec := reconciler.New(sourceCmp, targetCmp, differ, logger)
		rec.Closer = pairCloser{source: sourceConn, target: targetConn}
		return rec, nil
	}
}

// IsUsageError reports whether err (or a wrapped error) is a UsageError,
// for the CLI entry point's exit-code mapping (spec.md §7: UsageError
// exits 2).
func IsUsageError(err error) bool {
	var u *UsageError
	return errors.As(err, &u)
}
