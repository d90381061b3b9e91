// Command reconcile is the CLI entry point: run, schedule, and report
// subcommands over pkg/config, following the teacher's cmd/lint
// kong.Parse/ctx.Run wrapper (block-spirit/cmd/lint/lint.go) with one
// addition — exit-code mapping per spec.md §7, since a clean FAIL
// report and a usage error must exit differently from an infrastructure
// error, which ctx.FatalIfErrorf alone cannot distinguish. Scheduler.Run
// already handles SIGINT/SIGTERM internally and returns nil after a
// graceful shutdown, so there is no separate "interrupted" exit code
// here.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/dbsync/reconcile/pkg/config"
)

const (
	exitOK              = 0
	exitReconcileFailed = 1
	exitUsageError      = 2
)

var cli struct {
	Run      config.RunCmd      `cmd:"" help:"Reconcile tables once and report the result."`
	Schedule config.ScheduleCmd `cmd:"" help:"Reconcile tables repeatedly on an interval or cron schedule."`
	Report   config.ReportCmd   `cmd:"" help:"Render a previously written JSON report in another format."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("reconcile"),
		kong.Description("SQL Server to PostgreSQL CDC reconciliation engine."),
	)
	err := ctx.Run()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case config.IsUsageError(err):
		fmt.Fprintln(os.Stderr, err)
		return exitUsageError
	case errors.Is(err, config.ErrReconciliationFailed):
		fmt.Fprintln(os.Stderr, err)
		return exitReconcileFailed
	default:
		fmt.Fprintln(os.Stderr, err)
		return exitReconcileFailed
	}
}
