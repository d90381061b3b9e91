package config

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dbsync/reconcile/pkg/reporter"
)

func TestSelectionFlagsResolveMutuallyExclusive(t *testing.T) {
	f := SelectionFlags{Tables: "orders", TablesFile: "/tmp/x"}
	_, err := f.resolve()
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestSelectionFlagsResolveNeitherSet(t *testing.T) {
	f := SelectionFlags{}
	_, err := f.resolve()
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestSelectionFlagsResolveFromCSV(t *testing.T) {
	f := SelectionFlags{Tables: "orders,customers=clients"}
	specs, err := f.resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[1].SourceIdentifier != "customers" || specs[1].TargetIdentifier != "clients" {
		t.Fatalf("unexpected second spec: %+v", specs[1])
	}
}

func TestSelectionFlagsResolveFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables.txt")
	if err := os.WriteFile(path, []byte("orders\n\ncustomers\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := SelectionFlags{TablesFile: path}
	specs, err := f.resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
}

func TestCredentialFlagsResolveFromFlags(t *testing.T) {
	f := CredentialFlags{
		SourceHost: "sql.internal", SourceDatabase: "app", SourceUser: "su", SourcePassword: "sp",
		TargetHost: "pg.internal", TargetPort: 5432, TargetDatabase: "app", TargetUser: "tu", TargetPassword: "tp",
	}
	sourceDSN, targetDSN, err := f.resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sourceDSN, "sql.internal") {
		t.Fatalf("source DSN missing host: %s", sourceDSN)
	}
	if !strings.Contains(targetDSN, "pg.internal") {
		t.Fatalf("target DSN missing host: %s", targetDSN)
	}
}

func TestCredentialFlagsResolveSourceFlagsOverrideVault(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "vault-pg")
	t.Setenv("POSTGRES_DATABASE", "app")
	t.Setenv("POSTGRES_USER", "svc")
	t.Setenv("POSTGRES_PASSWORD", "secret")

	f := CredentialFlags{
		UseVault:   true,
		SourceHost: "flag-sql", SourceDatabase: "app", SourceUser: "su", SourcePassword: "sp",
	}
	sourceDSN, targetDSN, err := f.resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sourceDSN, "flag-sql") {
		t.Fatalf("expected explicit --source-host to win over vault, got %s", sourceDSN)
	}
	if !strings.Contains(targetDSN, "vault-pg") {
		t.Fatalf("expected target to fall back to vault, got %s", targetDSN)
	}
}

func TestCredentialFlagsResolveRequiresHostOrVault(t *testing.T) {
	f := CredentialFlags{TargetHost: "pg.internal", TargetDatabase: "app", TargetUser: "tu", TargetPassword: "tp"}
	_, _, err := f.resolve(context.Background())
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError for missing --source-host/--use-vault, got %v", err)
	}
}

func TestLoggingFlagsBuildDefaultsToInfo(t *testing.T) {
	logger, err := LoggingFlags{LogLevel: "info"}.build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Level.String() != "info" {
		t.Fatalf("level = %s, want info", logger.Level.String())
	}
}

func TestLoggingFlagsBuildRejectsInvalidLevel(t *testing.T) {
	_, err := LoggingFlags{LogLevel: "not-a-level"}.build()
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestLoggingFlagsBuildWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	logger, err := LoggingFlags{LogLevel: "info", LogFile: path}.build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hello")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log file missing expected message: %s", data)
	}
}

func samplePassReport() *reporter.Report {
	return reporter.Generate(nil, 0)
}

func TestEmitReportConsoleToStdoutWhenNoOutput(t *testing.T) {
	rep := samplePassReport()
	if err := emitReport(rep, OutputFlags{Format: "console"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmitReportJSONRequiresOutput(t *testing.T) {
	rep := samplePassReport()
	err := emitReport(rep, OutputFlags{Format: "json"})
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestEmitReportCSVRequiresOutput(t *testing.T) {
	rep := samplePassReport()
	err := emitReport(rep, OutputFlags{Format: "csv"})
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestEmitReportJSONWritesLoadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	rep := samplePassReport()
	if err := emitReport(rep, OutputFlags{Format: "json", Output: path}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var loaded reporter.Report
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.Status != rep.Status {
		t.Fatalf("status = %s, want %s", loaded.Status, rep.Status)
	}
}

func TestEmitReportCSVWritesParsableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	rep := samplePassReport()
	if err := emitReport(rep, OutputFlags{Format: "csv", Output: path}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening report: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected at least a header row")
	}
}

func TestReportCmdRoundTripsThroughJSON(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.json")
	output := filepath.Join(dir, "out.csv")
	rep := samplePassReport()
	if err := emitReport(rep, OutputFlags{Format: "json", Output: input}); err != nil {
		t.Fatalf("writing input report: %v", err)
	}

	cmd := &ReportCmd{Input: input, Format: "csv", Output: output}
	if err := cmd.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}

func TestReportCmdRejectsMissingInput(t *testing.T) {
	cmd := &ReportCmd{Input: "/nonexistent/report.json", Format: "console"}
	err := cmd.Run()
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestScheduleCmdTriggerMutuallyExclusive(t *testing.T) {
	c := &ScheduleCmd{Interval: 30, Cron: "* * * * *"}
	_, err := c.trigger()
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestScheduleCmdTriggerRequiresOne(t *testing.T) {
	c := &ScheduleCmd{}
	_, err := c.trigger()
	if !IsUsageError(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}
