package rowdiffer

import (
	"strings"
	"testing"
	"time"

	"github.com/dbsync/reconcile/pkg/dialect"
)

var testGeneratedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRenderRepairScriptOrdersMissingExtraModified(t *testing.T) {
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	discs := []RowDiscrepancy{
		{
			Kind:            Modified,
			PrimaryKey:      map[string]any{"id": int64(2)},
			SourceRow:       map[string]any{"name": "Jane"},
			TargetRow:       map[string]any{"name": "Joan"},
			ModifiedColumns: []string{"name"},
		},
		{Kind: Missing, PrimaryKey: map[string]any{"id": int64(3)}, SourceRow: map[string]any{"id": int64(3), "name": "Alice"}},
		{Kind: Extra, PrimaryKey: map[string]any{"id": int64(4)}},
	}
	script, err := RenderRepairScript(d, "users", []string{"id"}, discs, testGeneratedAt)
	if err != nil {
		t.Fatal(err)
	}

	insertIdx := strings.Index(script, "INSERT INTO")
	deleteIdx := strings.Index(script, "DELETE FROM")
	updateIdx := strings.Index(script, "UPDATE")
	if insertIdx < 0 || deleteIdx < 0 || updateIdx < 0 {
		t.Fatalf("expected all three statement kinds, got:\n%s", script)
	}
	if !(insertIdx < deleteIdx && deleteIdx < updateIdx) {
		t.Fatalf("expected INSERT, then DELETE, then UPDATE order, got:\n%s", script)
	}
	if !strings.HasPrefix(script, "-- Repair script for users\n") {
		t.Errorf("expected script to start with a header comment, got:\n%s", script)
	}
	if !strings.Contains(script, "-- Total discrepancies: 3\n") {
		t.Errorf("expected header to report discrepancy count, got:\n%s", script)
	}
	if !strings.Contains(script, "-- Database type: postgres\n") {
		t.Errorf("expected header to report database type, got:\n%s", script)
	}
	if !strings.Contains(script, "BEGIN;\n") {
		t.Errorf("expected Postgres script to contain BEGIN;, got:\n%s", script)
	}
	if !strings.Contains(script, "COMMIT;") {
		t.Error("expected script to contain COMMIT;")
	}
	if !strings.Contains(script, "-- Modified row: id=2") {
		t.Errorf("expected a per-row comment naming the primary key, got:\n%s", script)
	}
	if !strings.Contains(script, "-- Modified columns: name") {
		t.Errorf("expected a modified-columns comment, got:\n%s", script)
	}
	if !strings.Contains(script, `UPDATE "users" SET "name" = 'Jane' WHERE "id" = 2;`) {
		t.Errorf("expected UPDATE to set the source value, got:\n%s", script)
	}
}

func TestRenderRepairScriptSQLServerUsesBeginTransaction(t *testing.T) {
	d, err := dialect.New(dialect.SQLServer)
	if err != nil {
		t.Fatal(err)
	}
	script, err := RenderRepairScript(d, "users", []string{"id"}, []RowDiscrepancy{
		{Kind: Extra, PrimaryKey: map[string]any{"id": int64(4)}},
	}, testGeneratedAt)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, "BEGIN TRANSACTION;\n") {
		t.Errorf("expected SQL Server script to contain BEGIN TRANSACTION;, got:\n%s", script)
	}
	if !strings.Contains(script, `DELETE FROM [users] WHERE [id] = 4;`) {
		t.Errorf("unexpected DELETE statement, got:\n%s", script)
	}
}

func TestRenderLiteralEscapesAndFormats(t *testing.T) {
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	if got := renderLiteral(d, nil); got != "NULL" {
		t.Errorf("nil literal = %q, want NULL", got)
	}
	if got := renderLiteral(d, "O'Brien"); got != "'O''Brien'" {
		t.Errorf("string literal = %q, want 'O''Brien'", got)
	}
	if got := renderLiteral(d, true); got != "TRUE" {
		t.Errorf("bool literal = %q, want TRUE", got)
	}
	sqlServer, err := dialect.New(dialect.SQLServer)
	if err != nil {
		t.Fatal(err)
	}
	if got := renderLiteral(sqlServer, true); got != "1" {
		t.Errorf("SQL Server bool literal = %q, want 1", got)
	}
}

func TestRenderInsertListsSourceRowColumnsSorted(t *testing.T) {
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	disc := RowDiscrepancy{
		Kind:       Missing,
		PrimaryKey: map[string]any{"id": int64(3)},
		SourceRow:  map[string]any{"id": int64(3), "name": "Alice"},
	}
	stmt, err := renderInsert(d, `"users"`, disc)
	if err != nil {
		t.Fatal(err)
	}
	want := `INSERT INTO "users" ("id", "name") VALUES (3, 'Alice');`
	if stmt != want {
		t.Errorf("renderInsert = %q, want %q", stmt, want)
	}
}

func TestRenderUpdateUsesSourceValueNotTargetValue(t *testing.T) {
	d, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	disc := RowDiscrepancy{
		Kind:            Modified,
		PrimaryKey:      map[string]any{"id": int64(2)},
		SourceRow:       map[string]any{"name": "Jane"},
		TargetRow:       map[string]any{"name": "Joan"},
		ModifiedColumns: []string{"name"},
	}
	stmt, err := renderUpdate(d, `"users"`, []string{"id"}, disc)
	if err != nil {
		t.Fatal(err)
	}
	want := `UPDATE "users" SET "name" = 'Jane' WHERE "id" = 2;`
	if stmt != want {
		t.Errorf("renderUpdate = %q, want %q", stmt, want)
	}
}
