package vault

import (
	"context"
	"testing"

	"github.com/dbsync/reconcile/pkg/dialect"
)

func TestEnvSourcePostgresDefaultsPort(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_DATABASE", "app")
	t.Setenv("POSTGRES_USER", "svc")
	t.Setenv("POSTGRES_PASSWORD", "secret")

	creds, err := EnvSource{}.GetDatabaseCredentials(context.Background(), dialect.Postgres)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds["port"] != "5432" {
		t.Fatalf("port = %q, want 5432", creds["port"])
	}
	if creds["host"] != "db.internal" {
		t.Fatalf("host = %q", creds["host"])
	}
}

func TestEnvSourcePostgresExplicitPort(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_DATABASE", "app")
	t.Setenv("POSTGRES_USER", "svc")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_PORT", "5433")

	creds, err := EnvSource{}.GetDatabaseCredentials(context.Background(), dialect.Postgres)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds["port"] != "5433" {
		t.Fatalf("port = %q, want 5433", creds["port"])
	}
}

func TestEnvSourceSQLServerUsesServerField(t *testing.T) {
	t.Setenv("SQLSERVER_HOST", "sql.internal")
	t.Setenv("SQLSERVER_DATABASE", "app")
	t.Setenv("SQLSERVER_USER", "svc")
	t.Setenv("SQLSERVER_PASSWORD", "secret")

	creds, err := EnvSource{}.GetDatabaseCredentials(context.Background(), dialect.SQLServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds["server"] != "sql.internal" {
		t.Fatalf("server = %q", creds["server"])
	}
	if _, ok := creds["host"]; ok {
		t.Fatalf("sql server credentials should not include a host field")
	}
}

func TestEnvSourceMissingFieldErrors(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	// POSTGRES_DATABASE intentionally unset.
	t.Setenv("POSTGRES_USER", "svc")
	t.Setenv("POSTGRES_PASSWORD", "secret")

	_, err := EnvSource{}.GetDatabaseCredentials(context.Background(), dialect.Postgres)
	if err == nil {
		t.Fatal("expected error for missing POSTGRES_DATABASE")
	}
}
