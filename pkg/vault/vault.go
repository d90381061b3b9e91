// Package vault defines the narrow credential-source interface the
// engine consumes and an env-var-backed default implementation.
//
// A real HashiCorp Vault client (original_source/src/utils/vault_client.go's
// KV v2 HTTP calls) is an external collaborator out of scope per
// spec.md §1 — only the consumed interface and its local/dev stand-in
// live here. The dialect.Kind-keyed field-name split (server/database
// for SQL Server vs. host/port/database for PostgreSQL) and the
// default-port-5432 fill-in are carried from
// original_source/src/utils/vault_client.py's get_database_credentials.
package vault

import (
	"context"
	"fmt"
	"os"

	"github.com/dbsync/reconcile/pkg/dialect"
)

// CredentialSource returns a database-kind-scoped credential map. A real
// implementation (Vault, AWS Secrets Manager, etc.) fetches remotely;
// EnvSource reads local environment variables.
type CredentialSource interface {
	GetDatabaseCredentials(ctx context.Context, kind dialect.Kind) (map[string]string, error)
}

// EnvSource reads SQLSERVER_*/POSTGRES_* environment variables. pkg/config
// uses it only when --use-vault is set, for a side with no host flag.
type EnvSource struct{}

// requiredFields mirrors the Python client's per-database-type
// required-field validation.
var requiredFields = map[dialect.Kind][]string{
	dialect.SQLServer: {"server", "database", "username", "password"},
	dialect.Postgres:  {"host", "database", "username", "password"},
}

// GetDatabaseCredentials reads credentials for kind from the
// corresponding env var prefix, failing if any required field is unset.
func (EnvSource) GetDatabaseCredentials(_ context.Context, kind dialect.Kind) (map[string]string, error) {
	var prefix string
	switch kind {
	case dialect.SQLServer:
		prefix = "SQLSERVER"
	case dialect.Postgres:
		prefix = "POSTGRES"
	default:
		return nil, fmt.Errorf("vault: unsupported database kind %v", kind)
	}

	creds := map[string]string{}
	fieldEnvNames := map[string]string{
		"server":   prefix + "_HOST",
		"host":     prefix + "_HOST",
		"database": prefix + "_DATABASE",
		"username": prefix + "_USER",
		"password": prefix + "_PASSWORD",
		"port":     prefix + "_PORT",
	}

	for _, field := range requiredFields[kind] {
		envName := fieldEnvNames[field]
		v, ok := os.LookupEnv(envName)
		if !ok || v == "" {
			return nil, fmt.Errorf("vault: required environment variable %s is not set", envName)
		}
		creds[field] = v
	}

	if kind == dialect.Postgres {
		if v, ok := os.LookupEnv(prefix + "_PORT"); ok && v != "" {
			creds["port"] = v
		} else {
			creds["port"] = "5432"
		}
	}

	return creds, nil
}

var _ CredentialSource = EnvSource{}
