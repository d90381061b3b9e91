package safesql

import (
	"testing"

	"github.com/dbsync/reconcile/pkg/dialect"
)

func TestValidateAccepts(t *testing.T) {
	cases := []string{"customers", "dbo.customers", "_private", "a1_b2", "Schema.Table_1"}
	for _, c := range cases {
		if _, err := Validate(c); err != nil {
			t.Errorf("Validate(%q) unexpected error: %v", c, err)
		}
	}
}

func TestValidateAcceptsBracketedSQLServerForm(t *testing.T) {
	segs, err := Validate("[dbo].[orders]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 || segs[0] != "dbo" || segs[1] != "orders" {
		t.Errorf("got %v", segs)
	}
}

func TestValidateRejectsInjectionFixtures(t *testing.T) {
	cases := []string{
		"",
		"customers; DROP TABLE users--",
		"customers'; DROP TABLE users; --",
		"cus tomers",
		"cústomers",
		"customers\x00",
		"a.b.c",
		"1customers",
		`"customers"`,
		"customers--",
		"customers/*x*/",
	}
	for _, c := range cases {
		if _, err := Validate(c); err == nil {
			t.Errorf("Validate(%q) expected error, got nil", c)
		} else if _, ok := err.(*InvalidIdentifierError); !ok {
			t.Errorf("Validate(%q) error type = %T, want *InvalidIdentifierError", c, err)
		}
	}
}

func TestQuoteIdentifierPostgres(t *testing.T) {
	pg, _ := dialect.New(dialect.Postgres)
	got, err := QuoteIdentifier(pg, "dbo.orders")
	if err != nil {
		t.Fatal(err)
	}
	if want := `"dbo"."orders"`; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestQuoteIdentifierSQLServer(t *testing.T) {
	ss, _ := dialect.New(dialect.SQLServer)
	got, err := QuoteIdentifier(ss, "dbo.orders")
	if err != nil {
		t.Fatal(err)
	}
	if want := `[dbo].[orders]`; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestMaxLengthIdentifierAccepted(t *testing.T) {
	name := ""
	for i := 0; i < 128; i++ {
		name += "a"
	}
	if _, err := Validate(name); err != nil {
		t.Errorf("128-char identifier rejected: %v", err)
	}
}

func TestValidateNonNegativeInt(t *testing.T) {
	if err := ValidateNonNegativeInt("chunk_size", 10000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateNonNegativeInt("chunk_size", -1); err == nil {
		t.Error("expected error for negative value")
	}
}
