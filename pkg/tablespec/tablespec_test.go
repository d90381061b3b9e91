package tablespec

import "testing"

func TestNewValidatesBothSides(t *testing.T) {
	if _, err := New("dbo.customers", "customers"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New("customers; DROP TABLE users--", "customers"); err == nil {
		t.Fatal("expected error for injected source identifier")
	}
	if _, err := New("customers", "customers; DROP TABLE users--"); err == nil {
		t.Fatal("expected error for injected target identifier")
	}
}

func TestParseListCSV(t *testing.T) {
	specs, err := ParseList("dbo.customers, orders , dbo.products=products")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("got %d specs, want 3", len(specs))
	}
	if specs[0].SourceIdentifier != "dbo.customers" || specs[0].TargetIdentifier != "dbo.customers" {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[2].SourceIdentifier != "dbo.products" || specs[2].TargetIdentifier != "products" {
		t.Errorf("specs[2] = %+v", specs[2])
	}
}

func TestParseListRejectsInjection(t *testing.T) {
	if _, err := ParseList("customers; DROP TABLE users--"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseListIgnoresBlankEntries(t *testing.T) {
	specs, err := ParseList("customers,,orders,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
}

func TestName(t *testing.T) {
	s, _ := New("customers", "customers")
	if s.Name() != "customers" {
		t.Errorf("Name() = %q", s.Name())
	}
	s2, _ := New("dbo.customers", "customers")
	if s2.Name() != "dbo.customers->customers" {
		t.Errorf("Name() = %q", s2.Name())
	}
}
