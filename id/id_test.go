package id_test

import (
	"strings"
	"testing"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  string
	}{
		{"ExecutionID", id.NewExecutionID, id.ParseExecutionID, "exec_"},
		{"RecordID", id.NewRecordID, id.ParseRecordID, "rec_"},
		{"TriggerID", id.NewTriggerID, id.ParseTriggerID, "trg_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn()
			if !strings.HasPrefix(got.String(), tt.prefix) {
				t.Fatalf("expected prefix %q, got %q", tt.prefix, got)
			}
			parsed, err := tt.parseFn(got.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed.String() != got.String() {
				t.Errorf("round trip: got %q, want %q", parsed, got)
			}
		})
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	exec := id.NewExecutionID()
	if _, err := id.ParseTriggerID(exec.String()); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestNil(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Fatal("zero value should be nil")
	}
	if i.String() != "" {
		t.Errorf("String() = %q, want empty", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestTextRoundTrip(t *testing.T) {
	orig := id.NewRecordID()
	b, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var got id.ID
	if err := got.UnmarshalText(b); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got.String() != orig.String() {
		t.Errorf("got %q, want %q", got, orig)
	}
}

func TestScan(t *testing.T) {
	orig := id.NewTriggerID()

	tests := []struct {
		name string
		src  any
		nil  bool
	}{
		{"string", orig.String(), false},
		{"bytes", []byte(orig.String()), false},
		{"nil", nil, true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got id.ID
			if err := got.Scan(tt.src); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if got.IsNil() != tt.nil {
				t.Errorf("IsNil() = %v, want %v", got.IsNil(), tt.nil)
			}
		})
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
