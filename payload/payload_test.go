package payload_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

func TestParse_Compacts(t *testing.T) {
	v, err := payload.Parse([]byte("  {\n \"count\" : 3 }\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := v.String(); got != `{"count":3}` {
		t.Errorf("String() = %q, want compact form", got)
	}
	if v.Kind() != payload.KindObject {
		t.Errorf("Kind() = %q, want object", v.Kind())
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "{", "not json", `{"a":1} {"b":2}`} {
		if _, err := payload.Parse([]byte(in)); !errors.Is(err, payload.ErrInvalid) {
			t.Errorf("Parse(%q) = %v, want ErrInvalid", in, err)
		}
	}
}

func TestZeroValue(t *testing.T) {
	var v payload.Value
	if !v.IsNull() {
		t.Fatal("zero Value should be null")
	}
	if v.Kind() != payload.KindNull {
		t.Errorf("Kind() = %q", v.Kind())
	}
	if v.String() != "null" {
		t.Errorf("String() = %q", v.String())
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		in   string
		want payload.Kind
	}{
		{`{}`, payload.KindObject},
		{`[1,2]`, payload.KindArray},
		{`"x"`, payload.KindString},
		{`-1.5`, payload.KindNumber},
		{`true`, payload.KindBool},
		{`null`, payload.KindNull},
	}
	for _, tt := range tests {
		if got := payload.MustParse(tt.in).Kind(); got != tt.want {
			t.Errorf("Kind(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSelect(t *testing.T) {
	v := payload.MustParse(`{"Payload":{"count":3},"images":[{"repo":"nginx"},{"repo":"redis"}]}`)

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"root", "$", v.String()},
		{"empty", "", v.String()},
		{"object", "$.Payload", `{"count":3}`},
		{"scalar", "$.Payload.count", `3`},
		{"wildcard", "$.images[*].repo", `["nginx","redis"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Select(tt.expr)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Select(%q) = %s, want %s", tt.expr, got, tt.want)
			}
		})
	}
}

func TestSelect_NoMatch(t *testing.T) {
	v := payload.MustParse(`{"count":3}`)
	if _, err := v.Select("$.Payload"); !errors.Is(err, payload.ErrNoMatch) {
		t.Fatalf("Select = %v, want ErrNoMatch", err)
	}
}

func TestSelect_BadPath(t *testing.T) {
	if err := payload.ValidatePath("$.a["); err == nil {
		t.Fatal("expected invalid path error")
	}
}

func TestUnmarshal_UsesNumbers(t *testing.T) {
	v := payload.MustParse(`{"count":12345678901234567890}`)
	var out map[string]any
	if err := v.Unmarshal(&out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	n, ok := out["count"].(json.Number)
	if !ok {
		t.Fatalf("count is %T, want json.Number", out["count"])
	}
	if n.String() != "12345678901234567890" {
		t.Errorf("count = %s", n)
	}
}

func TestJSONEmbedding(t *testing.T) {
	type envelope struct {
		Data payload.Value `json:"data"`
	}
	in := envelope{Data: payload.MustParse(`{"signed":3}`)}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"data":{"signed":3}}` {
		t.Errorf("Marshal = %s", b)
	}

	var out envelope
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Data.Equal(in.Data) {
		t.Errorf("round trip = %s, want %s", out.Data, in.Data)
	}
}

func TestScan(t *testing.T) {
	var v payload.Value
	if err := v.Scan([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.String() != `{"a":1}` {
		t.Errorf("Scan = %s", v)
	}
	if err := v.Scan(nil); err != nil || !v.IsNull() {
		t.Errorf("Scan(nil) = %v, null=%v", err, v.IsNull())
	}
	if err := v.Scan(3); err == nil {
		t.Error("expected error scanning int")
	}
}
