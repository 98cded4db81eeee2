package tds

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestParserRegistry(t *testing.T) {
	reg := NewParserRegistry()
	for _, d := range BuiltinTypes() {
		reg.Refresh(d)
	}

	for _, name := range []string{"decimal", "NUMERIC", "Money", "uniqueidentifier", "datetime2", "bit"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("Lookup(%q) = false", name)
		}
	}
	if _, ok := reg.Lookup("geography"); ok {
		t.Error("Lookup(geography) = true")
	}

	reg.Clear()
	if reg.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", reg.Len())
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"bytes", []byte("12.3400"), "12.34"},
		{"string", "-0.5", "-0.5"},
		{"int", int64(42), "42"},
		{"float", 1.25, "1.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDecimal(tt.raw)
			if err != nil {
				t.Fatalf("parseDecimal() error = %v", err)
			}
			d, ok := got.(decimal.Decimal)
			if !ok {
				t.Fatalf("parseDecimal() = %T, want decimal.Decimal", got)
			}
			if d.String() != tt.want {
				t.Errorf("parseDecimal() = %s, want %s", d.String(), tt.want)
			}
		})
	}

	if _, err := parseDecimal(struct{}{}); err == nil {
		t.Error("parseDecimal(struct) expected error")
	}
}

func TestParseUniqueIdentifier(t *testing.T) {
	want := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	wire := []byte{0xff, 0x19, 0x96, 0x6f, 0x86, 0x8b, 0x11, 0xd0, 0xb4, 0x2d, 0x00, 0xc0, 0x4f, 0xc9, 0x64, 0xff}

	got, err := parseUniqueIdentifier(wire)
	if err != nil {
		t.Fatalf("parseUniqueIdentifier() error = %v", err)
	}
	if got != want {
		t.Errorf("parseUniqueIdentifier() = %v, want %v", got, want)
	}

	got, err = parseUniqueIdentifier(want.String())
	if err != nil || got != want {
		t.Errorf("parseUniqueIdentifier(string) = %v, %v", got, err)
	}
}

func TestParseTimeAndBit(t *testing.T) {
	ts, err := parseTime("2024-03-01T10:00:00.5+01:00")
	if err != nil {
		t.Fatalf("parseTime() error = %v", err)
	}
	if got := ts.(time.Time).UTC().Hour(); got != 9 {
		t.Errorf("hour = %d, want 9", got)
	}

	for raw, want := range map[any]bool{true: true, int64(0): false, int64(1): true} {
		got, err := parseBit(raw)
		if err != nil || got != want {
			t.Errorf("parseBit(%v) = %v, %v, want %v", raw, got, err, want)
		}
	}
}
