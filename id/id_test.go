package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/entitle/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"TemplateID", id.NewTemplateID, "tpl_"},
		{"CouponID", id.NewCouponID, "cpn_"},
		{"LicenseID", id.NewLicenseID, "lic_"},
		{"AccountID", id.NewAccountID, "acct_"},
		{"UsageEventID", id.NewUsageEventID, "uevt_"},
		{"EventID", id.NewEventID, "evt_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"TemplateID", id.NewTemplateID, id.ParseTemplateID},
		{"CouponID", id.NewCouponID, id.ParseCouponID},
		{"LicenseID", id.NewLicenseID, id.ParseLicenseID},
		{"AccountID", id.NewAccountID, id.ParseAccountID},
		{"UsageEventID", id.NewUsageEventID, id.ParseUsageEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseTemplateID rejects cpn_", id.NewCouponID().String(), id.ParseTemplateID},
		{"ParseCouponID rejects lic_", id.NewLicenseID().String(), id.ParseCouponID},
		{"ParseLicenseID rejects acct_", id.NewAccountID().String(), id.ParseLicenseID},
		{"ParseAccountID rejects tpl_", id.NewTemplateID().String(), id.ParseAccountID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}

	got, err := id.ParseOptional("")
	if err != nil {
		t.Fatalf("ParseOptional(\"\") failed: %v", err)
	}
	if !got.IsNil() {
		t.Error("expected nil ID for empty optional reference")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestCompare(t *testing.T) {
	a := id.MustParse("lic_01h2xcejqtf2nbrexx3vqjhp41")
	b := id.MustParse("lic_01h455vb4pex5vsknk084sn02q")
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 {
		t.Errorf("expected %q < %q", a, b)
	}
	if a.Compare(a) != 0 {
		t.Error("an ID should compare equal to itself")
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewLicenseID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewAccountID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}
}
