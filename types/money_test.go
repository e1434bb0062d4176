package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"JPY", JPY(100), 100, "jpy", "¥100"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
		{"Zero default", Zero(""), 0, "usd", "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     Money
	}{
		{"50.00", "usd", USD(5000)},
		{"2", "usd", USD(200)},
		{" 0.995 ", "usd", USD(100)},
		{"0", "", USD(0)},
		{"1500", "jpy", JPY(1500)},
		{"-3.50", "eur", EUR(-350)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in, tt.currency)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := ParseMoney("free", "usd"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}

func TestMoneyScale(t *testing.T) {
	tests := []struct {
		name   string
		base   Money
		factor string
		want   Money
	}{
		{"half", USD(5000), "0.5", USD(2500)},
		{"free", USD(5000), "0", USD(0)},
		{"rounds", USD(999), "0.15", USD(150)},
		{"identity", EUR(1234), "1", EUR(1234)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.base.Scale(decimal.RequireFromString(tt.factor))
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Multiply", func() Money { return USD(200).Multiply(2) }, USD(400)},
		{"Add to blank currency", func() Money { return Money{}.Add(EUR(5)) }, EUR(5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	_ = USD(100).Add(EUR(100))
}

func TestMoneyEqual(t *testing.T) {
	if !USD(0).Equal(Money{}) {
		t.Error("zero amounts should compare equal across currencies")
	}
	if !USD(400).Equal(Money{Amount: 400, Currency: "USD"}) {
		t.Error("currency comparison should be case-insensitive")
	}
	if USD(400).Equal(EUR(400)) {
		t.Error("different currencies should not compare equal")
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(400))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"amount":400,"currency":"usd","display":"$4.00"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != USD(400) {
		t.Errorf("decoded %v", back)
	}
}

func TestTypedErrors(t *testing.T) {
	cfg := &ConfigurationError{Field: "period", Value: "fortnightly"}
	if !errors.Is(cfg, ErrConfiguration) {
		t.Error("ConfigurationError should match ErrConfiguration")
	}

	var err error = ValidationError{Field: "uses_max", Message: "exceeded"}
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}

	err = &PaymentMismatchError{LicenseID: "lic_x", Expected: USD(100), Got: USD(50)}
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Error("PaymentMismatchError should match ErrPaymentMismatch")
	}
}

func TestValidate(t *testing.T) {
	type sample struct {
		Name  string `validate:"required"`
		Price Money  `validate:"nonneg_money"`
	}

	if err := Validate(sample{Name: "x", Price: USD(1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := Validate(sample{Price: USD(1)})
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Field != "name" {
		t.Errorf("expected name validation error, got %v", err)
	}

	err = Validate(sample{Name: "x", Price: USD(-1)})
	if !errors.As(err, &ve) || ve.Field != "price" {
		t.Errorf("expected price validation error, got %v", err)
	}
}
