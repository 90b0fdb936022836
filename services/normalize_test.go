package services

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pricewatch/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"3.50", "3.5"},
		{"3,50 MAD", "3.5"},
		{"$120 each", "120"},
		{"฿3,500", "3500"},
		{"$1,200.50", "1200.5"},
		{"1.200,50 €", "1200.5"},
		{"1.234.567", "1234567"},
		{"USD 99", "99"},
		{"12 DH.", "12"},
		{"2.499", "2499"},
		{"2.4999,1", "24999.1"},
		{"9,9", "9.9"},
		{"0.125", "0.13"},
		{"0,500 kg", "0.5"},
		{"3.50 - 4.00", "3.5"},
	}

	for _, tt := range tests {
		got, err := ParsePrice(tt.raw)
		if err != nil {
			t.Errorf("ParsePrice(%q) error: %v", tt.raw, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParsePrice(%q) = %s; want %s", tt.raw, got.String(), tt.want)
		}
	}
}

func TestParsePriceRejects(t *testing.T) {
	for _, raw := range []string{"", "free", "0", "0,00", "-", "-3.50", "- 3,50 dh", "MAD -12", "0.001"} {
		_, err := ParsePrice(raw)
		var verr *models.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("ParsePrice(%q): want ValidationError, got %v", raw, err)
		}
	}
}

func TestValidPrice(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"1.234", "1.23", false},
		{"0.125", "0.13", false},
		{"1200", "1200", false},
		{"-3.5", "", true},
		{"0.004", "", true},
		{"0", "", true},
	}

	for _, tt := range tests {
		got, err := ValidPrice(decimal.RequireFromString(tt.raw))
		if tt.wantErr {
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("ValidPrice(%s): want ValidationError, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidPrice(%s) error: %v", tt.raw, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ValidPrice(%s) = %s; want %s", tt.raw, got.String(), tt.want)
		}
	}
}
