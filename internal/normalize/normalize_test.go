package normalize

import (
	"errors"
	"testing"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

func TestName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"1 Validator A", "Validator A"},
		{"12  3 Validator A", "Validator A"},
		{"NEW Chorus One", "Chorus One"},
		{"5 NEW   Chorus   One ", "Chorus One"},
		{"  Everstake\t\n", "Everstake"},
		{"P2P.ORG - P2P Validator", "P2P.ORG - P2P Validator"},
		{"NEWTON Staking", "NEWTON Staking"},
		{"Staking NEW", "Staking"},
		{"validator a", "validator a"},
		{"2024Labs", "2024Labs"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Name(tt.raw); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNameIdempotent(t *testing.T) {
	for _, raw := range []string{"1 NEW Validator A", "3 4 Foo  Bar", "NEW"} {
		once := Name(raw)
		if twice := Name(once); twice != once {
			t.Errorf("Name(Name(%q)) = %q, want %q", raw, twice, once)
		}
	}
}

func TestChainKey(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Terra Classic", "terra classic"},
		{"terra-classic", "terra classic"},
		{"Cronos Pos", "cronos pos"},
		{"cronos-pos", "cronos pos"},
		{"dYdX", "dydx"},
		{"HAQQ!", "haqq"},
	}
	for _, tt := range tests {
		if got := ChainKey(tt.raw); got != tt.want {
			t.Errorf("ChainKey(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestValidURL(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://chorus.one", true},
		{"http://example.com/path?q=1", true},
		{"", false},
		{"mailto:ops@example.com", false},
		{"example.com", false},
		{"/relative/path", false},
		{"https://", false},
		{"://broken", false},
	}
	for _, tt := range tests {
		if got := ValidURL(tt.raw); got != tt.want {
			t.Errorf("ValidURL(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"100", "100"},
		{"1,234.5 TIA", "1234.5"},
		{"$98.10\n≈ $1,000", "98.1"},
	}
	for _, tt := range tests {
		got, err := Amount(tt.raw)
		if err != nil {
			t.Fatalf("Amount(%q) error: %v", tt.raw, err)
		}
		if got.String() != tt.want {
			t.Errorf("Amount(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}

	for _, raw := range []string{"", "n/a", "1.2.3"} {
		if _, err := Amount(raw); !errors.Is(err, domain.ErrMalformedRow) {
			t.Errorf("Amount(%q) error = %v, want ErrMalformedRow", raw, err)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"5.2%", 5.2},
		{" 10 % ", 10},
		{"0.05", 0.05},
	}
	for _, tt := range tests {
		got, err := Percent(tt.raw)
		if err != nil {
			t.Fatalf("Percent(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("Percent(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if _, err := Percent("—"); !errors.Is(err, domain.ErrMalformedRow) {
		t.Errorf("Percent(dash) error = %v, want ErrMalformedRow", err)
	}
}

func TestOptionalPercent(t *testing.T) {
	got, err := OptionalPercent(nil)
	if err != nil || got != nil {
		t.Errorf("OptionalPercent(nil) = %v, %v; want nil, nil", got, err)
	}
	blank := "  "
	got, err = OptionalPercent(&blank)
	if err != nil || got != nil {
		t.Errorf("OptionalPercent(blank) = %v, %v; want nil, nil", got, err)
	}
	fee := "5%"
	got, err = OptionalPercent(&fee)
	if err != nil || got == nil || *got != 5 {
		t.Errorf("OptionalPercent(5%%) = %v, %v; want 5", got, err)
	}
}
