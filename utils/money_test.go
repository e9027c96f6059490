package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundMoneyBankersRounding(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10.005", "10"},
		{"10.015", "10.02"},
		{"10.025", "10.02"},
		{"10.035", "10.04"},
		{"-10.005", "-10"},
		{"1200.00", "1200"},
		{"0.125", "0.12"},
		{"0.135", "0.14"},
	}
	for _, c := range cases {
		got := RoundMoney(decimal.RequireFromString(c.in))
		if got.String() != c.want {
			t.Errorf("RoundMoney(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestPercent(t *testing.T) {
	cases := []struct {
		base string
		pct  string
		want string
	}{
		{"1200.00", "25", "300"},
		{"900.00", "10", "90"},
		{"100.00", "33.33", "33.33"},
		// 0.125% of 100 = 0.125, rounds half-even to 0.12
		{"100.00", "0.125", "0.12"},
		{"0.00", "50", "0"},
	}
	for _, c := range cases {
		got := Percent(decimal.RequireFromString(c.base), decimal.RequireFromString(c.pct))
		if got.String() != c.want {
			t.Errorf("Percent(%s, %s) = %s, want %s", c.base, c.pct, got, c.want)
		}
	}
}
