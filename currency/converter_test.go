package currency

import (
	"errors"
	"math/big"
	"testing"
)

func newTestConverter(t *testing.T, rate string) *Converter {
	t.Helper()
	conv, err := NewConverter(rate)
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}
	return conv
}

func TestNewConverterRejectsBadRates(t *testing.T) {
	for _, rate := range []string{"", "0", "-1.5", "abc"} {
		if _, err := NewConverter(rate); err == nil {
			t.Fatalf("expected error for rate %q", rate)
		}
	}
}

func TestToSettlementFixedRate(t *testing.T) {
	conv := newTestConverter(t, "0.50")
	got, err := conv.ToSettlement("100.00")
	if err != nil {
		t.Fatalf("to settlement: %v", err)
	}
	if got != "200.000000" {
		t.Fatalf("unexpected settlement amount %s", got)
	}
}

func TestToDropsIntegral(t *testing.T) {
	conv := newTestConverter(t, "2")
	drops, err := conv.ToDrops("3.50")
	if err != nil {
		t.Fatalf("to drops: %v", err)
	}
	if drops != "1750000" {
		t.Fatalf("unexpected drops %s", drops)
	}
}

func TestInvalidAmounts(t *testing.T) {
	conv := newTestConverter(t, "0.5")
	for _, amount := range []string{"", "junk", "-1"} {
		if _, err := conv.ToSettlement(amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %q, got %v", amount, err)
		}
		if _, err := conv.ToContract(amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %q, got %v", amount, err)
		}
	}
	if _, err := conv.FromDrops("12.5"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for fractional drops, got %v", err)
	}
}

func TestRoundTripWithinTolerance(t *testing.T) {
	conv := newTestConverter(t, "0.5213")
	tolerance := big.NewRat(1, 100)
	for _, amount := range []string{"0.01", "1.00", "99.99", "100", "250.00", "1234.56", "100000.01"} {
		settled, err := conv.ToSettlement(amount)
		if err != nil {
			t.Fatalf("to settlement %s: %v", amount, err)
		}
		back, err := conv.ToContract(settled)
		if err != nil {
			t.Fatalf("to contract %s: %v", settled, err)
		}
		want, _ := new(big.Rat).SetString(amount)
		got, _ := new(big.Rat).SetString(back)
		diff := new(big.Rat).Sub(want, got)
		if diff.Sign() < 0 {
			diff.Neg(diff)
		}
		if diff.Cmp(tolerance) > 0 {
			t.Fatalf("round trip of %s drifted to %s", amount, back)
		}
	}
}

func TestDropsRoundTrip(t *testing.T) {
	conv := newTestConverter(t, "0.52")
	drops, err := conv.ToDrops("100.00")
	if err != nil {
		t.Fatalf("to drops: %v", err)
	}
	back, err := conv.FromDrops(drops)
	if err != nil {
		t.Fatalf("from drops: %v", err)
	}
	if back != "100.00" {
		t.Fatalf("drops round trip produced %s", back)
	}
}
