package currency

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// ContractScale is the number of fractional digits carried by contract
	// currency amounts.
	ContractScale = 2
	// SettlementScale is the number of fractional digits carried by
	// settlement asset amounts.
	SettlementScale = 6
)

// ErrInvalidAmount marks amounts that cannot be parsed or are negative.
var ErrInvalidAmount = errors.New("currency: invalid amount")

var dropsPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(SettlementScale), nil)

// Converter translates between the contract currency and the settlement asset
// using a fixed rate expressed as contract units per one settlement unit. The
// rate is configuration and never changes for the lifetime of the converter.
type Converter struct {
	rate    *big.Rat
	rateStr string
}

// NewConverter parses the supplied decimal rate and returns a converter.
func NewConverter(rate string) (*Converter, error) {
	r, err := parseDecimal(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate: %w", err)
	}
	if r.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive", ErrInvalidAmount)
	}
	return &Converter{rate: r, rateStr: strings.TrimSpace(rate)}, nil
}

// Rate returns the configured rate string.
func (c *Converter) Rate() string { return c.rateStr }

// ToSettlement converts a contract currency amount into the settlement asset,
// quantized to SettlementScale fractional digits.
func (c *Converter) ToSettlement(contractAmount string) (string, error) {
	amt, err := parseDecimal(contractAmount)
	if err != nil {
		return "", err
	}
	if amt.Sign() < 0 {
		return "", fmt.Errorf("%w: amount must not be negative", ErrInvalidAmount)
	}
	settled := new(big.Rat).Quo(amt, c.rate)
	return formatRat(quantize(settled, SettlementScale), SettlementScale), nil
}

// ToContract converts a settlement asset amount back into the contract
// currency, quantized to ContractScale fractional digits.
func (c *Converter) ToContract(settlementAmount string) (string, error) {
	amt, err := parseDecimal(settlementAmount)
	if err != nil {
		return "", err
	}
	if amt.Sign() < 0 {
		return "", fmt.Errorf("%w: amount must not be negative", ErrInvalidAmount)
	}
	contract := new(big.Rat).Mul(amt, c.rate)
	return formatRat(quantize(contract, ContractScale), ContractScale), nil
}

// ToDrops converts a contract currency amount into integer settlement
// micro-units, the denomination actually locked on the ledger.
func (c *Converter) ToDrops(contractAmount string) (string, error) {
	settlement, err := c.ToSettlement(contractAmount)
	if err != nil {
		return "", err
	}
	r, err := parseDecimal(settlement)
	if err != nil {
		return "", err
	}
	drops := new(big.Rat).Mul(r, new(big.Rat).SetInt(dropsPerUnit))
	if !drops.IsInt() {
		return "", fmt.Errorf("%w: non integral drop amount %s", ErrInvalidAmount, drops.RatString())
	}
	return drops.Num().String(), nil
}

// FromDrops converts integer settlement micro-units into a contract currency
// amount.
func (c *Converter) FromDrops(drops string) (string, error) {
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimSpace(drops), 10); !ok {
		return "", fmt.Errorf("%w: cannot parse drops %q", ErrInvalidAmount, drops)
	}
	if n.Sign() < 0 {
		return "", fmt.Errorf("%w: drops must not be negative", ErrInvalidAmount)
	}
	settlement := new(big.Rat).SetFrac(n, dropsPerUnit)
	return c.ToContract(formatRat(settlement, SettlementScale))
}

func parseDecimal(v string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	r := new(big.Rat)
	if _, ok := r.SetString(trimmed); !ok {
		return nil, fmt.Errorf("%w: cannot parse %q", ErrInvalidAmount, v)
	}
	return r, nil
}

// quantize rounds half away from zero to the requested number of fractional
// digits.
func quantize(r *big.Rat, scale int) *big.Rat {
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(pow))
	num := new(big.Int).Set(scaled.Num())
	den := new(big.Int).Set(scaled.Denom())
	twice := new(big.Int).Mul(num, big.NewInt(2))
	twice.Add(twice, den)
	rounded := new(big.Int).Div(twice, new(big.Int).Mul(den, big.NewInt(2)))
	return new(big.Rat).SetFrac(rounded, pow)
}

func formatRat(r *big.Rat, scale int) string {
	return r.FloatString(scale)
}
