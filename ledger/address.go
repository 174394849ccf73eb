package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// ErrInvalidAddress marks account identifiers that fail the ledger's native
// base58-check format.
var ErrInvalidAddress = errors.New("ledger: invalid address")

// The ledger uses its own base58 dictionary. Digits map positionally onto the
// conventional alphabet, so a character-for-character translation lets the
// shared base58 checker do the decode and double-SHA256 checksum work.
const (
	ledgerAlphabet  = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"
	bitcoinAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

var toBitcoinAlphabet = func() map[rune]rune {
	m := make(map[rune]rune, len(ledgerAlphabet))
	for i, r := range ledgerAlphabet {
		m[r] = rune(bitcoinAlphabet[i])
	}
	return m
}()

// accountPrefix is the version byte carried by account identifiers.
const accountPrefix = 0x00

// ValidateAddress checks the structural validity of a ledger account address:
// base58 over the ledger dictionary, a 20-byte account payload behind the
// account version byte, and a valid checksum.
func ValidateAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.HasPrefix(trimmed, "r") {
		return fmt.Errorf("%w: %q must start with r", ErrInvalidAddress, address)
	}
	if len(trimmed) < 25 || len(trimmed) > 35 {
		return fmt.Errorf("%w: %q has invalid length", ErrInvalidAddress, address)
	}
	var translated strings.Builder
	translated.Grow(len(trimmed))
	for _, r := range trimmed {
		mapped, ok := toBitcoinAlphabet[r]
		if !ok {
			return fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidAddress, address, r)
		}
		translated.WriteRune(mapped)
	}
	payload, version, err := base58.CheckDecode(translated.String())
	if err != nil {
		return fmt.Errorf("%w: %q checksum failed", ErrInvalidAddress, address)
	}
	if version != accountPrefix {
		return fmt.Errorf("%w: %q has wrong version byte", ErrInvalidAddress, address)
	}
	if len(payload) != 20 {
		return fmt.Errorf("%w: %q has wrong payload length", ErrInvalidAddress, address)
	}
	return nil
}
