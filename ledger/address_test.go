package ledger

import (
	"errors"
	"testing"
)

func TestValidateAddressAccepts(t *testing.T) {
	for _, addr := range []string{
		"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		"rrrrrrrrrrrrrrrrrrrrBZbvji",
		"rrrrrrrrrrrrrrrrrrrrrhoLvTp",
	} {
		if err := ValidateAddress(addr); err != nil {
			t.Fatalf("expected %q valid, got %v", addr, err)
		}
	}
}

func TestValidateAddressRejects(t *testing.T) {
	cases := []string{
		"",
		"r123",
		"xHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTi",
		"rHb9CJAWyB4rj91VRWn96DkukG4bwdty0h",
	}
	for _, addr := range cases {
		err := ValidateAddress(addr)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress for %q, got %v", addr, err)
		}
	}
}
