package ethaddr

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Length is the size of an address in bytes
const Length = 20

// Address is a 20-byte account address
type Address [Length]byte

// Zero is the "no previous owner" sentinel used in creation events
var Zero Address

// Parse parses a hex address with or without the 0x prefix.
// Mixed-case input must carry a valid EIP-55 checksum.
func Parse(s string) (Address, error) {
	var a Address

	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 2*Length {
		return a, fmt.Errorf("invalid address %q: expected %d hex characters", s, 2*Length)
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[:], b)

	if isMixedCase(raw) && a.Hex() != "0x"+raw {
		return Address{}, fmt.Errorf("invalid address %q: checksum mismatch", s)
	}

	return a, nil
}

// MustParse is Parse for constants and tests
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is the zero address
func (a Address) IsZero() bool {
	return a == Zero
}

// Hex returns the EIP-55 checksummed representation
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - 32
		}
	}

	return "0x" + string(out)
}

// String implements fmt.Stringer
func (a Address) String() string {
	return a.Hex()
}

// MarshalText encodes the checksummed form
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText parses any accepted address form
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value stores addresses as lowercase hex so lookups are case-insensitive
func (a Address) Value() (driver.Value, error) {
	return "0x" + hex.EncodeToString(a[:]), nil
}

// Scan reads an address stored by Value
func (a *Address) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into address", src)
	}
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
