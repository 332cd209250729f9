// README: Pickup PIN generation.
package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// PINSource issues the per-store pickup codes.
type PINSource interface {
	NewPIN() (string, error)
}

// RandomPINs draws zero-padded numeric PINs from crypto/rand.
type RandomPINs struct {
	Digits int
}

func (r RandomPINs) NewPIN() (string, error) {
	digits := r.Digits
	if digits < 4 || digits > 6 {
		digits = 4
	}
	limit := big.NewInt(1)
	for i := 0; i < digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("order: generate pin: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
