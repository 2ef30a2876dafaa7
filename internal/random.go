// Package internal holds random-material helpers shared by the engine.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
)

// NumericCode returns a uniformly random decimal code of the given
// length. Each digit is drawn independently so leading zeros are as
// likely as any other digit.
func NumericCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// HashCode is the canonical digest used when a one-time code is stored
// server side.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
