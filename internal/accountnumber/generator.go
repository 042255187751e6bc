// Package accountnumber generates and validates 20-digit account numbers.
//
// Layout: an 8-digit scheme prefix, a 2-digit checksum, then a 10-digit
// random segment. The checksum is computed with the checksum slot zeroed, so
// it is the value that brings the digit sum of prefix, "00" and segment to a
// multiple of 100.
package accountnumber

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	// Prefix is the personal-account scheme (40817) followed by the currency code (810).
	Prefix = "40817810"

	// Length is the total number of digits in an account number.
	Length = 20

	segmentDigits = 10
)

var segmentRange = new(big.Int).Exp(big.NewInt(10), big.NewInt(segmentDigits), nil)

// Generator draws account numbers from a random source.
// It does not guarantee uniqueness; callers retry on collision.
type Generator struct {
	random io.Reader
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// NewGeneratorWithReader returns a Generator reading randomness from r.
func NewGeneratorWithReader(r io.Reader) *Generator {
	return &Generator{random: r}
}

// Generate returns a fresh checksum-embedded account number.
func (g *Generator) Generate() (string, error) {
	n, err := rand.Int(g.random, segmentRange)
	if err != nil {
		return "", fmt.Errorf("Generate: reading random segment: %w", err)
	}
	segment := fmt.Sprintf("%0*d", segmentDigits, n)
	return Prefix + Checksum(Prefix+"00"+segment) + segment, nil
}

// Checksum returns the two-digit value that would bring the digit sum of raw
// to a multiple of 100. The digits of the checksum itself are not counted.
func Checksum(raw string) string {
	sum := 0
	for _, ch := range raw {
		sum += int(ch - '0')
	}
	return fmt.Sprintf("%02d", (100-sum%100)%100)
}

// Valid reports whether number has the expected shape and a matching checksum.
func Valid(number string) bool {
	if len(number) != Length {
		return false
	}
	for _, ch := range number {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	prefixLen := len(Prefix)
	if number[:prefixLen] != Prefix {
		return false
	}
	check := number[prefixLen : prefixLen+2]
	segment := number[prefixLen+2:]
	return Checksum(Prefix+"00"+segment) == check
}
