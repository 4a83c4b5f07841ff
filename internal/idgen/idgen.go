// Package idgen generates order identifiers and payment references from crypto/rand.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	// OrderPrefix prefixes every order id.
	OrderPrefix = "ord_"
	// ReferencePrefix prefixes every payment reference.
	ReferencePrefix = "PAY"
)

func random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// Hex returns numBytes random bytes as lowercase hex.
func Hex(numBytes int) string {
	return hex.EncodeToString(random(numBytes))
}

// WithPrefix returns prefix followed by 24 random hex chars.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// OrderID returns a fresh order id such as "ord_3f1c...".
func OrderID() string {
	return WithPrefix(OrderPrefix)
}

// PaymentReference builds a reference that embeds a short fragment of the
// order id plus a random suffix, e.g. "PAY-3F1C9A2B-7D0E44A1B2C3".
// Collisions are possible in principle and callers must handle them.
func PaymentReference(orderID string) string {
	frag := strings.TrimPrefix(orderID, OrderPrefix)
	if len(frag) > 8 {
		frag = frag[:8]
	}
	if frag == "" {
		frag = Hex(4)
	}
	return strings.ToUpper(ReferencePrefix + "-" + frag + "-" + Hex(6))
}
