// Package idgen generates opaque row identifiers with a type prefix
// (batch_, atom_, run_, job_, out_, lbl_, cls_, raw_, pv_).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// New returns a fresh identifier "prefix_xxxxxxxxxxxx" with 12 hex
// chars of entropy.
func New(prefix string) string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("idgen: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(b[:])
}
