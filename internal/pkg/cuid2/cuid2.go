// Package cuid2 generates collision-resistant, time-sortable row ids.
package cuid2

import (
	crypto_rand "crypto/rand"
	"strings"
	"time"
)

// Base62 alphabet: 0-9, A-Z, a-z (62 characters)
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const randomLength = 18

// EncodeTimestamp encodes a Unix timestamp (seconds) as a 6-character base62
// string. Output is lexicographically sortable for timestamps up to ~56
// billion seconds past the epoch.
func EncodeTimestamp(timestampSeconds int64) string {
	n := timestampSeconds
	result := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		result[i] = base62Alphabet[n%62]
		n = n / 62
	}
	return string(result)
}

// New generates a prefixed id with a time-sortable base62 timestamp followed
// by 18 random base62 characters, e.g. "lst_1rK5iq8kJ2mN4pQ6rS0tU3vW".
// The timestamp prefix keeps B-tree index writes localized.
func New(prefix string) string {
	return prefix + "_" + EncodeTimestamp(time.Now().Unix()) + randomBase62(randomLength)
}

// randomBase62 produces length uniformly distributed base62 characters using
// 6-bit extraction with rejection sampling (values 62-63 are discarded).
func randomBase62(length int) string {
	bytesNeeded := (length*6)/8 + 4
	buf := make([]byte, bytesNeeded)
	if _, err := crypto_rand.Read(buf); err != nil {
		panic("cuid2: failed to read random bytes: " + err.Error())
	}

	var result strings.Builder
	bitBuffer := uint64(0)
	bitsInBuffer := uint(0)
	byteIndex := 0

	for result.Len() < length {
		for bitsInBuffer < 6 && byteIndex < len(buf) {
			bitBuffer = (bitBuffer << 8) | uint64(buf[byteIndex])
			bitsInBuffer += 8
			byteIndex++
		}

		value := (bitBuffer >> (bitsInBuffer - 6)) & 0x3f
		bitsInBuffer -= 6

		if value < 62 {
			result.WriteByte(base62Alphabet[value])
		}

		if byteIndex >= len(buf) && result.Len() < length {
			if _, err := crypto_rand.Read(buf); err != nil {
				panic("cuid2: failed to read random bytes: " + err.Error())
			}
			byteIndex = 0
			bitBuffer = 0
			bitsInBuffer = 0
		}
	}

	return result.String()
}
