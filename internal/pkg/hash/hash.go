// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// Fingerprint hashes an ordered list of parts into a short stable key.
// Parts are length-prefixed so ("ab","c") and ("a","bc") differ.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Uint64 maps (seed, key) to a deterministic 64-bit value.
func Uint64(seed int64, key string) uint64 {
	h := sha256.Sum256([]byte(strconv.FormatInt(seed, 10) + ":" + key))
	return binary.BigEndian.Uint64(h[:8])
}

// Unit maps (seed, key) to a deterministic value in [0, 1).
func Unit(seed int64, key string) float64 {
	v := Uint64(seed, key) >> 11 // 53 bits
	return float64(v) / float64(uint64(1)<<53)
}
