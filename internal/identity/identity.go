// Package identity implements the 13-symbol HEX32 id scheme used for every
// node in the memory graph. Ids are the FNV-1a x64 hash of either a random
// UUID or a caller-supplied string, encoded in a 32-symbol alphabet.
package identity

import (
	"errors"
	"math"

	"github.com/google/uuid"
)

// Alphabet is the 32-symbol HEX32 alphabet, 5 bits per symbol.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUV"

// IDLength is the fixed length of an encoded id.
const IDLength = 13

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

var ErrInvalidID = errors.New("invalid HEX32 id")

// fnv1a64 hashes data with FNV-1a x64.
func fnv1a64(data []byte) uint64 {
	h := fnvOffset
	for _, b := range data {
		h ^= uint64(b)
		h *= fnvPrime
	}
	return h
}

// mixedEndian reorders the 16 UUID bytes into the canonical GUID byte layout:
// groups 1-3 little-endian, groups 4-5 big-endian. Kept for compatibility with
// external reference implementations that hash GUIDs in this layout.
func mixedEndian(u uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

// encode writes a 64-bit value as 13 HEX32 symbols, most significant first.
// 13 symbols carry 65 bits, so the first symbol only ever uses 4 bits and
// stays within 0-F.
func encode(h uint64) string {
	out := make([]byte, IDLength)
	for i := 0; i < IDLength; i++ {
		shift := uint(5 * (IDLength - 1 - i))
		out[i] = Alphabet[(h>>shift)&31]
	}
	return string(out)
}

// GenerateID returns a new random id.
func GenerateID() string {
	return encode(fnv1a64(mixedEndian(uuid.New())))
}

// GenerateIDFromString returns the deterministic id for s. The same input
// always yields the same id.
func GenerateIDFromString(s string) string {
	return encode(fnv1a64([]byte(s)))
}

// Hash returns the raw 64-bit hash for s.
func Hash(s string) uint64 {
	return fnv1a64([]byte(s))
}

// Decode parses a valid id back into its 64-bit hash.
func Decode(id string) (uint64, error) {
	if !Validate(id) {
		return 0, ErrInvalidID
	}
	var h uint64
	for i := 0; i < IDLength; i++ {
		h = h<<5 | uint64(symbolValue(id[i]))
	}
	return h, nil
}

// PartitionKey returns the leading length symbols of id.
func PartitionKey(id string, length int) string {
	if length <= 0 || length > len(id) {
		return id
	}
	return id[:length]
}

// PartitionNumber maps the hash of id into [0, count).
func PartitionNumber(id string, count int) (int, error) {
	if count <= 0 {
		return 0, errors.New("partition count must be positive")
	}
	h, err := Decode(id)
	if err != nil {
		return 0, err
	}
	return int(h / (math.MaxUint64/uint64(count) + 1)), nil
}

// symbolValue returns the 5-bit value of a symbol, or -1 if the symbol is
// outside the alphabet. Lowercase is accepted.
func symbolValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'V':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'v':
		return int(c-'a') + 10
	default:
		return -1
	}
}

// Validate reports whether id is a well-formed HEX32 id: exactly 13 symbols
// of the alphabet, with the first symbol in 0-9A-F so the decoded value fits
// in 64 bits. A G-V first symbol would silently truncate on decode, so it is
// rejected here.
func Validate(id string) bool {
	if len(id) != IDLength {
		return false
	}
	first := symbolValue(id[0])
	if first < 0 || first > 15 {
		return false
	}
	for i := 1; i < IDLength; i++ {
		if symbolValue(id[i]) < 0 {
			return false
		}
	}
	return true
}
