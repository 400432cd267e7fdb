// Package asset implements the content-addressed identifier used by the
// blob store: a 160-bit hash digest with a Base36 canonical text form.
package asset

import (
	"crypto/sha1"
	"errors"
	"math/big"
	"strings"
)

// ErrInvalidID is returned by Parse when the input is not valid base36.
var ErrInvalidID = errors.New("asset: invalid id")

// ErrOverflow is returned by Parse when the decoded integer exceeds 2^160-1.
var ErrOverflow = errors.New("asset: id overflow")

// Size is the width of an ID in bytes (160 bits).
const Size = 20

// digits is the zero-padded Base36 digit count for 2^160-1.
const digits = 31

// groupWidths is the 6-6-6-6-7 hyphenated grouping of the 31 digits.
var groupWidths = [5]int{6, 6, 6, 6, 7}

// ID is a 160-bit content hash. Two IDs are equal iff their bytes are equal.
type ID [Size]byte

// FromData derives an ID from a cryptographic hash of the payload. SHA-1
// produces exactly 160 bits, so no truncation is needed to fit the digest
// into the ID's fixed width.
func FromData(data []byte) ID {
	return ID(sha1.Sum(data))
}

// String renders the canonical form: five hyphen-separated Base36 groups of
// widths 6-6-6-6-7 (31 digits total, zero-padded).
func (id ID) String() string {
	n := new(big.Int).SetBytes(id[:])
	padded := fmt36(n)

	var b strings.Builder
	b.Grow(36)
	pos := 0
	for i, w := range groupWidths {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(padded[pos : pos+w])
		pos += w
	}
	return b.String()
}

func fmt36(n *big.Int) string {
	s := n.Text(36)
	if len(s) < digits {
		s = strings.Repeat("0", digits-len(s)) + s
	}
	return s
}

// Parse accepts the canonical hyphenated form, a continuous string with no
// hyphens, and a leading "asset-"/"asset/"/"image-"/"image/" type prefix.
func Parse(s string) (ID, error) {
	clean := strings.TrimSpace(s)
	for _, prefix := range [...]string{"asset-", "asset/", "image-", "image/"} {
		if strings.HasPrefix(clean, prefix) {
			clean = clean[len(prefix):]
			break
		}
	}
	clean = strings.ReplaceAll(clean, "-", "")

	n, ok := new(big.Int).SetString(clean, 36)
	if !ok {
		return ID{}, ErrInvalidID
	}
	if n.Sign() < 0 || n.BitLen() > Size*8 {
		return ID{}, ErrOverflow
	}

	raw := n.Bytes()
	var id ID
	copy(id[Size-len(raw):], raw)
	return id, nil
}

// AsBytes returns the raw 20 bytes.
func (id ID) AsBytes() []byte {
	return id[:]
}
