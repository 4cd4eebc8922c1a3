// Package idgen generates content-addressed element ids: a short
// base36 hash of the element's defining fields, with adaptive length
// and nonce-based collision retry, plus the hierarchical child-id
// scheme (parentID.N) used for child elements.
package idgen

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateHashID derives a deterministic-looking but effectively
// collision-resistant id from the element's prefix and defining
// content. nonce lets the caller retry at the same length after a
// collision without changing any user-visible field.
func GenerateHashID(prefix, title, body, actor string, createdAt time.Time, length, nonce int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00%d", prefix, title, body, actor, createdAt.UnixNano(), nonce)
	sum := h.Sum(nil)

	n := new(big.Int).SetBytes(sum)
	mod := big.NewInt(int64(len(base36Alphabet)))
	buf := make([]byte, length)
	rem := new(big.Int)
	for i := length - 1; i >= 0; i-- {
		n.DivMod(n, mod, rem)
		buf[i] = base36Alphabet[rem.Int64()]
	}
	return prefix + "-" + string(buf)
}

// IsHierarchicalID reports whether id has the form {parent}.{N} where N
// is a purely numeric child suffix. A prefix containing dots of its own
// (e.g. "proj.x-abc123") is not mistaken for hierarchical unless the
// final dot-segment is all digits.
func IsHierarchicalID(id string) (isHierarchical bool, parentID string) {
	lastDot := strings.LastIndex(id, ".")
	if lastDot == -1 {
		return false, ""
	}
	suffix := id[lastDot+1:]
	if suffix == "" {
		return false, ""
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return false, ""
		}
	}
	return true, id[:lastDot]
}

// ParseHierarchicalID splits a hierarchical id into its parent id and
// numeric child suffix.
func ParseHierarchicalID(id string) (parentID string, childNum int, ok bool) {
	isH, parent := IsHierarchicalID(id)
	if !isH {
		return "", 0, false
	}
	suffix := id[len(parent)+1:]
	num := 0
	for _, c := range suffix {
		num = num*10 + int(c-'0')
	}
	return parent, num, true
}

// ChildID formats a hierarchical child id from a parent id and counter.
func ChildID(parentID string, childNum int) string {
	return fmt.Sprintf("%s.%d", parentID, childNum)
}

// Depth returns the hierarchy depth of id: 0 for a top-level id, 1 for
// its direct children, and so on.
func Depth(id string) int {
	depth := 0
	for {
		isH, parent := IsHierarchicalID(id)
		if !isH {
			return depth
		}
		depth++
		id = parent
	}
}

// entropyBits is a rough estimate used only to pick an adaptive base36
// length; it does not need to be cryptographically exact.
func entropyBits(rowCount int) int {
	if rowCount < 1 {
		rowCount = 1
	}
	bits := 0
	for v := rowCount; v > 0; v >>= 1 {
		bits++
	}
	return bits
}

// AdaptiveLength picks a base36 id length that keeps collision
// probability low as the table grows: small databases get short
// (min 3) ids, large ones grow up to max.
func AdaptiveLength(rowCount, min, max int) int {
	bits := entropyBits(rowCount)
	length := min + bits/6 // ~6 bits of entropy per base36 digit headroom
	if length < min {
		length = min
	}
	if length > max {
		length = max
	}
	return length
}

// fingerprint returns a deterministic 64-bit digest of parts without
// going through the full id format. It is unexported and has no callers
// in this module.
func fingerprint(parts ...string) uint64 {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}
