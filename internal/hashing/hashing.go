// Package hashing provides the SHA-256, stable-id, and canonical-time
// utilities every deterministic artefact in the pipeline is built on.
// Identical input bytes always produce identical output strings; no
// locale or platform influence.
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/untoldecay/chronicle/internal/types"
)

// SHA256 returns the 64-char lowercase hex digest of s.
func SHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashToUint32 interprets the first 4 bytes of a hex digest as a
// big-endian uint32. Used by the stub classifier's category rotation.
func HashToUint32(hexDigest string) (uint32, error) {
	if len(hexDigest) < 8 {
		return 0, fmt.Errorf("hex digest too short: %d chars", len(hexDigest))
	}
	b, err := hex.DecodeString(hexDigest[:8])
	if err != nil {
		return 0, fmt.Errorf("invalid hex digest: %w", err)
	}
	return binary.BigEndian.Uint32(b), nil
}

// StableHash64 returns the first 8 bytes of sha256(s) as an int64,
// big-endian. Keys the per-run advisory lock.
func StableHash64(s string) int64 {
	sum := sha256.Sum256([]byte(s))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// ToCanonicalTs renders an instant as the canonical UTC timestamp
// "YYYY-MM-DDTHH:MM:SS.sssZ".
func ToCanonicalTs(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ExtractDayDate computes the calendar date "YYYY-MM-DD" of an instant
// in the given IANA timezone.
func ExtractDayDate(t time.Time, ianaTz string) (string, error) {
	loc, err := time.LoadLocation(ianaTz)
	if err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", ianaTz, err)
	}
	return t.In(loc).Format("2006-01-02"), nil
}

// AtomStableID derives the globally unique content address of a
// normalised message:
//
//	sha256("atom_v1|" + source + "|" + convID + "|" + msgID + "|" +
//	       canonicalTs + "|" + role + "|" + sha256(text))
func AtomStableID(m types.ParsedMessage) string {
	return SHA256("atom_v1|" + string(m.Source) + "|" + m.SourceConversationID +
		"|" + m.SourceMessageID + "|" + ToCanonicalTs(m.TimestampUTC) +
		"|" + string(m.Role) + "|" + SHA256(m.Text))
}

// BundleHash hashes a rendered bundle text.
func BundleHash(bundleText string) string {
	return SHA256("bundle_v1|" + bundleText)
}

// SegmentID derives the stable id of segment i of a bundle.
func SegmentID(bundleHash string, i int) string {
	return SHA256(fmt.Sprintf("segment_v1|%s|%d", bundleHash, i))
}
