package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/mzorec/memoir/internal/transcript"
)

// digestLen is the number of digest bytes kept. Collisions are a change
// detection concern, not a security one, so the hash is truncated to a
// practical length.
const digestLen = 16

// Sum fingerprints an already-canonicalized content string.
func Sum(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:digestLen])
}

// Hasher computes stable fingerprints over the canonical content of a
// transcript. Stateless and safe for concurrent use.
type Hasher struct {
	filter transcript.Filter
}

// NewHasher returns a Hasher using the given content filter.
func NewHasher(filter transcript.Filter) *Hasher {
	return &Hasher{filter: filter}
}

// Canonicalize reads the transcript at path, filters it and returns both the
// canonical content and its digest. Callers that go on to commit need the
// content; change detection needs only the digest.
func (h *Hasher) Canonicalize(path string) (canonical, digest string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read transcript: %w", err)
	}
	messages, err := h.filter.Filter(raw)
	if err != nil {
		return "", "", fmt.Errorf("filter transcript: %w", err)
	}
	canonical = transcript.Canonical(messages)
	return canonical, Sum(canonical), nil
}

// Fingerprint returns the content digest for the transcript at path.
// Identical canonical content always yields an identical digest regardless
// of incidental raw-text differences.
func (h *Hasher) Fingerprint(path string) (string, error) {
	_, digest, err := h.Canonicalize(path)
	return digest, err
}
