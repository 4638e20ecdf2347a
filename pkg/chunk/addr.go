// pkg/chunk/addr.go

package chunk

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest names the backing directory of a logical file. The path is hashed
// as raw bytes; equivalent spellings of one file get unrelated digests.
func Digest(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}
