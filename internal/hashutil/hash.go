// Package hashutil computes the stable content digests used for change
// detection: whole-file hashes and per-chunk hashes share one function.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// fileReadBlockSize is the block size for streaming file hashing (8 KiB).
const fileReadBlockSize = 8 * 1024

// HashString returns the hex-encoded SHA-256 digest of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex-encoded SHA-256 digest of the file at path,
// streamed in fixed-size blocks so large files never load fully.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, fileReadBlockSize)

	_, err = io.CopyBuffer(h, f, buf)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
