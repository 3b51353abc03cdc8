// Package fingerprint computes content hashes used to deduplicate documents.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/xhad/docseek/internal/types"
)

// BlockSize is the read size used when streaming a file through the hash.
const BlockSize = 8192

// File returns the hex SHA-256 digest of the file at path. The name of the
// file does not participate, only its bytes.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open %s: %v", types.ErrIO, path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %v", types.ErrIO, path, err)
	}
	return sum, nil
}

// Reader hashes r until EOF in BlockSize reads.
func Reader(r io.Reader) (string, error) {
	hasher := sha256.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
