// Package digest computes the content digest used to verify a transfer
// end-to-end. MD5 is required verbatim for wire compatibility with the
// reference implementation (it is not a security choice, see §9).
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

// chunkSize matches the original implementation's streaming read size.
const chunkSize = 1024 * 1024

// File streams r in chunkSize pieces and returns the hex-encoded MD5 of
// its full contents, mirroring the original's getMD5.
func File(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("digest: write: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("digest: read: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal reports whether two hex-encoded digests match, case-insensitively.
func Equal(a, b string) bool {
	return len(a) == len(b) && normalizedEqual(a, b)
}

func normalizedEqual(a, b string) bool {
	for i := 0; i < len(a); i++ {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
