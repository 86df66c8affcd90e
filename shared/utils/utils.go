package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// DigestLen is the length of a hex encoded digest.
const DigestLen = sha1.Size * 2

// FrameBlob returns the canonical object representation of content:
// "blob <len>\x00<content>".
func FrameBlob(content []byte) []byte {
	header := "blob " + strconv.Itoa(len(content)) + "\x00"
	framed := make([]byte, 0, len(header)+len(content))
	framed = append(framed, header...)
	return append(framed, content...)
}

// HashContent returns the hex SHA-1 of content as given.
func HashContent(content []byte) string {
	hash := sha1.Sum(content)
	return hex.EncodeToString(hash[:])
}

// HashBlob returns the hex SHA-1 of the framed blob for content.
func HashBlob(content []byte) string {
	return HashContent(FrameBlob(content))
}

// HashBlobReader is HashBlob for content read from r, which must yield
// exactly size bytes.
func HashBlobReader(r io.Reader, size int64) (string, error) {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.FormatInt(size, 10) + "\x00"))

	n, err := io.Copy(h, r)
	if err != nil {
		return "", err
	}
	if n != size {
		return "", fmt.Errorf("read %d bytes, expected %d", n, size)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsDigest reports whether s is a well-formed lowercase hex digest.
func IsDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
