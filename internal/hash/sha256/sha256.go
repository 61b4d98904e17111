// Package sha256 computes archive checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Hasher produces hex encoded SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Reader tees everything read through it into a running digest.
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewReader wraps r.
func (h *Hasher) NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.n += int64(n)
	}
	return n, err
}

// Sum returns the digest of the bytes read so far.
func (r *Reader) Sum() string {
	return hex.EncodeToString(r.h.Sum(nil))
}

// Size returns how many bytes were read.
func (r *Reader) Size() int64 {
	return r.n
}

// HashReader drains r and returns its digest and length.
func (h *Hasher) HashReader(r io.Reader) (string, int64, error) {
	hr := h.NewReader(r)
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return "", 0, fmt.Errorf("hash stream: %w", err)
	}
	return hr.Sum(), hr.Size(), nil
}
