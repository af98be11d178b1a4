// File: protocol/mask.go
// Author: momentics <momentics@gmail.com>
//
// Payload masking (RFC 6455 section 5.3).

package protocol

import "crypto/rand"

// NewMaskKey draws a fresh 4-byte masking key from crypto/rand.
func NewMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// Mask XORs b in place with key, starting at key offset pos, and returns
// the offset for the next chunk. Masking twice restores the input.
func Mask(key [4]byte, b []byte, pos int) int {
	for i := range b {
		b[i] ^= key[(pos+i)&3]
	}
	return (pos + len(b)) & 3
}
