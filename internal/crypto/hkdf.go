package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// domainPrefix is mixed into every HKDF ikm as the 32 0xFF bytes spec.md
// requires for domain separation, identical to the XEdDSA convention.
var domainPrefix = func() [32]byte {
	var p [32]byte
	for i := range p {
		p[i] = 0xFF
	}
	return p
}()

// Expand runs HKDF-SHA256 with the given salt/ikm/info and returns L bytes.
// Callers are expected to have already mixed in the domain-separation prefix
// where spec.md calls for it (X3DH's SK derivation, KDF_RK, KDF_CK).
func Expand(salt, ikm, info []byte, l int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return out, nil
}

// DomainSeparatedIKM returns 0xFF*32 || parts... concatenated, the ikm shape
// used by X3DH's SK derivation and the ratchet's KDF_RK/KDF_CK.
func DomainSeparatedIKM(parts ...[]byte) []byte {
	n := len(domainPrefix)
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, domainPrefix[:]...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
