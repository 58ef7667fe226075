// Package digest implements the iterated content digest applied by the
// transform stage.
//
// A digest of n rounds feeds the uppercase hexadecimal encoding of each
// round's hash into the next round:
//
//	state = document
//	repeat n times: state = UPPERHEX(H(state))
//
// The hex encoding is part of the loop body, so every round after the first
// hashes a fixed-length ASCII string. Zero rounds return the document
// unchanged. Compute is pure and safe for concurrent use.
package digest

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"slices"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Algorithm names a cryptographic hash usable by the engine.
type Algorithm string

const (
	// SHA3_512 is the pipeline's default (FIPS 202).
	SHA3_512 Algorithm = "sha3-512"

	// SHA512 is SHA-2 512 (FIPS 180-4).
	SHA512 Algorithm = "sha-512"

	// BLAKE3_512 is the first 512 bits of the unkeyed BLAKE3 output.
	BLAKE3_512 Algorithm = "blake3-512"
)

// DefaultAlgorithm is used when configuration does not name one.
const DefaultAlgorithm = SHA3_512

// ErrUnknownAlgorithm is a logic fault: retrying cannot make it succeed.
var ErrUnknownAlgorithm = errors.New("digest: unknown algorithm")

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{SHA3_512, SHA512, BLAKE3_512}
}

// ParseAlgorithm maps a configured name to an Algorithm.
// The empty string selects DefaultAlgorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	if name == "" {
		return DefaultAlgorithm, nil
	}
	for _, a := range Algorithms() {
		if string(a) == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

func (a Algorithm) validate() error {
	if !slices.Contains(Algorithms(), a) {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
	return nil
}

// sum returns the raw 64-byte digest of data.
func (a Algorithm) sum(data []byte) ([64]byte, error) {
	switch a {
	case SHA3_512:
		return sha3.Sum512(data), nil
	case SHA512:
		return sha512.Sum512(data), nil
	case BLAKE3_512:
		return blake3.Sum512(data), nil
	default:
		return [64]byte{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}

const upperHex = "0123456789ABCDEF"

// Compute applies iterations rounds of alg to document.
// An unknown alg fails even when no round would run.
func Compute(alg Algorithm, document string, iterations uint16) (string, error) {
	if err := alg.validate(); err != nil {
		return "", err
	}
	if iterations == 0 {
		return document, nil
	}

	state := []byte(document)
	// Every round after the first hashes a 128-byte hex string; reuse one buffer.
	buf := make([]byte, 2*64)
	for i := uint16(0); i < iterations; i++ {
		sum, err := alg.sum(state)
		if err != nil {
			return "", err
		}
		for j, b := range sum {
			buf[2*j] = upperHex[b>>4]
			buf[2*j+1] = upperHex[b&0x0f]
		}
		state = buf
	}
	return string(state), nil
}

// Engine binds Compute to one algorithm.
// The zero value uses DefaultAlgorithm.
type Engine struct {
	alg Algorithm
}

// NewEngine validates alg and returns an engine for it.
func NewEngine(alg Algorithm) (Engine, error) {
	if err := alg.validate(); err != nil {
		return Engine{}, err
	}
	return Engine{alg: alg}, nil
}

// Algorithm reports the engine's hash.
func (e Engine) Algorithm() Algorithm {
	if e.alg == "" {
		return DefaultAlgorithm
	}
	return e.alg
}

// Compute digests document with the engine's algorithm.
func (e Engine) Compute(document string, iterations uint16) (string, error) {
	return Compute(e.Algorithm(), document, iterations)
}
