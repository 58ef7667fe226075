package datum

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"unicode/utf8"
)

// MaxIterations is the largest target iteration count a Datum can carry.
const MaxIterations = 1<<16 - 1

var (
	// ErrDigestAlreadySet is returned when a digest would overwrite an existing one.
	ErrDigestAlreadySet = errors.New("datum: digest already set")

	// ErrEmptyID is returned by Validate for a datum without identity.
	ErrEmptyID = errors.New("datum: empty id")

	// ErrInvalidDocument is returned by Validate when the document is not
	// valid UTF-8 and could not survive the wire codecs unchanged.
	ErrInvalidDocument = errors.New("datum: document is not valid UTF-8")
)

// Datum is a document plus the metadata needed to digest and persist it.
//
// Values are treated as immutable once created. Mutators return copies.
type Datum struct {
	// ID is assigned once at creation and used as the partition and
	// idempotency key everywhere downstream.
	ID string

	// Document is the opaque payload.
	Document string

	// TargetIterations is how many hash rounds the digest applies.
	TargetIterations uint16

	// Digest is nil until the transform stage computes it.
	Digest *string
}

// New creates a datum without a digest.
func New(id, document string, iterations uint16) Datum {
	return Datum{ID: id, Document: document, TargetIterations: iterations}
}

// IsTerminal reports whether the digest has been computed.
// Terminal datums are safe to persist any number of times.
func (d Datum) IsTerminal() bool {
	return d.Digest != nil
}

// DigestValue returns the digest, or "" when absent.
func (d Datum) DigestValue() string {
	if d.Digest == nil {
		return ""
	}
	return *d.Digest
}

// WithDigest returns a copy of d carrying digest.
// Fails with ErrDigestAlreadySet if d is already terminal.
func (d Datum) WithDigest(digest string) (Datum, error) {
	if d.Digest != nil {
		return Datum{}, fmt.Errorf("%w: id=%s", ErrDigestAlreadySet, d.ID)
	}
	out := d
	out.Digest = &digest
	return out, nil
}

// Validate checks the invariants every decoded datum must satisfy.
func (d Datum) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}
	if !utf8.ValidString(d.Document) {
		return fmt.Errorf("%w: id=%s", ErrInvalidDocument, d.ID)
	}
	return nil
}

// String renders the datum for debug logs without dumping the whole document.
func (d Datum) String() string {
	if d.Digest != nil {
		return fmt.Sprintf("datum(%s, hash=%s)", d.ID, *d.Digest)
	}
	return fmt.Sprintf("datum(%s, doc=%d chars, hashes=%d)", d.ID, len(d.Document), d.TargetIterations)
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Random creates a datum with a fresh id from gen and a pseudo-random
// alphanumeric document of chars characters.
func Random(gen IDGenerator, chars int, iterations uint16) Datum {
	if chars < 0 {
		chars = 0
	}
	doc := make([]byte, chars)
	for i := range doc {
		doc[i] = alphanumeric[rand.IntN(len(alphanumeric))]
	}
	return New(gen.Generate(), string(doc), iterations)
}
