package credentials

import (
	"errors"
	"math/rand"
	"strings"
)

// Alphabet is the full character set one-time passwords are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"0123456789" +
	"!@#$%^&*"

// PasswordLength is the fixed length of generated passwords.
const PasswordLength = 12

// Generator produces one-time passwords for freshly created accounts. The
// password is emailed to the applicant and is expected to be changed on first
// login, so the source only needs to be uniformly distributed, not
// cryptographically strong.
type Generator struct {
	intn func(n int) int
}

// GeneratorDeps configures the Generator. IntN may be supplied by tests to
// make output deterministic; when nil a seeded math/rand source is used.
type GeneratorDeps struct {
	IntN func(n int) int
}

// NewGenerator constructs a Generator.
func NewGenerator(deps GeneratorDeps) *Generator {
	intn := deps.IntN
	if intn == nil {
		intn = rand.Intn
	}
	return &Generator{intn: intn}
}

// Generate returns a fresh password drawn uniformly with replacement from
// Alphabet. Every submission attempt must call Generate again; passwords are
// never reused across retries.
func (g *Generator) Generate() (string, error) {
	if g == nil || g.intn == nil {
		return "", errors.New("credentials: generator not initialised")
	}
	var b strings.Builder
	b.Grow(PasswordLength)
	for i := 0; i < PasswordLength; i++ {
		idx := g.intn(len(Alphabet))
		if idx < 0 || idx >= len(Alphabet) {
			return "", errors.New("credentials: index source out of range")
		}
		b.WriteByte(Alphabet[idx])
	}
	return b.String(), nil
}
