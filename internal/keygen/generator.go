// Package keygen produces random trial keys.
package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	// DefaultPrefix tags keys of the free trial tier.
	DefaultPrefix = "FREE"

	randomBytes = 16
	groupSize   = 8
)

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)

// Generator draws keys of the form PREFIX-XXXXXXXX-XXXXXXXX-XXXXXXXX-XXXXXXXX.
type Generator struct {
	prefix  string
	random  io.Reader
	pattern *regexp.Regexp
}

// New returns a generator for the given tier prefix.
func New(prefix string) (*Generator, error) {
	return NewWithReader(prefix, rand.Reader)
}

// NewWithReader is New with an explicit randomness source.
func NewWithReader(prefix string, r io.Reader) (*Generator, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("key prefix %q must be 1-16 uppercase letters or digits", prefix)
	}
	groups := randomBytes * 2 / groupSize
	return &Generator{
		prefix:  prefix,
		random:  r,
		pattern: regexp.MustCompile(fmt.Sprintf(`^%s(-[0-9A-F]{%d}){%d}$`, prefix, groupSize, groups)),
	}, nil
}

func (g *Generator) Prefix() string {
	return g.prefix
}

// Generate returns a fresh key. It depends only on the random source.
func (g *Generator) Generate() (string, error) {
	b := make([]byte, randomBytes)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	raw := strings.ToUpper(hex.EncodeToString(b))

	var sb strings.Builder
	sb.Grow(len(g.prefix) + len(raw) + len(raw)/groupSize)
	sb.WriteString(g.prefix)
	for i := 0; i < len(raw); i += groupSize {
		sb.WriteByte('-')
		sb.WriteString(raw[i : i+groupSize])
	}
	return sb.String(), nil
}

// Valid reports whether key has the shape this generator produces.
func (g *Generator) Valid(key string) bool {
	return g.pattern.MatchString(key)
}
