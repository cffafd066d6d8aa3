package keygen

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateFormat(t *testing.T) {
	g, err := New(DefaultPrefix)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	k, err := g.Generate()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasPrefix(k, "FREE-") {
		t.Fatalf("unexpected prefix: %s", k)
	}
	if !g.Valid(k) {
		t.Fatalf("generated key does not match pattern: %s", k)
	}
	if len(k) != len("FREE")+4*9 {
		t.Fatalf("unexpected key length %d: %s", len(k), k)
	}
}

func TestGenerateDeterministicReader(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0xab}, 16))
	g, err := NewWithReader("PRO", src)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	k, err := g.Generate()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := "PRO-ABABABAB-ABABABAB-ABABABAB-ABABABAB"
	if k != want {
		t.Fatalf("expected %s, got %s", want, k)
	}
}

func TestGenerateUnique(t *testing.T) {
	g, _ := New(DefaultPrefix)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		k, err := g.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[k]; dup {
			t.Fatalf("duplicate key after %d draws: %s", i, k)
		}
		seen[k] = struct{}{}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateReaderFailure(t *testing.T) {
	g, _ := NewWithReader(DefaultPrefix, failingReader{})
	if _, err := g.Generate(); err == nil || !strings.Contains(err.Error(), "crypto/rand") {
		t.Fatalf("expected crypto/rand error, got %v", err)
	}
}

func TestNewRejectsBadPrefix(t *testing.T) {
	for _, p := range []string{"", "free", "FREE-", "WAYTOOLONGPREFIXVALUE"} {
		if _, err := New(p); err == nil {
			t.Fatalf("expected error for prefix %q", p)
		}
	}
}

func TestValidRejectsForeignShapes(t *testing.T) {
	g, _ := New(DefaultPrefix)
	for _, k := range []string{
		"",
		"FREE-abababab-ABABABAB-ABABABAB-ABABABAB",
		"PRO-ABABABAB-ABABABAB-ABABABAB-ABABABAB",
		"FREE-ABABABAB-ABABABAB-ABABABAB",
	} {
		if g.Valid(k) {
			t.Fatalf("expected %q to be rejected", k)
		}
	}
}
