package cryptoutil

import (
	"bytes"
	"strings"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	plaintext := []byte(`{"app_id":1,"session":"abc123"}`)
	blob, err := s.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if blob == "" || strings.Contains(blob, "abc123") {
		t.Fatalf("blob should not contain plaintext: %q", blob)
	}

	got, err := s.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	blob, err := s.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tampered := []byte(blob)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := s.Open(string(tampered)); err == nil {
		t.Fatal("expected error opening tampered blob")
	}
}

func TestNewSealerRejectsWrongKeySize(t *testing.T) {
	if _, err := NewSealer([]byte("too-short")); err == nil {
		t.Fatal("expected error for short key")
	}
}
