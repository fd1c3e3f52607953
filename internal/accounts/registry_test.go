package accounts

import "testing"

func TestRegistryAcquireRelease(t *testing.T) {
	r := NewRegistry()

	if err := r.Acquire("acct-1"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := r.Acquire("acct-1"); err == nil {
		t.Fatal("second Acquire for same account should fail")
	}
	if !r.InUse("acct-1") {
		t.Fatal("expected acct-1 to be in use")
	}

	r.Release("acct-1")
	if r.InUse("acct-1") {
		t.Fatal("expected acct-1 to be released")
	}
	if err := r.Acquire("acct-1"); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestRegistryReleaseIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Release("never-acquired") // must not panic
}
