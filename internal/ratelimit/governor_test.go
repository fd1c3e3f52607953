package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireWithinCapSucceeds(t *testing.T) {
	g := NewGovernor(60)
	if wait, ok := g.Acquire("acct-1", 0); !ok || wait != 0 {
		t.Fatalf("expected immediate acquire, got wait=%v ok=%v", wait, ok)
	}
}

func TestAcquireOverCapWaits(t *testing.T) {
	g := NewGovernor(1) // 1/min -> effectively one token available up front
	if _, ok := g.Acquire("acct-1", 0); !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := g.Acquire("acct-1", 0); ok {
		t.Fatal("second immediate acquire should need to wait")
	}
}

func TestNoteFloodWaitMakesIneligible(t *testing.T) {
	g := NewGovernor(60)
	g.NoteFloodWait("acct-1", 5)

	if g.Eligible("acct-1") {
		t.Fatal("account should be ineligible right after a flood wait")
	}
	if wait, ok := g.Acquire("acct-1", 0); ok || wait <= 0 {
		t.Fatalf("expected Acquire to report a wait, got wait=%v ok=%v", wait, ok)
	}
}

func TestNoteFloodWaitDoesNotShortenExistingWindow(t *testing.T) {
	g := NewGovernor(60)
	g.NoteFloodWait("acct-1", 100)
	first := g.FloodUntil("acct-1")

	g.NoteFloodWait("acct-1", 1)
	second := g.FloodUntil("acct-1")

	if second.Before(first) {
		t.Fatalf("a shorter flood wait must not shorten the existing window: first=%v second=%v", first, second)
	}
}

func TestDynamicDelayBands(t *testing.T) {
	base := 1000 * time.Millisecond

	if d, band := DynamicDelay(base, 0, true); band != BandLong || d < base || d > 3*base {
		t.Fatalf("recent failure should use long band, got %v/%v", d, band)
	}
	if d, band := DynamicDelay(base, 25, false); band != BandShort || d < base/2 || d > base {
		t.Fatalf("many consecutive successes should use short band, got %v/%v", d, band)
	}
	if d, band := DynamicDelay(base, 3, false); band != BandBase || d < base*8/10 || d > base*12/10 {
		t.Fatalf("normal case should use base band, got %v/%v", d, band)
	}
}
