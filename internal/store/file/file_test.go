package file

import (
	"testing"

	"github.com/relaycrew/chatrelay/internal/store"
)

func TestProgressAppendAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.Append("job-1", 10, 10); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append("job-1", 11, 11); err != nil {
		t.Fatalf("Append: %v", err)
	}

	cur, err := s.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur.LastID != 11 {
		t.Fatalf("LastID = %d, want 11", cur.LastID)
	}
	if !cur.Delivered[10] || !cur.Delivered[11] {
		t.Fatalf("Delivered missing entries: %v", cur.Delivered)
	}
}

func TestProgressSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Append("job-1", 5, 5); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen NewStore: %v", err)
	}
	cur, err := reopened.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur.LastID != 5 || !cur.Delivered[5] {
		t.Fatalf("progress did not survive reopen: %+v", cur)
	}
}

func TestJobCRUD(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	job := store.Job{ID: "job-1", Name: "demo", Status: store.JobPending}
	if err := s.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(job); err == nil {
		t.Fatal("expected duplicate Create to fail")
	}

	job.Status = store.JobRunning
	if err := s.Update(job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.JobRunning {
		t.Fatalf("Status = %v, want running", got.Status)
	}

	if err := s.Delete("job-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("job-1"); err == nil {
		t.Fatal("expected Get after Delete to fail")
	}
}

func TestTrimKeepsMostRecent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		if err := s.Append("job-1", i, i); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Trim("job-1", 2); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	cur, err := s.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cur.Delivered) != 2 {
		t.Fatalf("expected 2 delivered entries after trim, got %d", len(cur.Delivered))
	}
	if !cur.Delivered[4] || !cur.Delivered[5] {
		t.Fatalf("expected the most recent entries kept, got %v", cur.Delivered)
	}
}
