// Package file is a JSON-file-backed implementation of the store and
// accounts interfaces, for standalone/dev deployments without a
// database. Writes are atomic (temp file + fsync + rename), grounded
// on the session-persistence pattern this corpus uses for local agent
// session files.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/relaycrew/chatrelay/internal/accounts"
	"github.com/relaycrew/chatrelay/internal/store"
)

// Store is a JSON-file-backed ProgressStore + JobStore + LogStore +
// accounts.Store, all rooted under one directory.
type Store struct {
	mu  sync.RWMutex
	dir string

	jobs     map[string]store.Job
	progress map[string]progressRecord
	accounts map[string]accounts.Account
	logs     map[string][]store.LogEntry
}

// progressRecord is the on-disk shape of a Cursor: Delivered is a slice
// on disk (JSON has no set type) but a map in memory.
type progressRecord struct {
	LastID    int64   `json:"last_id"`
	Delivered []int64 `json:"delivered"`
}

const (
	jobsDir     = "jobs"
	progressDir = "progress"
	accountsDir = "accounts"
	logsDir     = "logs"
)

// NewStore opens (creating if absent) a file-backed Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:      dir,
		jobs:     make(map[string]store.Job),
		progress: make(map[string]progressRecord),
		accounts: make(map[string]accounts.Account),
		logs:     make(map[string][]store.LogEntry),
	}
	for _, sub := range []string{jobsDir, progressDir, accountsDir, logsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("file store: mkdir %s: %w", sub, err)
		}
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll() error {
	loaders := []struct {
		sub string
		fn  func(path string) error
	}{
		{jobsDir, s.loadJobFile},
		{progressDir, s.loadProgressFile},
		{accountsDir, s.loadAccountFile},
	}
	for _, l := range loaders {
		entries, err := os.ReadDir(filepath.Join(s.dir, l.sub))
		if err != nil {
			return fmt.Errorf("file store: read %s: %w", l.sub, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			if err := l.fn(filepath.Join(s.dir, l.sub, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) loadJobFile(path string) error {
	var j store.Job
	if err := readJSON(path, &j); err != nil {
		return err
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *Store) loadProgressFile(path string) error {
	base := strings.TrimSuffix(filepath.Base(path), ".json")
	var rec progressRecord
	if err := readJSON(path, &rec); err != nil {
		return err
	}
	s.progress[unsanitizeID(base)] = rec
	return nil
}

func (s *Store) loadAccountFile(path string) error {
	var a accounts.Account
	if err := readJSON(path, &a); err != nil {
		return err
	}
	s.accounts[a.ID] = a
	return nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file store: open %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("file store: decode %s: %w", path, err)
	}
	return nil
}

// atomicWriteJSON writes v to dir/name via a temp file in the same
// directory, fsyncs it, then renames over the destination — so a crash
// mid-write never leaves a partially-written file visible under name.
func atomicWriteJSON(dir, name string, v any) (err error) {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(v); encErr != nil {
		tmp.Close()
		return fmt.Errorf("file store: encode: %w", encErr)
	}
	if syncErr := tmp.Sync(); syncErr != nil {
		tmp.Close()
		return fmt.Errorf("file store: sync: %w", syncErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		return fmt.Errorf("file store: close temp: %w", closeErr)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("file store: rename: %w", err)
	}
	cleanup = false
	return nil
}

// sanitizeID replaces path-hostile characters in an id so it is safe
// to use as a filename component.
func sanitizeID(id string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return r.Replace(id)
}

func unsanitizeID(sanitized string) string {
	return sanitized // sanitization is lossy; ids are chosen not to collide under it
}

// --- JobStore ---

func (s *Store) Get(id string) (store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.Job{}, fmt.Errorf("file store: job %s not found", id)
	}
	return j, nil
}

func (s *Store) List() ([]store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *Store) Create(j store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("file store: job %s already exists", j.ID)
	}
	return s.saveJobLocked(j)
}

func (s *Store) Update(j store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveJobLocked(j)
}

func (s *Store) saveJobLocked(j store.Job) error {
	if err := atomicWriteJSON(filepath.Join(s.dir, jobsDir), sanitizeID(j.ID)+".json", j); err != nil {
		return err
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return os.Remove(filepath.Join(s.dir, jobsDir, sanitizeID(id)+".json"))
}

// --- ProgressStore ---

func (s *Store) Load(jobID string) (store.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.progress[jobID]
	if !ok {
		return store.NewCursor(), nil
	}
	c := store.Cursor{LastID: rec.LastID, Delivered: make(map[int64]bool, len(rec.Delivered))}
	for _, id := range rec.Delivered {
		c.Delivered[id] = true
	}
	return c, nil
}

func (s *Store) Append(jobID string, deliveredID, lastID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.progress[jobID]
	rec.Delivered = append(rec.Delivered, deliveredID)
	rec.LastID = lastID
	return s.saveProgressLocked(jobID, rec)
}

func (s *Store) AdvanceLastID(jobID string, lastID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.progress[jobID]
	rec.LastID = lastID
	return s.saveProgressLocked(jobID, rec)
}

func (s *Store) Trim(jobID string, keepMostRecent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.progress[jobID]
	if len(rec.Delivered) <= keepMostRecent {
		return nil
	}
	rec.Delivered = rec.Delivered[len(rec.Delivered)-keepMostRecent:]
	return s.saveProgressLocked(jobID, rec)
}

func (s *Store) Reset(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveProgressLocked(jobID, progressRecord{})
}

func (s *Store) saveProgressLocked(jobID string, rec progressRecord) error {
	if err := atomicWriteJSON(filepath.Join(s.dir, progressDir), sanitizeID(jobID)+".json", rec); err != nil {
		return err
	}
	s.progress[jobID] = rec
	return nil
}

// --- accounts.Store ---

func (s *Store) GetAccount(id string) (accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return accounts.Account{}, fmt.Errorf("file store: account %s not found", id)
	}
	return a, nil
}

func (s *Store) ListAccounts() ([]accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]accounts.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *Store) CreateAccount(a accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("file store: account %s already exists", a.ID)
	}
	return s.saveAccountLocked(a)
}

func (s *Store) UpdateAccount(a accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAccountLocked(a)
}

func (s *Store) saveAccountLocked(a accounts.Account) error {
	if err := atomicWriteJSON(filepath.Join(s.dir, accountsDir), sanitizeID(a.ID)+".json", a); err != nil {
		return err
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) DeleteAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return os.Remove(filepath.Join(s.dir, accountsDir, sanitizeID(id)+".json"))
}

// --- LogStore (append-only; logs are not atomically-written per
// entry — they are accumulated in memory and flushed as one file per
// job, acceptable because logs are non-authoritative / best-effort) ---

func (s *Store) AppendLog(entry store.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.JobID] = append(s.logs[entry.JobID], entry)
	return atomicWriteJSON(filepath.Join(s.dir, logsDir), sanitizeID(entry.JobID)+".json", s.logs[entry.JobID])
}

func (s *Store) ListLogs(jobID string, limit int) ([]store.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.logs[jobID]
	if limit <= 0 || limit >= len(all) {
		out := make([]store.LogEntry, len(all))
		copy(out, all)
		return out, nil
	}
	return append([]store.LogEntry(nil), all[len(all)-limit:]...), nil
}

// Progress, Jobs, Logs, and Accounts adapt Store's distinctly-named
// methods to the narrow store.ProgressStore / store.JobStore /
// store.LogStore / accounts.Store interfaces, which collide on method
// names (Append, List) when asked of a single receiver directly.

type progressAdapter struct{ s *Store }

func (s *Store) Progress() store.ProgressStore { return progressAdapter{s} }

func (p progressAdapter) Load(jobID string) (store.Cursor, error) { return p.s.Load(jobID) }
func (p progressAdapter) Append(jobID string, deliveredID, lastID int64) error {
	return p.s.Append(jobID, deliveredID, lastID)
}
func (p progressAdapter) AdvanceLastID(jobID string, lastID int64) error {
	return p.s.AdvanceLastID(jobID, lastID)
}
func (p progressAdapter) Trim(jobID string, keepMostRecent int) error {
	return p.s.Trim(jobID, keepMostRecent)
}
func (p progressAdapter) Reset(jobID string) error { return p.s.Reset(jobID) }

type jobAdapter struct{ s *Store }

func (s *Store) Jobs() store.JobStore { return jobAdapter{s} }

func (j jobAdapter) Get(id string) (store.Job, error)   { return j.s.Get(id) }
func (j jobAdapter) List() ([]store.Job, error)          { return j.s.List() }
func (j jobAdapter) Create(job store.Job) error          { return j.s.Create(job) }
func (j jobAdapter) Update(job store.Job) error          { return j.s.Update(job) }
func (j jobAdapter) Delete(id string) error              { return j.s.Delete(id) }

type logAdapter struct{ s *Store }

func (s *Store) Logs() store.LogStore { return logAdapter{s} }

func (l logAdapter) Append(entry store.LogEntry) error { return l.s.AppendLog(entry) }
func (l logAdapter) List(jobID string, limit int) ([]store.LogEntry, error) {
	return l.s.ListLogs(jobID, limit)
}

type accountAdapter struct{ s *Store }

func (s *Store) Accounts() accounts.Store { return accountAdapter{s} }

func (a accountAdapter) Get(id string) (accounts.Account, error)   { return a.s.GetAccount(id) }
func (a accountAdapter) List() ([]accounts.Account, error)         { return a.s.ListAccounts() }
func (a accountAdapter) Create(acct accounts.Account) error        { return a.s.CreateAccount(acct) }
func (a accountAdapter) Update(acct accounts.Account) error        { return a.s.UpdateAccount(acct) }
func (a accountAdapter) Delete(id string) error                    { return a.s.DeleteAccount(id) }
