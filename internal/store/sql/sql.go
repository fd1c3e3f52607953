// Package sql is a database/sql-backed implementation of the store and
// accounts interfaces, shared by Postgres (via jackc/pgx/v5's stdlib
// driver) and SQLite (via modernc.org/sqlite, pure Go, no cgo), chosen
// by the DSN's scheme. Grounded on this corpus's internal/store/pg
// factory pattern (one constructor per backing, assembled behind the
// same store interfaces the file backing implements), generalized here
// to a single struct shared by both dialects since chatrelay's schema
// is far smaller than the managed-mode store this corpus backs with
// Postgres.
package sql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/relaycrew/chatrelay/internal/accounts"
	"github.com/relaycrew/chatrelay/internal/store"
)

// Store is a database/sql-backed ProgressStore + JobStore + LogStore +
// accounts.Store, dialect-agnostic except for OpenDB's driver choice.
type Store struct {
	db      *sql.DB
	dialect dialect
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// OpenDB opens dsn with the driver selected by its scheme:
// "postgres://" uses pgx's stdlib driver, anything else (typically
// "sqlite://path" or "file:path") uses modernc.org/sqlite.
func OpenDB(dsn string) (*sql.DB, dialect, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, 0, fmt.Errorf("store/sql: open postgres: %w", err)
		}
		return db, dialectPostgres, nil
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, 0, fmt.Errorf("store/sql: open sqlite: %w", err)
	}
	return db, dialectSQLite, nil
}

// NewStore opens dsn and returns a ready Store. Schema must already be
// applied via `chatrelay migrate up`; NewStore does not migrate.
func NewStore(dsn string) (*Store, error) {
	db, d, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store/sql: ping: %w", err)
	}
	return &Store{db: db, dialect: d}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// placeholder returns the n-th (1-based) bind placeholder for the
// Store's dialect: Postgres uses $1, $2, ...; SQLite uses ?.
func (s *Store) placeholder(n int) string {
	if s.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// rebind rewrites a query written with ? placeholders to use $N for
// Postgres, so call sites can write one query string for both dialects.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- JobStore ---

const jobColumns = `id, name, source_ref, target_ref, account_ids, filter_policy_id, filter_policy,
	rate_inter_message_delay_seconds, rate_max_per_minute_per_account, status, reset_progress,
	created_at, started_at, completed_at, last_error`

func (s *Store) Get(id string) (store.Job, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	return scanJob(row)
}

func (s *Store) List() ([]store.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store/sql: list jobs: %w", err)
	}
	defer rows.Close()

	var out []store.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows, both of which Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (store.Job, error) {
	var j store.Job
	var accountIDsJSON, filterPolicyJSON string
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.Name, &j.SourceRef, &j.TargetRef, &accountIDsJSON, &j.FilterPolicyID, &filterPolicyJSON,
		&j.Rate.InterMessageDelaySeconds, &j.Rate.MaxPerMinutePerAccount, &j.Status, &j.ResetProgress,
		&j.CreatedAt, &startedAt, &completedAt, &j.LastError); err != nil {
		return store.Job{}, fmt.Errorf("store/sql: scan job: %w", err)
	}
	if err := json.Unmarshal([]byte(accountIDsJSON), &j.AccountIDs); err != nil {
		return store.Job{}, fmt.Errorf("store/sql: decode account_ids: %w", err)
	}
	if filterPolicyJSON != "" {
		if err := json.Unmarshal([]byte(filterPolicyJSON), &j.FilterPolicy); err != nil {
			return store.Job{}, fmt.Errorf("store/sql: decode filter_policy: %w", err)
		}
	}
	j.StartedAt = startedAt.Time
	j.CompletedAt = completedAt.Time
	return j, nil
}

func (s *Store) Create(j store.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	accountIDsJSON, err := json.Marshal(j.AccountIDs)
	if err != nil {
		return fmt.Errorf("store/sql: encode account_ids: %w", err)
	}
	filterPolicyJSON, err := json.Marshal(j.FilterPolicy)
	if err != nil {
		return fmt.Errorf("store/sql: encode filter_policy: %w", err)
	}
	_, err = s.db.Exec(s.rebind(`INSERT INTO jobs (id, name, source_ref, target_ref, account_ids, filter_policy_id,
		filter_policy, rate_inter_message_delay_seconds, rate_max_per_minute_per_account, status, reset_progress,
		created_at, started_at, completed_at, last_error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		j.ID, j.Name, j.SourceRef, j.TargetRef, string(accountIDsJSON), j.FilterPolicyID, string(filterPolicyJSON),
		j.Rate.InterMessageDelaySeconds, j.Rate.MaxPerMinutePerAccount, j.Status, j.ResetProgress, j.CreatedAt,
		nullableTime(j.StartedAt), nullableTime(j.CompletedAt), j.LastError)
	if err != nil {
		return fmt.Errorf("store/sql: create job: %w", err)
	}
	return nil
}

func (s *Store) Update(j store.Job) error {
	accountIDsJSON, err := json.Marshal(j.AccountIDs)
	if err != nil {
		return fmt.Errorf("store/sql: encode account_ids: %w", err)
	}
	filterPolicyJSON, err := json.Marshal(j.FilterPolicy)
	if err != nil {
		return fmt.Errorf("store/sql: encode filter_policy: %w", err)
	}
	_, err = s.db.Exec(s.rebind(`UPDATE jobs SET name=?, source_ref=?, target_ref=?, account_ids=?, filter_policy_id=?,
		filter_policy=?, rate_inter_message_delay_seconds=?, rate_max_per_minute_per_account=?, status=?,
		reset_progress=?, started_at=?, completed_at=?, last_error=? WHERE id=?`),
		j.Name, j.SourceRef, j.TargetRef, string(accountIDsJSON), j.FilterPolicyID, string(filterPolicyJSON),
		j.Rate.InterMessageDelaySeconds, j.Rate.MaxPerMinutePerAccount, j.Status, j.ResetProgress,
		nullableTime(j.StartedAt), nullableTime(j.CompletedAt), j.LastError, j.ID)
	if err != nil {
		return fmt.Errorf("store/sql: update job: %w", err)
	}
	return nil
}

func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store/sql: delete job: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// --- ProgressStore ---

func (s *Store) Load(jobID string) (store.Cursor, error) {
	var lastID int64
	var deliveredJSON string
	err := s.db.QueryRow(s.rebind(`SELECT last_id, delivered FROM progress WHERE job_id = ?`), jobID).
		Scan(&lastID, &deliveredJSON)
	if err == sql.ErrNoRows {
		return store.NewCursor(), nil
	}
	if err != nil {
		return store.Cursor{}, fmt.Errorf("store/sql: load cursor: %w", err)
	}
	var ids []int64
	if err := json.Unmarshal([]byte(deliveredJSON), &ids); err != nil {
		return store.Cursor{}, fmt.Errorf("store/sql: decode delivered: %w", err)
	}
	c := store.Cursor{LastID: lastID, Delivered: make(map[int64]bool, len(ids))}
	for _, id := range ids {
		c.Delivered[id] = true
	}
	return c, nil
}

func (s *Store) saveCursor(jobID string, c store.Cursor) error {
	ids := make([]int64, 0, len(c.Delivered))
	for id := range c.Delivered {
		ids = append(ids, id)
	}
	deliveredJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("store/sql: encode delivered: %w", err)
	}

	if s.dialect == dialectPostgres {
		_, err = s.db.Exec(s.rebind(`INSERT INTO progress (job_id, last_id, delivered) VALUES (?, ?, ?)
			ON CONFLICT (job_id) DO UPDATE SET last_id = EXCLUDED.last_id, delivered = EXCLUDED.delivered`),
			jobID, c.LastID, string(deliveredJSON))
	} else {
		_, err = s.db.Exec(s.rebind(`INSERT INTO progress (job_id, last_id, delivered) VALUES (?, ?, ?)
			ON CONFLICT (job_id) DO UPDATE SET last_id = excluded.last_id, delivered = excluded.delivered`),
			jobID, c.LastID, string(deliveredJSON))
	}
	if err != nil {
		return fmt.Errorf("store/sql: save cursor: %w", err)
	}
	return nil
}

func (s *Store) Append(jobID string, deliveredID, lastID int64) error {
	c, err := s.Load(jobID)
	if err != nil {
		return err
	}
	if c.Delivered == nil {
		c.Delivered = make(map[int64]bool)
	}
	c.Delivered[deliveredID] = true
	c.LastID = lastID
	return s.saveCursor(jobID, c)
}

func (s *Store) AdvanceLastID(jobID string, lastID int64) error {
	c, err := s.Load(jobID)
	if err != nil {
		return err
	}
	c.LastID = lastID
	return s.saveCursor(jobID, c)
}

func (s *Store) Trim(jobID string, keepMostRecent int) error {
	c, err := s.Load(jobID)
	if err != nil {
		return err
	}
	if len(c.Delivered) <= keepMostRecent {
		return nil
	}
	ids := make([]int64, 0, len(c.Delivered))
	for id := range c.Delivered {
		ids = append(ids, id)
	}
	// Keep the keepMostRecent largest ids; source ids are monotonic so
	// "most recent" means "largest".
	for len(ids) > keepMostRecent {
		minIdx := 0
		for i, id := range ids {
			if id < ids[minIdx] {
				minIdx = i
			}
		}
		delete(c.Delivered, ids[minIdx])
		ids = append(ids[:minIdx], ids[minIdx+1:]...)
	}
	return s.saveCursor(jobID, c)
}

func (s *Store) Reset(jobID string) error {
	return s.saveCursor(jobID, store.NewCursor())
}

// --- LogStore ---

func (s *Store) AppendLog(entry store.LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.db.Exec(s.rebind(`INSERT INTO logs (job_id, level, message, timestamp) VALUES (?, ?, ?, ?)`),
		entry.JobID, entry.Level, entry.Message, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("store/sql: append log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(jobID string, limit int) ([]store.LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(s.rebind(`SELECT job_id, level, message, timestamp FROM logs
		WHERE job_id = ? ORDER BY timestamp DESC LIMIT ?`), jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("store/sql: list logs: %w", err)
	}
	defer rows.Close()

	var out []store.LogEntry
	for rows.Next() {
		var e store.LogEntry
		if err := rows.Scan(&e.JobID, &e.Level, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store/sql: scan log: %w", err)
		}
		out = append([]store.LogEntry{e}, out...) // restore ascending order
	}
	return out, rows.Err()
}

// --- accounts.Store ---

func (s *Store) GetAccount(id string) (accounts.Account, error) {
	row := s.db.QueryRow(s.rebind(`SELECT id, name, app_id, app_hash, phone, encrypted_blob, status,
		last_active, created_at FROM accounts WHERE id = ?`), id)
	return scanAccount(row)
}

func (s *Store) ListAccounts() ([]accounts.Account, error) {
	rows, err := s.db.Query(`SELECT id, name, app_id, app_hash, phone, encrypted_blob, status,
		last_active, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store/sql: list accounts: %w", err)
	}
	defer rows.Close()

	var out []accounts.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row rowScanner) (accounts.Account, error) {
	var a accounts.Account
	var lastActive sql.NullTime
	if err := row.Scan(&a.ID, &a.Name, &a.AppID, &a.AppHash, &a.Phone, &a.EncryptedBlob, &a.Status,
		&lastActive, &a.CreatedAt); err != nil {
		return accounts.Account{}, fmt.Errorf("store/sql: scan account: %w", err)
	}
	a.LastActive = lastActive.Time
	return a, nil
}

func (s *Store) CreateAccount(a accounts.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(s.rebind(`INSERT INTO accounts (id, name, app_id, app_hash, phone, encrypted_blob,
		status, last_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, a.AppID, a.AppHash, a.Phone, a.EncryptedBlob, a.Status,
		nullableTime(a.LastActive), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("store/sql: create account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(a accounts.Account) error {
	_, err := s.db.Exec(s.rebind(`UPDATE accounts SET name=?, app_id=?, app_hash=?, phone=?, encrypted_blob=?,
		status=?, last_active=? WHERE id=?`),
		a.Name, a.AppID, a.AppHash, a.Phone, a.EncryptedBlob, a.Status, nullableTime(a.LastActive), a.ID)
	if err != nil {
		return fmt.Errorf("store/sql: update account: %w", err)
	}
	return nil
}

func (s *Store) DeleteAccount(id string) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM accounts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store/sql: delete account: %w", err)
	}
	return nil
}

// Progress, Jobs, Logs, and Accounts adapt Store's distinctly-named
// methods to the narrow store.ProgressStore / store.JobStore /
// store.LogStore / accounts.Store interfaces, mirroring store/file's
// adapter pattern (the same method-name collisions apply here).

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

func (j jobAdapter) Get(id string) (store.Job, error)  { return j.s.Get(id) }
func (j jobAdapter) List() ([]store.Job, error)         { return j.s.List() }
func (j jobAdapter) Create(job store.Job) error         { return j.s.Create(job) }
func (j jobAdapter) Update(job store.Job) error         { return j.s.Update(job) }
func (j jobAdapter) Delete(id string) error             { return j.s.Delete(id) }

type logAdapter struct{ s *Store }

func (s *Store) Logs() store.LogStore { return logAdapter{s} }

func (l logAdapter) Append(entry store.LogEntry) error { return l.s.AppendLog(entry) }
func (l logAdapter) List(jobID string, limit int) ([]store.LogEntry, error) {
	return l.s.ListLogs(jobID, limit)
}

type accountAdapter struct{ s *Store }

func (s *Store) Accounts() accounts.Store { return accountAdapter{s} }

func (a accountAdapter) Get(id string) (accounts.Account, error) { return a.s.GetAccount(id) }
func (a accountAdapter) List() ([]accounts.Account, error)       { return a.s.ListAccounts() }
func (a accountAdapter) Create(acct accounts.Account) error      { return a.s.CreateAccount(acct) }
func (a accountAdapter) Update(acct accounts.Account) error      { return a.s.UpdateAccount(acct) }
func (a accountAdapter) Delete(id string) error                  { return a.s.DeleteAccount(id) }
