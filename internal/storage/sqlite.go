package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "cadence/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// pruneEvery is how many inserts of a job pass between retention prunes.
const pruneEvery = 64

type sqliteStore struct {
	db        *sql.DB
	log       logx.Logger
	retention int

	mu      sync.Mutex
	inserts map[string]int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer: the journal goroutine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, retention: cfg.Retention, inserts: map[string]int{}}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(executor, job, policy, started_ns, duration_ns, wait_ns, debt_ns, panicked)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.Executor, r.Job, r.Policy, r.Started.UnixNano(),
		int64(r.Duration), int64(r.Wait), int64(r.Debt), boolInt(r.Panicked),
	)
	if err != nil {
		return err
	}
	if s.retention > 0 && s.notePrune(r.Job) {
		if err := s.prune(ctx, r.Job); err != nil {
			s.log.Warn("run journal prune failed", logx.String("job", r.Job), logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) notePrune(job string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts[job]++
	return s.inserts[job]%pruneEvery == 1
}

// prune keeps the newest retention rows of job.
func (s *sqliteStore) prune(ctx context.Context, job string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE job = ? AND id <= (
			SELECT id FROM runs WHERE job = ? ORDER BY id DESC LIMIT 1 OFFSET ?
		)`,
		job, job, s.retention,
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	if s.retention > 0 && limit > s.retention {
		limit = s.retention
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT executor, job, policy, started_ns, duration_ns, wait_ns, debt_ns, panicked
		 FROM runs WHERE job = ? ORDER BY id DESC LIMIT ?`,
		job, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                        RunRecord
			started, dur, wait, debt int64
			panicked                 int
		)
		if err := rows.Scan(&r.Executor, &r.Job, &r.Policy, &started, &dur, &wait, &debt, &panicked); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, started)
		r.Duration = time.Duration(dur)
		r.Wait = time.Duration(wait)
		r.Debt = time.Duration(debt)
		r.Panicked = panicked != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
