// Package history keeps a sqlite record of finished upload jobs.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one finished job.
type Entry struct {
	SessionID  string
	JobID      int64
	ActionID   string
	Status     int
	Family     string
	Port       string
	Firmware   string
	FinishedAt time.Time
}

type Store struct {
	Db *sql.DB
}

func (s *Store) Init() error {
	createTable := `create table if not exists job_history(
		id integer primary key autoincrement,
		session_id text not null,
		job_id integer not null,
		action_id text not null,
		status integer not null,
		family text not null default '',
		port text not null default '',
		firmware text not null default '',
		finished_at DATETIME not null
	);`
	_, err := s.Db.Exec(createTable)
	return err
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	store := &Store{Db: db}
	if err := store.Init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}
	return store, nil
}

// Record appends a finished job.
func (s *Store) Record(e Entry) error {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	statement := `insert into job_history (
		session_id, job_id, action_id, status, family, port, firmware, finished_at
		) values (?,?,?,?,?,?,?,?);`
	_, err := s.Db.Exec(statement, e.SessionID, e.JobID, e.ActionID, e.Status, e.Family, e.Port, e.Firmware, e.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record job %d: %w", e.JobID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Db.Query(`select session_id, job_id, action_id, status, family, port, firmware, finished_at
		from job_history order by id desc limit ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.JobID, &e.ActionID, &e.Status, &e.Family, &e.Port, &e.Firmware, &e.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.Db.Close()
}
