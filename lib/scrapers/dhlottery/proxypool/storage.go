package proxypool

import (
	"database/sql"
	"time"
)

// Storage persists the validated candidate set across restarts so the
// engine can serve requests while the first refresh cycle runs.
type Storage struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS proxy_candidates (
	address        TEXT PRIMARY KEY,
	protocol       TEXT NOT NULL,
	source         TEXT NOT NULL,
	success_count  INTEGER NOT NULL,
	failure_count  INTEGER NOT NULL,
	score          REAL NOT NULL,
	state          INTEGER NOT NULL,
	last_used      INTEGER NOT NULL,
	last_validated INTEGER NOT NULL
);`

func NewStorage(db *sql.DB) (*Storage, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// Save replaces the stored snapshot with the given candidates.
func (s *Storage) Save(candidates []*Candidate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM proxy_candidates`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO proxy_candidates
			(address, protocol, source, success_count, failure_count,
			 score, state, last_used, last_validated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candidates {
		_, err := stmt.Exec(
			c.Address, c.Protocol, c.Source,
			c.SuccessCount, c.FailureCount, c.Score, int(c.State),
			c.LastUsed.Unix(), c.LastValidated.Unix())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Storage) Load() ([]*Candidate, error) {
	rows, err := s.db.Query(`
		SELECT address, protocol, source, success_count, failure_count,
		       score, state, last_used, last_validated
		FROM proxy_candidates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		var c Candidate
		var state int
		var lastUsed, lastValidated int64
		err := rows.Scan(
			&c.Address, &c.Protocol, &c.Source,
			&c.SuccessCount, &c.FailureCount, &c.Score, &state,
			&lastUsed, &lastValidated)
		if err != nil {
			return nil, err
		}
		c.State = State(state)
		c.LastUsed = time.Unix(lastUsed, 0)
		c.LastValidated = time.Unix(lastValidated, 0)
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}
