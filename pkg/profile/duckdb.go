package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("runa.profile")

// Store persists profiles in a DuckDB database, one row per (run, function,
// opcode).
type Store struct {
	db *sql.DB
}

// OpenStore opens the DuckDB database at path. An empty path opens an
// in-memory database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS opcode_profile (
		run       VARCHAR NOT NULL,
		recorded  TIMESTAMP NOT NULL,
		function  VARCHAR NOT NULL,
		opcode    VARCHAR NOT NULL,
		count     BIGINT NOT NULL,
		nanos     BIGINT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Store{db: db}, nil
}

// Export writes samples under the run label in one transaction.
func (s *Store) Export(ctx context.Context, run string, samples []Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO opcode_profile (run, recorded, function, opcode, count, nanos) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, sm := range samples {
		if _, err := stmt.ExecContext(ctx, run, now, sm.Function, sm.Opcode, sm.Count, sm.Elapsed.Nanoseconds()); err != nil {
			return fmt.Errorf("insert %s/%s: %w", sm.Function, sm.Opcode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log.Infof("exported %d profile rows for run %s", len(samples), run)
	return nil
}

// Top returns the n hottest (function, opcode) pairs of a run, or across
// all runs when run is empty.
func (s *Store) Top(ctx context.Context, run string, n int) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT function, opcode, CAST(SUM(count) AS BIGINT) AS total, CAST(SUM(nanos) AS BIGINT)
		FROM opcode_profile
		WHERE ? = '' OR run = ?
		GROUP BY function, opcode
		ORDER BY total DESC, function, opcode
		LIMIT ?`, run, run, n)
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		var nanos int64
		if err := rows.Scan(&sm.Function, &sm.Opcode, &sm.Count, &nanos); err != nil {
			return nil, fmt.Errorf("scanning profile row: %w", err)
		}
		sm.Elapsed = time.Duration(nanos)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Runs lists the distinct run labels in recording order.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run FROM opcode_profile GROUP BY run ORDER BY MIN(recorded), run")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
