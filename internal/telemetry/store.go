package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// maxZeroResultRows bounds the persisted zero-result buffer.
const maxZeroResultRows = 100

// dateLayout keys the daily aggregate tables.
const dateLayout = "2006-01-02"

// OpKey identifies one daily operation counter.
type OpKey struct {
	Index     string `json:"index"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

// OpCount is an OpKey summed over a date range.
type OpCount struct {
	OpKey
	Count int64 `json:"count"`
}

// schema is applied on every open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS operation_stats (
	date      TEXT    NOT NULL,
	idx       TEXT    NOT NULL,
	operation TEXT    NOT NULL,
	status    TEXT    NOT NULL,
	count     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, idx, operation, status)
);

CREATE TABLE IF NOT EXISTS query_counts (
	query     TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_counts_count ON query_counts(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	query     TEXT NOT NULL,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date   TEXT    NOT NULL,
	bucket TEXT    NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
`

// SQLiteStore persists telemetry in a local SQLite file through the pure
// Go modernc driver.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLiteStore opens or creates the database at path, creating parent
// directories as needed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	// One connection: the serving process is the only writer and WAL lets
	// `fmindex stats` read concurrently.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, owned: true}, nil
}

// NewSQLiteStore wraps a caller-owned database that already has the schema.
// Close leaves db open.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db}, nil
}

func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// inTx runs fn inside one transaction, committing only if fn succeeds.
func (s *SQLiteStore) inTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// addCounts executes stmt with args(k, n) for every entry, in one transaction.
func addCounts[K comparable](s *SQLiteStore, stmt string, counts map[K]int64, args func(K, int64) []any) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		prepared, err := tx.Prepare(stmt)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer prepared.Close()
		for k, n := range counts {
			if _, err := prepared.Exec(args(k, n)...); err != nil {
				return fmt.Errorf("add count %v: %w", k, err)
			}
		}
		return nil
	})
}

// scanAll applies scan to every row and closes rows.
func scanAll(rows *sql.Rows, scan func(*sql.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) SaveOperationCounts(date string, counts map[OpKey]int64) error {
	return addCounts(s, `
		INSERT INTO operation_stats (date, idx, operation, status, count) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, idx, operation, status) DO UPDATE SET count = count + excluded.count`,
		counts, func(k OpKey, n int64) []any { return []any{date, k.Index, k.Operation, k.Status, n} })
}

// GetOperationCounts sums counters over [from, to], busiest first.
func (s *SQLiteStore) GetOperationCounts(from, to string) ([]OpCount, error) {
	rows, err := s.db.Query(`
		SELECT idx, operation, status, SUM(count) AS total
		FROM operation_stats
		WHERE date BETWEEN ? AND ?
		GROUP BY idx, operation, status
		ORDER BY total DESC, idx, operation, status`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query operation counts: %w", err)
	}
	var out []OpCount
	err = scanAll(rows, func(r *sql.Rows) error {
		var c OpCount
		if err := r.Scan(&c.Index, &c.Operation, &c.Status, &c.Count); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// UpsertQueryCounts adds to lifetime per-query counts.
func (s *SQLiteStore) UpsertQueryCounts(queries map[string]int64) error {
	return addCounts(s, `
		INSERT INTO query_counts (query, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(query) DO UPDATE SET count = count + excluded.count, last_seen = CURRENT_TIMESTAMP`,
		queries, func(q string, n int64) []any { return []any{q, n} })
}

func (s *SQLiteStore) GetTopQueries(limit int) ([]QueryCount, error) {
	rows, err := s.db.Query(`SELECT query, count FROM query_counts ORDER BY count DESC, query LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top queries: %w", err)
	}
	var out []QueryCount
	err = scanAll(rows, func(r *sql.Rows) error {
		var qc QueryCount
		if err := r.Scan(&qc.Query, &qc.Count); err != nil {
			return err
		}
		out = append(out, qc)
		return nil
	})
	return out, err
}

// AddZeroResultQuery appends to the zero-result log and trims it to the
// newest maxZeroResultRows entries.
func (s *SQLiteStore) AddZeroResultQuery(query string, at time.Time) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`, query, at); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
			maxZeroResultRows); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
		return nil
	})
}

// GetZeroResultQueries returns the newest zero-result queries first.
func (s *SQLiteStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	var out []string
	err = scanAll(rows, func(r *sql.Rows) error {
		var q string
		if err := r.Scan(&q); err != nil {
			return err
		}
		out = append(out, q)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	return addCounts(s, `
		INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
		counts, func(b LatencyBucket, n int64) []any { return []any{date, string(b), n} })
}

func (s *SQLiteStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date BETWEEN ? AND ?
		GROUP BY bucket`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	out := make(map[LatencyBucket]int64)
	err = scanAll(rows, func(r *sql.Rows) error {
		var bucket string
		var n int64
		if err := r.Scan(&bucket, &n); err != nil {
			return err
		}
		out[LatencyBucket(bucket)] = n
		return nil
	})
	return out, err
}

// Close closes the database if OpenSQLiteStore opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
