// Package history keeps a local journal of fill outcomes. It stores
// what happened to each request, never the guest's personal data.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusFilled  Status = "filled"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked" // precondition or document validation
)

// Source is the transport a request arrived over.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceNative Source = "native"
	SourceCLI    Source = "cli"
)

type Record struct {
	ID             int64
	RequestID      string
	Source         Source
	Action         string
	Status         Status
	FilledCount    int
	SkippedCount   int
	PhotoUploaded  bool
	DocumentType   string
	IssuingCountry string
	Error          string
	Duration       time.Duration
	CreatedAt      time.Time
}

// Stats summarises the journal.
type Stats struct {
	Total   int `json:"total"`
	Filled  int `json:"filled"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
	Photos  int `json:"photos"`
}

type Store struct {
	db *sql.DB
}

// scanRecord handles nullable columns when scanning a row
func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var requestID, docType, issuing, errStr sql.NullString
	var durationMs int64
	var createdAt sql.NullTime

	err := scanner.Scan(&r.ID, &requestID, &r.Source, &r.Action, &r.Status,
		&r.FilledCount, &r.SkippedCount, &r.PhotoUploaded, &docType, &issuing,
		&errStr, &durationMs, &createdAt)
	if err != nil {
		return nil, err
	}

	r.RequestID = requestID.String
	r.DocumentType = docType.String
	r.IssuingCountry = issuing.String
	r.Error = errStr.String
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.CreatedAt = createdAt.Time
	return &r, nil
}

// DefaultPath returns ~/.guestfill/history.db
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".guestfill", "history.db")
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The journal is written from the HTTP and native transports at once.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS fill_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		source TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		filled_count INTEGER DEFAULT 0,
		skipped_count INTEGER DEFAULT 0,
		photo_uploaded INTEGER DEFAULT 0,
		document_type TEXT,
		issuing_country TEXT,
		error TEXT,
		duration_ms INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_created_at ON fill_requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_status ON fill_requests(status);
	`

	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

func (s *Store) Add(record *Record) error {
	query := `
	INSERT INTO fill_requests (request_id, source, action, status, filled_count, skipped_count,
		photo_uploaded, document_type, issuing_country, error, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	result, err := s.db.Exec(query,
		record.RequestID,
		record.Source,
		record.Action,
		record.Status,
		record.FilledCount,
		record.SkippedCount,
		record.PhotoUploaded,
		record.DocumentType,
		record.IssuingCountry,
		record.Error,
		record.Duration.Milliseconds(),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	query := `
	SELECT id, request_id, source, action, status, filled_count, skipped_count, photo_uploaded,
		document_type, issuing_country, error, duration_ms, created_at
	FROM fill_requests ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *Store) Stats() (Stats, error) {
	query := `SELECT COUNT(*),
		SUM(CASE WHEN status='filled' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status='blocked' THEN 1 ELSE 0 END),
		SUM(photo_uploaded)
	FROM fill_requests`

	var st Stats
	var filled, failed, blocked, photos sql.NullInt64
	if err := s.db.QueryRow(query).Scan(&st.Total, &filled, &failed, &blocked, &photos); err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	st.Filled = int(filled.Int64)
	st.Failed = int(failed.Int64)
	st.Blocked = int(blocked.Int64)
	st.Photos = int(photos.Int64)
	return st, nil
}

// Prune deletes records older than maxAge and returns how many went.
func (s *Store) Prune(maxAge time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM fill_requests WHERE created_at < ?`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
