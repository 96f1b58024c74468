package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			case_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_by TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			content_original TEXT NOT NULL,
			content_translated TEXT,
			language_code TEXT NOT NULL DEFAULT 'en',
			intent TEXT NOT NULL DEFAULT 'inquiry',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS settlement_terms (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			clause_title TEXT NOT NULL,
			clause_content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			version INTEGER NOT NULL DEFAULT 1,
			proposed_by TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_terms_session ON settlement_terms(session_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, case_name, status, created_at, created_by) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.CaseName, session.Status, session.CreatedAt, nullString(session.CreatedBy))
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var createdBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_name, status, created_at, created_by FROM sessions WHERE id = ?`,
		sessionID).Scan(&session.ID, &session.CaseName, &session.Status, &session.CreatedAt, &createdBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createdBy.Valid {
		session.CreatedBy = &createdBy.String
	}
	return &session, nil
}

// RatifySession ratifies a session inside one transaction so that the
// all-accepted check and the status flip see the same rows.
func (s *SQLiteStore) RatifySession(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var total, accepted int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM settlement_terms WHERE session_id = ?`,
		domain.TermStatusAccepted, sessionID).Scan(&total, &accepted)
	if err != nil {
		return false, err
	}
	if total == 0 || accepted != total {
		return false, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
		domain.SessionStatusRatified, sessionID, domain.SessionStatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, tx.Commit()
}

// whileActive guards an INSERT ... SELECT so the row only lands while its
// session is active.
const whileActive = ` WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ? AND status = ?)`

// insertWhileActive runs a guarded insert and maps "no row" to ErrForbidden.
func (s *SQLiteStore) insertWhileActive(ctx context.Context, query, sessionID string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query+whileActive, append(args, sessionID, domain.SessionStatusActive)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s is not active: %w", sessionID, domain.ErrForbidden)
	}
	return nil
}

// CreateMessage creates a new message. It fails with domain.ErrForbidden
// unless the session is active.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	return s.insertWhileActive(ctx,
		`INSERT INTO messages (id, session_id, sender_role, content_original, content_translated, language_code, intent, created_at) SELECT ?, ?, ?, ?, ?, ?, ?, ?`,
		message.SessionID,
		message.ID, message.SessionID, message.SenderRole, message.ContentOriginal, nullString(message.ContentTranslated),
		message.LanguageCode, message.Intent, message.CreatedAt)
}

const messageColumns = `id, session_id, sender_role, content_original, content_translated, language_code, intent, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var translated sql.NullString
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.SenderRole, &msg.ContentOriginal, &translated,
		&msg.LanguageCode, &msg.Intent, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if translated.Valid {
		msg.ContentTranslated = &translated.String
	}
	return &msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// GetMessages retrieves messages for a session in creation order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// AnnotateMessage stores the classifier's translation and intent.
func (s *SQLiteStore) AnnotateMessage(ctx context.Context, messageID, translated string, intent domain.Intent) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content_translated = ?, intent = ? WHERE id = ?`,
		translated, intent, messageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateTerm creates a new settlement term. It fails with
// domain.ErrForbidden unless the session is active, so a ratified session
// never gains a clause.
func (s *SQLiteStore) CreateTerm(ctx context.Context, term *domain.SettlementTerm) error {
	return s.insertWhileActive(ctx,
		`INSERT INTO settlement_terms (id, session_id, clause_title, clause_content, status, version, proposed_by, created_at, updated_at) SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?`,
		term.SessionID,
		term.ID, term.SessionID, term.ClauseTitle, term.ClauseContent, term.Status, term.Version,
		term.ProposedBy, term.CreatedAt, term.UpdatedAt)
}

const termColumns = `id, session_id, clause_title, clause_content, status, version, proposed_by, created_at, updated_at`

func scanTerm(row rowScanner) (*domain.SettlementTerm, error) {
	var term domain.SettlementTerm
	if err := row.Scan(&term.ID, &term.SessionID, &term.ClauseTitle, &term.ClauseContent, &term.Status,
		&term.Version, &term.ProposedBy, &term.CreatedAt, &term.UpdatedAt); err != nil {
		return nil, err
	}
	return &term, nil
}

// GetTerm retrieves a settlement term by ID.
func (s *SQLiteStore) GetTerm(ctx context.Context, termID string) (*domain.SettlementTerm, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+termColumns+` FROM settlement_terms WHERE id = ?`, termID)
	term, err := scanTerm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return term, err
}

// GetTerms retrieves the terms of a session in creation order.
func (s *SQLiteStore) GetTerms(ctx context.Context, sessionID string) ([]domain.SettlementTerm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+termColumns+` FROM settlement_terms WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	terms := []domain.SettlementTerm{}
	for rows.Next() {
		term, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, *term)
	}
	return terms, rows.Err()
}

// UpdateTermStatus performs a compare-and-set on status (and optionally version).
func (s *SQLiteStore) UpdateTermStatus(ctx context.Context, termID string, from, to domain.TermStatus, expectedVersion int) (*domain.SettlementTerm, error) {
	query := `UPDATE settlement_terms SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ?`
	args := []interface{}{to, time.Now().UTC(), termID, from}
	if expectedVersion > 0 {
		query += ` AND version = ?`
		args = append(args, expectedVersion)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		existing, err := s.GetTerm(ctx, termID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrVersionConflict
	}
	return s.GetTerm(ctx, termID)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
