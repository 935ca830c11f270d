package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/models"
)

// SQLiteStore provides SQLite-backed storage for credentials, leads and
// messages with WAL mode. It is thread-safe and supports concurrent access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore creates a new SQLite store with WAL mode enabled
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.NewLogger(),
	}, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS credentials (
					agent_id TEXT NOT NULL,
					provider TEXT NOT NULL,
					access_token TEXT NOT NULL DEFAULT '',
					refresh_token TEXT NOT NULL DEFAULT '',
					token_type TEXT NOT NULL DEFAULT '',
					scope TEXT NOT NULL DEFAULT '',
					expiry DATETIME,
					connected_email TEXT NOT NULL DEFAULT '',
					history_id TEXT NOT NULL DEFAULT '',
					watch_expiration DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (agent_id, provider)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_email
					ON credentials(provider, connected_email)
					WHERE connected_email != '';
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS leads (
					id TEXT PRIMARY KEY,
					agent_id TEXT NOT NULL,
					name TEXT NOT NULL DEFAULT '',
					email TEXT NOT NULL,
					source TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'new',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS lead_messages (
					id TEXT PRIMARY KEY,
					lead_id TEXT NOT NULL,
					agent_id TEXT NOT NULL,
					direction TEXT NOT NULL,
					channel TEXT NOT NULL,
					subject TEXT NOT NULL DEFAULT '',
					body TEXT NOT NULL DEFAULT '',
					provider_message_id TEXT NOT NULL,
					received_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (lead_id) REFERENCES leads(id) ON DELETE CASCADE
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_lead_messages_provider_id
					ON lead_messages(provider_message_id);
				CREATE INDEX IF NOT EXISTS idx_leads_agent_email ON leads(agent_id, email);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrStoreUnavailable{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Close shuts down the store
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const credentialColumns = `agent_id, provider, access_token, refresh_token, token_type, scope,
	expiry, connected_email, history_id, watch_expiration, created_at, updated_at`

func scanCredential(row interface{ Scan(...any) error }) (*models.Credential, error) {
	var cred models.Credential
	var expiry, watchExpiration sql.NullTime
	err := row.Scan(
		&cred.AgentID, &cred.Provider, &cred.AccessToken, &cred.RefreshToken,
		&cred.TokenType, &cred.Scope, &expiry, &cred.ConnectedEmail,
		&cred.HistoryID, &watchExpiration, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		cred.Expiry = expiry.Time
	}
	if watchExpiration.Valid {
		cred.WatchExpiration = watchExpiration.Time
	}
	return &cred, nil
}

// nullTime maps the zero time to NULL so absent expirations stay absent.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// GetCredential retrieves the credential for an agent and provider
func (s *SQLiteStore) GetCredential(agentID, provider string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+credentialColumns+`
		FROM credentials WHERE agent_id = ? AND provider = ?
	`, agentID, provider)

	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	if err != nil {
		return nil, &errors.ErrStoreUnavailable{Operation: "get credential", Err: err}
	}
	return cred, nil
}

// GetCredentialByEmail retrieves the credential routing a connected mailbox
func (s *SQLiteStore) GetCredentialByEmail(email, provider string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+credentialColumns+`
		FROM credentials WHERE connected_email = ? AND provider = ?
	`, email, provider)

	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrCredentialNotFound{Provider: provider}
	}
	if err != nil {
		return nil, &errors.ErrStoreUnavailable{Operation: "get credential by email", Err: err}
	}
	return cred, nil
}

// UpsertCredential inserts or fully replaces the credential keyed by
// (agent_id, provider). A connected_email already bound to a different agent
// fails with ErrIdentityConflict.
func (s *SQLiteStore) UpsertCredential(cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO credentials (agent_id, provider, access_token, refresh_token, token_type, scope, expiry, connected_email, history_id, watch_expiration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expiry = excluded.expiry,
			connected_email = excluded.connected_email,
			history_id = excluded.history_id,
			watch_expiration = excluded.watch_expiration,
			updated_at = excluded.updated_at
	`, cred.AgentID, cred.Provider, cred.AccessToken, cred.RefreshToken, cred.TokenType,
		cred.Scope, nullTime(cred.Expiry), cred.ConnectedEmail, cred.HistoryID, nullTime(cred.WatchExpiration), now, now)

	if err != nil {
		if isUniqueEmailViolation(err) {
			return &errors.ErrIdentityConflict{Email: cred.ConnectedEmail}
		}
		return &errors.ErrStoreUnavailable{Operation: "upsert credential", Err: err}
	}
	return nil
}

func isUniqueEmailViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "connected_email")
}

// UpdateTokens persists a refreshed access token and its expiry
func (s *SQLiteStore) UpdateTokens(agentID, provider, accessToken string, expiry time.Time) error {
	return s.updateCredential("update tokens", `
		UPDATE credentials SET access_token = ?, expiry = ?, updated_at = ?
		WHERE agent_id = ? AND provider = ?
	`, accessToken, nullTime(expiry), time.Now().UTC(), agentID, provider)
}

// UpdateCursor advances the processed-history position
func (s *SQLiteStore) UpdateCursor(agentID, provider, historyID string) error {
	return s.updateCredential("update cursor", `
		UPDATE credentials SET history_id = ?, updated_at = ?
		WHERE agent_id = ? AND provider = ?
	`, historyID, time.Now().UTC(), agentID, provider)
}

// UpdateWatch records a freshly armed push subscription
func (s *SQLiteStore) UpdateWatch(agentID, provider, historyID string, expiration time.Time) error {
	return s.updateCredential("update watch", `
		UPDATE credentials SET history_id = ?, watch_expiration = ?, updated_at = ?
		WHERE agent_id = ? AND provider = ?
	`, historyID, nullTime(expiration), time.Now().UTC(), agentID, provider)
}

// ClearConnection moves the credential to disconnected state. Token fields,
// cursor and watch state are cleared unconditionally; the row survives so the
// agent's connection history does.
func (s *SQLiteStore) ClearConnection(agentID, provider string) error {
	return s.updateCredential("clear connection", `
		UPDATE credentials
		SET access_token = '', refresh_token = '', token_type = '', scope = '',
			expiry = NULL, connected_email = '', history_id = '', watch_expiration = NULL,
			updated_at = ?
		WHERE agent_id = ? AND provider = ?
	`, time.Now().UTC(), agentID, provider)
}

func (s *SQLiteStore) updateCredential(operation, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: operation, Err: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &errors.ErrCredentialNotFound{AgentID: agentIDFromArgs(args)}
	}
	return nil
}

// agentIDFromArgs pulls the agent id out of update args for error reporting;
// it is always the second-to-last bind parameter in update statements.
func agentIDFromArgs(args []any) string {
	if len(args) >= 2 {
		if id, ok := args[len(args)-2].(string); ok {
			return id
		}
	}
	return ""
}

// DeleteCredential removes the credential row entirely
func (s *SQLiteStore) DeleteCredential(agentID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM credentials WHERE agent_id = ? AND provider = ?", agentID, provider)
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "delete credential", Err: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	return nil
}

// ListCredentials returns all credential rows
func (s *SQLiteStore) ListCredentials() ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT ` + credentialColumns + `
		FROM credentials ORDER BY agent_id, provider
	`)
	if err != nil {
		return nil, &errors.ErrStoreUnavailable{Operation: "list credentials", Err: err}
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			continue
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// Lead intake operations

// FindLeadByEmail retrieves a lead by its sender address for one agent
func (s *SQLiteStore) FindLeadByEmail(agentID, email string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lead models.Lead
	err := s.db.QueryRow(`
		SELECT id, agent_id, name, email, source, status, created_at
		FROM leads WHERE agent_id = ? AND email = ?
	`, agentID, email).Scan(&lead.ID, &lead.AgentID, &lead.Name, &lead.Email, &lead.Source, &lead.Status, &lead.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrStoreUnavailable{Operation: "find lead", Err: err}
	}
	return &lead, nil
}

// InsertLead stores a new lead
func (s *SQLiteStore) InsertLead(lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO leads (id, agent_id, name, email, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, lead.ID, lead.AgentID, lead.Name, lead.Email, lead.Source, lead.Status, time.Now().UTC())

	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "insert lead", Err: err}
	}
	return nil
}

// HasLeadMessage reports whether a provider message id was already ingested
func (s *SQLiteStore) HasLeadMessage(providerMessageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(1) FROM lead_messages WHERE provider_message_id = ?
	`, providerMessageID).Scan(&count)
	if err != nil {
		return false, &errors.ErrStoreUnavailable{Operation: "check message", Err: err}
	}
	return count > 0, nil
}

// InsertLeadMessage stores one inbound message
func (s *SQLiteStore) InsertLeadMessage(msg *models.LeadMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO lead_messages (id, lead_id, agent_id, direction, channel, subject, body, provider_message_id, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.LeadID, msg.AgentID, msg.Direction, msg.Channel, msg.Subject, msg.Body, msg.ProviderMessageID, msg.ReceivedAt, time.Now().UTC())

	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "insert message", Err: err}
	}
	return nil
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
